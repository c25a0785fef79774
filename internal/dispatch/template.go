package dispatch

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/mkravets/orderwatch/internal/model"
)

// templateContext is what a subscriber's auto-respond template sees.
type templateContext struct {
	Title     string
	Category  string
	BudgetMin string
	BudgetMax string
}

// Render fills a subscriber's auto-respond template with listing fields.
// Missing budget bounds render as an empty string so templates can write
// plain prose around them.
func Render(tmpl string, rec model.Listing) (string, error) {
	t, err := template.New("respond").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	ctx := templateContext{
		Title:     rec.Title,
		Category:  rec.Category,
		BudgetMin: budgetString(rec.BudgetMin),
		BudgetMax: budgetString(rec.BudgetMax),
	}

	var sb strings.Builder
	if err := t.Execute(&sb, ctx); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return sb.String(), nil
}

func budgetString(b *int64) string {
	if b == nil {
		return ""
	}
	return fmt.Sprintf("%d", *b)
}
