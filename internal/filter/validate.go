package filter

import (
	"strings"

	"github.com/mkravets/orderwatch/internal/model"
)

// Validate rejects malformed rules at creation time so Matches never has a
// failure mode. Returns a *model.FilterValidationError describing the first
// problem found.
func Validate(rule model.FilterRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return &model.FilterValidationError{Name: rule.Name, Reason: "name is required"}
	}
	if rule.MinWords < 0 {
		return &model.FilterValidationError{Name: rule.Name, Reason: "min_words must not be negative"}
	}
	if rule.BudgetMin != nil && *rule.BudgetMin < 0 {
		return &model.FilterValidationError{Name: rule.Name, Reason: "budget_min must not be negative"}
	}
	if rule.BudgetMax != nil && *rule.BudgetMax < 0 {
		return &model.FilterValidationError{Name: rule.Name, Reason: "budget_max must not be negative"}
	}
	if rule.BudgetMin != nil && rule.BudgetMax != nil && *rule.BudgetMin > *rule.BudgetMax {
		return &model.FilterValidationError{Name: rule.Name, Reason: "budget_min exceeds budget_max"}
	}
	for _, kw := range rule.KeywordsAny {
		if strings.TrimSpace(kw) == "" {
			return &model.FilterValidationError{Name: rule.Name, Reason: "keywords_any contains an empty term"}
		}
	}
	for _, kw := range rule.KeywordsNot {
		if strings.TrimSpace(kw) == "" {
			return &model.FilterValidationError{Name: rule.Name, Reason: "keywords_not contains an empty term"}
		}
	}
	return nil
}
