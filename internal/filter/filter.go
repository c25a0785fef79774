package filter

import (
	"strings"

	"github.com/mkravets/orderwatch/internal/model"
)

// Matches evaluates a subscriber rule against a listing. Pure and total: no
// side effects, deterministic, and it assumes the rule passed Validate at
// creation time. Checks run cheapest-first and short-circuit on failure.
//
// Matching is case-insensitive substring, locale-agnostic (no stemming).
// A listing with no declared budget is treated as unbounded and therefore
// intersects any filter bounds — recall over precision, by policy.
func Matches(rec model.Listing, rule model.FilterRule) bool {
	if len(rule.Languages) > 0 && !containsFold(rule.Languages, rec.LanguageCode) {
		return false
	}

	if len(rule.Categories) > 0 && !containsFold(rule.Categories, rec.Category) {
		return false
	}

	if rec.WordCount < rule.MinWords {
		return false
	}

	if !budgetsOverlap(rec.BudgetMin, rec.BudgetMax, rule.BudgetMin, rule.BudgetMax) {
		return false
	}

	text := strings.ToLower(rec.Title + " " + rec.Description)

	// KeywordsNot applies even when KeywordsAny is empty.
	for _, kw := range rule.KeywordsNot {
		if strings.Contains(text, strings.ToLower(kw)) {
			return false
		}
	}

	if len(rule.KeywordsAny) > 0 {
		matched := false
		for _, kw := range rule.KeywordsAny {
			if strings.Contains(text, strings.ToLower(kw)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// budgetsOverlap checks that [recMin, recMax] intersects [ruleMin, ruleMax],
// with nil meaning unbounded on that side. Bounds are inclusive.
func budgetsOverlap(recMin, recMax, ruleMin, ruleMax *int64) bool {
	if ruleMin != nil && recMax != nil && *recMax < *ruleMin {
		return false
	}
	if ruleMax != nil && recMin != nil && *recMin > *ruleMax {
		return false
	}
	return true
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
