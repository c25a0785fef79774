package model

// FilterRule is a named rule set owned by exactly one subscriber. The zero
// value of any field means "no constraint on that dimension". Validation
// happens at creation time (filter.Validate); the match path assumes a
// well-formed rule.
type FilterRule struct {
	Name        string   `json:"name"`
	KeywordsAny []string `json:"keywords_any,omitempty"`
	KeywordsNot []string `json:"keywords_not,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	BudgetMin   *int64   `json:"budget_min,omitempty"`
	BudgetMax   *int64   `json:"budget_max,omitempty"`
	MinWords    int      `json:"min_words,omitempty"`
}

// Subscriber is an end user with filters and an optional auto-respond template.
type Subscriber struct {
	ID       int64  // chat-platform user id
	Name     string
	ChatID   int64  // delivery target for the notifier
	Filters  []FilterRule
	Template string // auto-respond template text; empty = notify only
}

// HasTemplate reports whether auto-respond is configured for this subscriber.
func (s Subscriber) HasTemplate() bool {
	return s.Template != ""
}
