package filter

import (
	"testing"
	"time"

	"github.com/mkravets/orderwatch/internal/model"
)

func i64(v int64) *int64 { return &v }

func listing(title, desc, category, lang string, budgetMin, budgetMax *int64) model.Listing {
	return model.Listing{
		ExternalID:   "x1",
		Title:        title,
		Description:  desc,
		Category:     category,
		LanguageCode: lang,
		BudgetMin:    budgetMin,
		BudgetMax:    budgetMax,
	}.Finalize(time.Now())
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name string
		rec  model.Listing
		rule model.FilterRule
		want bool
	}{
		{
			name: "full match across all dimensions",
			rec: listing(
				"Логотип для кофейни",
				"Нужен современный логотип для новой кофейни в центре города, фирменный стиль и визитки",
				"Дизайн", "ru", i64(2000), i64(5000),
			),
			rule: model.FilterRule{
				Name:        "design_ru",
				KeywordsAny: []string{"логотип"},
				Categories:  []string{"Дизайн"},
				Languages:   []string{"ru"},
				BudgetMin:   i64(1500),
				BudgetMax:   i64(20000),
				MinWords:    10,
			},
			want: true,
		},
		{
			name: "keywords_not rejects even when keywords_any present",
			rec: listing(
				"Логотип и 3D визуализация",
				"Нужен логотип, а также 3D модель упаковки",
				"Дизайн", "ru", nil, nil,
			),
			rule: model.FilterRule{
				Name:        "no3d",
				KeywordsAny: []string{"логотип"},
				KeywordsNot: []string{"3d"},
			},
			want: false,
		},
		{
			name: "keywords_not case-insensitive",
			rec:  listing("Модель в 3D", "3D печать детали", "Инжиниринг", "ru", nil, nil),
			rule: model.FilterRule{Name: "no3d", KeywordsNot: []string{"3d"}},
			want: false,
		},
		{
			name: "keywords_not applies with empty keywords_any",
			rec:  listing("Параллакс сайт", "Верстка лендинга с параллаксом", "Сайты", "ru", nil, nil),
			rule: model.FilterRule{Name: "f", KeywordsNot: []string{"параллакс"}},
			want: false,
		},
		{
			name: "empty keywords_any passes keyword dimension",
			rec:  listing("Anything", "Some short description here", "Misc", "en", nil, nil),
			rule: model.FilterRule{Name: "f"},
			want: true,
		},
		{
			name: "language mismatch",
			rec:  listing("Logo design", "Simple logo for a cafe", "Design", "en", nil, nil),
			rule: model.FilterRule{Name: "f", Languages: []string{"ru"}},
			want: false,
		},
		{
			name: "category mismatch",
			rec:  listing("Логотип", "Описание заказа достаточно длинное", "Тексты", "ru", nil, nil),
			rule: model.FilterRule{Name: "f", Categories: []string{"Дизайн"}},
			want: false,
		},
		{
			name: "min_words boundary is inclusive",
			rec:  listing("T", "one two three four five", "C", "ru", nil, nil),
			rule: model.FilterRule{Name: "f", MinWords: 5},
			want: true,
		},
		{
			name: "too few words",
			rec:  listing("T", "one two three", "C", "ru", nil, nil),
			rule: model.FilterRule{Name: "f", MinWords: 5},
			want: false,
		},
		{
			name: "budget ranges overlap on the edge",
			rec:  listing("T", "d", "C", "ru", i64(1000), i64(1500)),
			rule: model.FilterRule{Name: "f", BudgetMin: i64(1500), BudgetMax: i64(9000)},
			want: true,
		},
		{
			name: "record budget entirely below filter",
			rec:  listing("T", "d", "C", "ru", i64(100), i64(900)),
			rule: model.FilterRule{Name: "f", BudgetMin: i64(1500)},
			want: false,
		},
		{
			name: "record budget entirely above filter",
			rec:  listing("T", "d", "C", "ru", i64(50000), nil),
			rule: model.FilterRule{Name: "f", BudgetMax: i64(20000)},
			want: false,
		},
		{
			name: "no declared budget passes bounded filter",
			rec:  listing("T", "d", "C", "ru", nil, nil),
			rule: model.FilterRule{Name: "f", BudgetMin: i64(1500), BudgetMax: i64(20000)},
			want: true,
		},
		{
			name: "keyword matching is case-insensitive in the title",
			rec:  listing("ЛОГОТИП срочно", "d", "C", "ru", nil, nil),
			rule: model.FilterRule{Name: "f", KeywordsAny: []string{"логотип"}},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Matches(tt.rec, tt.rule)
			if got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
			// Re-evaluating with the same inputs must yield the same result.
			if again := Matches(tt.rec, tt.rule); again != got {
				t.Errorf("Matches() not deterministic: first %v, second %v", got, again)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    model.FilterRule
		wantErr bool
	}{
		{"valid minimal", model.FilterRule{Name: "f"}, false},
		{"missing name", model.FilterRule{}, true},
		{"blank name", model.FilterRule{Name: "   "}, true},
		{"negative min_words", model.FilterRule{Name: "f", MinWords: -1}, true},
		{"negative budget_min", model.FilterRule{Name: "f", BudgetMin: i64(-5)}, true},
		{"inverted budget range", model.FilterRule{Name: "f", BudgetMin: i64(100), BudgetMax: i64(50)}, true},
		{"empty keyword term", model.FilterRule{Name: "f", KeywordsAny: []string{"ok", " "}}, true},
		{"empty exclusion term", model.FilterRule{Name: "f", KeywordsNot: []string{""}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rule)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
