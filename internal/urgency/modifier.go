package urgency

import (
	"strings"
	"unicode"
)

// Category represents the kitchen-routing class of a free-text modifier.
type Category string

const (
	CategoryAllergy      Category = "allergy"
	CategoryRemoval      Category = "removal"
	CategoryAddition     Category = "addition"
	CategorySubstitution Category = "substitution"
	CategoryTemperature  Category = "temperature"
	CategoryDefault      Category = "default"
)

func (c Category) String() string {
	return string(c)
}

// categoryRules are evaluated strictly in order and the first match wins.
// Allergy must stay first: a modifier that mentions an allergy routes as an
// allergy no matter what else it says, because a missed allergy flag is a
// safety incident, not a presentation bug.
var categoryRules = []struct {
	category Category
	words    []string
	phrases  []string
}{
	{
		category: CategoryAllergy,
		words:    []string{"allergy", "allergies", "allergic", "allergen", "allergens", "celiac", "anaphylaxis", "intolerance", "intolerant"},
		phrases:  []string{"food allergy"},
	},
	{
		category: CategoryRemoval,
		words:    []string{"no", "without", "remove", "removed", "omit", "minus", "none", "86"},
		phrases:  []string{"hold the"},
	},
	{
		category: CategoryAddition,
		words:    []string{"extra", "add", "added", "additional", "double", "more", "heavy"},
	},
	{
		category: CategorySubstitution,
		words:    []string{"sub", "substitute", "substituted", "swap", "replace", "instead"},
	},
	{
		category: CategoryTemperature,
		words:    []string{"hot", "cold", "warm", "iced", "chilled"},
		phrases:  []string{"room temperature", "room temp"},
	},
}

// ClassifyModifier maps a free-text modifier onto its routing category.
// Matching is case-insensitive and token-based, so "jalapeno" never trips
// the "no" rule.
func ClassifyModifier(text string) Category {
	normalized := strings.ToLower(text)
	tokens := tokenize(normalized)
	for _, rule := range categoryRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(normalized, phrase) {
				return rule.category
			}
		}
		for _, word := range rule.words {
			if _, ok := tokens[word]; ok {
				return rule.category
			}
		}
	}
	return CategoryDefault
}

// ClassifyModifiers returns the highest-priority category across a whole
// modifier list; an empty list is the default category.
func ClassifyModifiers(modifiers []string) Category {
	best := CategoryDefault
	bestRank := len(categoryRules)
	for _, m := range modifiers {
		c := ClassifyModifier(m)
		if r := rank(c); r < bestRank {
			best = c
			bestRank = r
		}
	}
	return best
}

func rank(c Category) int {
	for i, rule := range categoryRules {
		if rule.category == c {
			return i
		}
	}
	return len(categoryRules)
}

func tokenize(s string) map[string]struct{} {
	set := make(map[string]struct{})
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
