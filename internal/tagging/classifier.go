package tagging

import "strings"

// CategoryFallback is returned when no category rule matches.
const CategoryFallback = "uncategorized"

// CategoryRule is one predicate→category pair. Rules are evaluated in
// declaration order; the first match wins.
type CategoryRule struct {
	Name     string
	Category string
	Match    func(tags []string, s Snapshot) bool
}

// defaultCategories is the built-in ordered category table.
var defaultCategories = []CategoryRule{
	{
		Name:     "sports",
		Category: "Sports",
		Match: func(_ []string, s Snapshot) bool {
			return strings.Contains(s.Description, "Sports")
		},
	},
	{
		Name:     "feature-length",
		Category: "Feature-length",
		Match: func(_ []string, s Snapshot) bool {
			return s.Metadata != nil && s.Metadata.Duration > 3600
		},
	},
	{
		Name:     "action",
		Category: "Action",
		Match: func(tags []string, s Snapshot) bool {
			return hasTag(tags, "Action") || strings.Contains(s.Description, "Action")
		},
	},
	{
		Name:     "documentary",
		Category: "Documentary",
		Match: func(_ []string, s Snapshot) bool {
			return strings.Contains(s.Description, "Documentary")
		},
	},
}

// Classifier maps tags and descriptions to a single category label.
type Classifier struct {
	rules []CategoryRule
}

// NewClassifier returns a Classifier with the built-in category table.
func NewClassifier() *Classifier {
	return &Classifier{rules: defaultCategories}
}

// Classify returns the first matching category, or CategoryFallback.
// Deterministic: declaration order is the tie-break.
func (c *Classifier) Classify(tags []string, s Snapshot) string {
	for _, r := range c.rules {
		if r.Match(tags, s) {
			return r.Category
		}
	}
	return CategoryFallback
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
