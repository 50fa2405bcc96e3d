// Package tagging applies declarative rules to analyzed videos: tag rules
// accumulate a set of labels, category rules pick a single classification.
// Both evaluators are pure functions of their inputs.
package tagging

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/vidsift/vidsift/internal/probe"
)

// Snapshot is the read-only view of a record that rules evaluate against.
// Metadata may be nil; rules with unmet preconditions simply do not match.
type Snapshot struct {
	Metadata    *probe.Metadata
	Description string
}

// Rule is one predicate→tag pair.
type Rule struct {
	Name  string
	Tag   string
	Match func(Snapshot) bool
}

// CustomRule is a user-supplied keyword rule loaded from JSON: the tag is
// applied when the keyword appears in the model's description.
type CustomRule struct {
	Keyword string `json:"keyword"`
	Tag     string `json:"tag"`
}

// LoadCustomRules reads a JSON array of keyword rules.
func LoadCustomRules(path string) ([]CustomRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag rules: %w", err)
	}
	var rules []CustomRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse tag rules %s: %w", path, err)
	}
	for i, r := range rules {
		if r.Keyword == "" || r.Tag == "" {
			return nil, fmt.Errorf("tag rule %d: keyword and tag are both required", i)
		}
	}
	return rules, nil
}

// defaultRules is the built-in rule table.
var defaultRules = []Rule{
	{
		Name: "high-fps",
		Tag:  "High-FPS",
		Match: func(s Snapshot) bool {
			return s.Metadata != nil && s.Metadata.FPS > 30
		},
	},
	{
		Name: "hd",
		Tag:  "HD",
		Match: func(s Snapshot) bool {
			return s.Metadata != nil && s.Metadata.Width >= 1920
		},
	},
	{
		Name: "subtitled",
		Tag:  "Subtitled",
		Match: func(s Snapshot) bool {
			return s.Metadata != nil && s.Metadata.HasSubtitle
		},
	},
	keywordRule("action", "Action", "Action"),
	keywordRule("water", "Water-related content", "Water"),
}

func keywordRule(name, tag, keyword string) Rule {
	return Rule{
		Name: name,
		Tag:  tag,
		Match: func(s Snapshot) bool {
			return strings.Contains(s.Description, keyword)
		},
	}
}

// Tagger evaluates the built-in rule table plus any custom keyword rules.
type Tagger struct {
	rules []Rule
}

// NewTagger builds a Tagger from the default table and custom rules.
func NewTagger(custom []CustomRule) *Tagger {
	rules := make([]Rule, 0, len(defaultRules)+len(custom))
	rules = append(rules, defaultRules...)
	for _, c := range custom {
		rules = append(rules, keywordRule("custom:"+c.Keyword, c.Tag, c.Keyword))
	}
	return &Tagger{rules: rules}
}

// Apply returns the tag set for the snapshot, sorted for reproducibility.
// Tags accumulate via union, so rule order never affects the result, and a
// rule that cannot evaluate simply contributes nothing.
func (t *Tagger) Apply(s Snapshot) []string {
	seen := make(map[string]bool)
	tags := []string{}
	for _, r := range t.rules {
		if r.Match(s) && !seen[r.Tag] {
			seen[r.Tag] = true
			tags = append(tags, r.Tag)
		}
	}
	sort.Strings(tags)
	return tags
}
