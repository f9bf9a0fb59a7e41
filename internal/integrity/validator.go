// Package integrity screens student requests for academic-integrity
// violations. A fixed ordered rule set classifies each input; the first
// matching rule decides, and inputs matching nothing are allowed.
package integrity

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Decision is the validator outcome for one input.
type Decision string

const (
	// DecisionAllow lets the request through untouched.
	DecisionAllow Decision = "allow"
	// DecisionFlag lets the request through but records it for review.
	DecisionFlag Decision = "flag"
	// DecisionBlock refuses the request before it reaches the model.
	DecisionBlock Decision = "block"
)

// Verdict is the result of validating one input.
type Verdict struct {
	Decision Decision
	Severity string
	Reason   string
	Rule     string
}

// Rule is one ordered policy check. Patterns are compiled
// case-insensitively.
type Rule struct {
	Name     string   `yaml:"name"`
	Pattern  string   `yaml:"pattern"`
	Decision Decision `yaml:"decision"`
	Severity string   `yaml:"severity"`
	Reason   string   `yaml:"reason"`

	re *regexp.Regexp
}

// DefaultRules returns the compiled-in policy, ordered most to least
// severe.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "solicit_completed_work",
			Pattern:  `\b(write|do|complete|finish)\s+(my|this|our|the)\s+\w{0,20}\s*(essay|assignment|homework|paper|report|project|thesis)\b`,
			Decision: DecisionBlock,
			Severity: "high",
			Reason:   "request for completed coursework",
		},
		{
			Name:     "exam_solution_request",
			Pattern:  `\b(solve|answer|give\s+me)\b.{0,40}\b(exam|test|quiz|midterm|final)\b`,
			Decision: DecisionBlock,
			Severity: "high",
			Reason:   "verbatim exam or test solution request",
		},
		{
			Name:     "answer_key_request",
			Pattern:  `\banswer\s*key\b`,
			Decision: DecisionBlock,
			Severity: "high",
			Reason:   "answer key request",
		},
		{
			Name:     "detection_evasion",
			Pattern:  `\b(avoid|beat|bypass|evade|fool|trick)\b.{0,40}\b(plagiarism|turnitin|ai\s*detect\w*|detection)\b`,
			Decision: DecisionFlag,
			Severity: "high",
			Reason:   "plagiarism or detection evasion",
		},
		{
			Name:     "bare_answer_request",
			Pattern:  `\b(just|only)\s+(give|tell)\s+me\s+the\s+answer\b`,
			Decision: DecisionFlag,
			Severity: "medium",
			Reason:   "answer-only request without engagement",
		},
		{
			Name:     "ghostwriting_offer",
			Pattern:  `\b(submit|turn\s+in|hand\s+in)\b.{0,40}\b(as\s+my\s+own|your\s+(answer|text|work))\b`,
			Decision: DecisionFlag,
			Severity: "medium",
			Reason:   "intent to submit generated work as own",
		},
	}
}

// Validator applies an ordered rule set.
type Validator struct {
	rules []Rule
}

// NewValidator compiles the given rules into a validator. Rule order is
// preserved; evaluation stops at the first match.
func NewValidator(rules []Rule) (*Validator, error) {
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		switch r.Decision {
		case DecisionFlag, DecisionBlock:
		default:
			return nil, fmt.Errorf("rule %q: decision must be flag or block, got %q", r.Name, r.Decision)
		}
		switch r.Severity {
		case "low", "medium", "high":
		default:
			return nil, fmt.Errorf("rule %q: severity must be low, medium or high, got %q", r.Name, r.Severity)
		}
		re, err := regexp.Compile("(?is)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		r.re = re
		compiled[i] = r
	}
	return &Validator{rules: compiled}, nil
}

// Validate classifies input. The first matching rule decides; no match
// means allow.
func (v *Validator) Validate(input string) Verdict {
	for _, r := range v.rules {
		if r.re.MatchString(input) {
			return Verdict{Decision: r.Decision, Severity: r.Severity, Reason: r.Reason, Rule: r.Name}
		}
	}
	return Verdict{Decision: DecisionAllow}
}

// LoadRules loads a YAML policy file of the shape {rules: [...]}. An
// empty path yields the compiled-in defaults.
func LoadRules(path string) ([]Rule, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rule file %s declares no rules", path)
	}
	return doc.Rules, nil
}
