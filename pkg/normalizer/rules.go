package normalizer

import (
	"fmt"
	"regexp"
	"strings"
)

// Action says what a rule does with its matches.
type Action int

const (
	// Remove deletes every match.
	Remove Action = iota
	// Replace substitutes every match with the rule's Replacement.
	Replace
	// DropLine discards any line that contains a match.
	DropLine
)

func (a Action) String() string {
	switch a {
	case Remove:
		return "remove"
	case Replace:
		return "replace"
	case DropLine:
		return "drop_line"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction accepts the names produced by Action.String.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "remove", "":
		return Remove, nil
	case "replace":
		return Replace, nil
	case "drop_line", "drop":
		return DropLine, nil
	}
	return 0, fmt.Errorf("unknown rule action %q", s)
}

// Rule is one entry of an ordered rule list.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Action      Action
	Replacement string
}

func (r Rule) apply(text string) string {
	switch r.Action {
	case Remove:
		return r.Pattern.ReplaceAllLiteralString(text, "")
	case Replace:
		return r.Pattern.ReplaceAllLiteralString(text, r.Replacement)
	}
	return text
}

// Rules are evaluated top to bottom: Redactions over the whole text, Noise
// over each line.
type Rules struct {
	Redactions []Rule
	Noise      []Rule
}

// EmailPlaceholder replaces every email-shaped token.
const EmailPlaceholder = "[correo]"

// DefaultRules returns the built-in redaction and noise lists.
func DefaultRules() Rules {
	return Rules{
		Redactions: []Rule{
			{
				Name:    "closings",
				Pattern: regexp.MustCompile(`(?i)(atte:|saludos cordiales|gracias|best regards|kind regards)`),
				Action:  Remove,
			},
			{
				Name:    "names",
				Pattern: regexp.MustCompile(`(?i)(juan p[ée]rez|mar[íi]a ram[íi]rez|jos[eé] gonz[aá]lez)`),
				Action:  Remove,
			},
			{
				Name:        "email",
				Pattern:     regexp.MustCompile(`[a-zA-Z0-9_.+\-]+@[a-zA-Z0-9\-]+\.[a-zA-Z0-9.\-]+`),
				Action:      Replace,
				Replacement: EmailPlaceholder,
			},
		},
		Noise: []Rule{
			{
				Name:    "reply_forward",
				Pattern: regexp.MustCompile(`(?i)^\s*(responder a todos|responder|reenviar|reply all|reply|forward)\s*$`),
				Action:  DropLine,
			},
			{
				Name:    "bracketed_email",
				Pattern: regexp.MustCompile(`<\[correo\]>`),
				Action:  DropLine,
			},
			{
				Name:    "recipient",
				Pattern: regexp.MustCompile(`(?i)\b(para|to):`),
				Action:  DropLine,
			},
			{
				Name:    "sender_trust",
				Pattern: regexp.MustCompile(`(?i)(este remitente.*no pertenece|this sender.*not.*organi[sz]ation)`),
				Action:  DropLine,
			},
			{
				Name:    "weekday",
				Pattern: regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])(lun|mar|mié|jue|vie|sáb|sab|dom|mon|tue|wed|thu|fri|sat|sun)([^\p{L}\p{N}_]|$)`),
				Action:  DropLine,
			},
			{
				Name:    "date",
				Pattern: regexp.MustCompile(`\d{2}/\d{2}/\d{4}`),
				Action:  DropLine,
			},
			{
				Name:    "time",
				Pattern: regexp.MustCompile(`(?i)\d{1,2}:\d{2} ?(am\b|pm\b|a\. ?m\.|p\. ?m\.)`),
				Action:  DropLine,
			},
			{
				Name:    "block_sender",
				Pattern: regexp.MustCompile(`(?i)(bloquear remitente|block sender)`),
				Action:  DropLine,
			},
		},
	}
}

// RuleSpec is the uncompiled form of a Rule, as read from configuration.
type RuleSpec struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Action      string `yaml:"action"`
	Replacement string `yaml:"replacement"`
}

// Compile turns specs into rules, preserving order.
func Compile(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		pattern, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, spec.Name, err)
		}
		action, err := ParseAction(spec.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, spec.Name, err)
		}
		rules = append(rules, Rule{
			Name:        spec.Name,
			Pattern:     pattern,
			Action:      action,
			Replacement: spec.Replacement,
		})
	}
	return rules, nil
}

// CompileRedactions compiles rules that rewrite matches in place. Line drops
// are rejected because redactions never see individual lines.
func CompileRedactions(specs []RuleSpec) ([]Rule, error) {
	rules, err := Compile(specs)
	if err != nil {
		return nil, err
	}
	for i, r := range rules {
		if r.Action == DropLine {
			return nil, fmt.Errorf("rule %d (%s): action %s is only valid for noise rules", i, r.Name, r.Action)
		}
	}
	return rules, nil
}

// CompileNoise compiles line filters. A missing action means drop_line; any
// other action is rejected.
func CompileNoise(specs []RuleSpec) ([]Rule, error) {
	filled := make([]RuleSpec, len(specs))
	for i, spec := range specs {
		if spec.Action == "" {
			spec.Action = DropLine.String()
		}
		filled[i] = spec
	}
	rules, err := Compile(filled)
	if err != nil {
		return nil, err
	}
	for i, r := range rules {
		if r.Action != DropLine {
			return nil, fmt.Errorf("rule %d (%s): action %s is not valid for noise rules, use drop_line", i, r.Name, r.Action)
		}
	}
	return rules, nil
}
