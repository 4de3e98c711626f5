// Package normalizer cleans raw OCR output of a submitted request: it finds
// the "[tag] title" header, redacts personal data and drops mail-client
// noise, leaving a single-paragraph body.
package normalizer

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xhad/normativa/internal/models"
)

var (
	headerPattern  = regexp.MustCompile(`\[(.*?)\]\s*(.+)`)
	lineBreaks     = regexp.MustCompile(`\r\n|[\n\r\v\f\x{1c}\x{1d}\x{1e}\x{85}\x{2028}\x{2029}]`)
	whitespaceRuns = regexp.MustCompile(`[\s\v\p{Z}\x{85}]{2,}`)
)

const (
	// Lines whose trimmed length does not exceed this are OCR debris.
	minLineLength = 2
	// Upper bound on cleaning passes; the default rules settle in two.
	maxCleanPasses = 16
)

// Header is the result of header detection. Matched holds the span of the
// line that produced it, from the opening bracket to the end of the line.
type Header struct {
	Origin  string
	Title   string
	Matched string
	Found   bool
}

// ExtractHeader scans lines top to bottom and returns the first
// "[tag] rest-of-line" match, or the default origin and title.
func ExtractHeader(text string) Header {
	for _, line := range strings.Split(text, "\n") {
		m := headerPattern.FindStringSubmatchIndex(line)
		if m == nil {
			continue
		}
		return Header{
			Origin:  strings.TrimSpace(line[m[2]:m[3]]),
			Title:   strings.TrimSpace(line[m[4]:m[5]]),
			Matched: line[m[0]:m[1]],
			Found:   true,
		}
	}
	return Header{Origin: models.DefaultOrigin, Title: models.DefaultTitle}
}

// Normalizer applies an ordered rule list. It holds no mutable state and is
// safe for concurrent use.
type Normalizer struct {
	rules Rules
}

func New(rules Rules) *Normalizer {
	return &Normalizer{rules: rules}
}

// NewDefault uses DefaultRules.
func NewDefault() *Normalizer {
	return New(DefaultRules())
}

// Normalize extracts the header and cleans the body of raw.
func (n *Normalizer) Normalize(raw string) (Header, string) {
	header := ExtractHeader(raw)
	return header, n.Clean(raw, header)
}

// Clean runs redaction, noise filtering and whitespace collapse until the
// text stops changing, so cleaning an already clean body is a no-op.
func (n *Normalizer) Clean(text string, header Header) string {
	current := n.pass(text, header)
	for i := 1; i < maxCleanPasses; i++ {
		next := n.pass(current, header)
		if next == current {
			break
		}
		current = next
	}
	return current
}

func (n *Normalizer) pass(text string, header Header) string {
	text = n.redact(text, header)
	text = n.filterNoise(text)
	return collapseWhitespace(text)
}

func (n *Normalizer) redact(text string, header Header) string {
	if header.Found && header.Origin != "" && header.Title != "" {
		text = strings.ReplaceAll(text, "["+header.Origin+"] "+header.Title, "")
		if header.Matched != "" {
			text = strings.ReplaceAll(text, header.Matched, "")
		}
	}
	for _, rule := range n.rules.Redactions {
		text = rule.apply(text)
	}
	return text
}

func (n *Normalizer) filterNoise(text string) string {
	lines := lineBreaks.Split(text, -1)
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if utf8.RuneCountInString(strings.TrimSpace(line)) <= minLineLength {
			continue
		}
		if n.isNoise(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}

func (n *Normalizer) isNoise(line string) bool {
	for _, rule := range n.rules.Noise {
		if rule.Action == DropLine && rule.Pattern.MatchString(line) {
			return true
		}
	}
	return false
}

func collapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(text, " "))
}
