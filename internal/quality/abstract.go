// Package quality grades and filters records by structural completeness.
// Abstract quality is a graded score with issue deductions; the structural
// filters are a separate pass/fail gate.
package quality

import (
	"regexp"
	"strings"
)

// Severity classifies an abstract quality issue.
type Severity string

const (
	// SeverityCritical deducts 40 points and makes the abstract unacceptable.
	SeverityCritical Severity = "CRITICAL"
	// SeverityWarning deducts 15 points.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo deducts 5 points.
	SeverityInfo Severity = "INFO"
)

// Deduction points per severity.
const (
	criticalDeduction = 40
	warningDeduction  = 15
	infoDeduction     = 5
)

// Issue is one detected problem with an abstract.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// Score is the graded quality of one abstract. The score starts at 100 and
// each issue deducts by severity, floored at zero.
type Score struct {
	Issues []Issue `json:"issues"`
}

// Value computes the numeric score.
func (s *Score) Value() int {
	score := 100
	for _, issue := range s.Issues {
		switch issue.Severity {
		case SeverityCritical:
			score -= criticalDeduction
		case SeverityWarning:
			score -= warningDeduction
		case SeverityInfo:
			score -= infoDeduction
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

// HasCriticalIssues reports whether any critical issue was detected.
func (s *Score) HasCriticalIssues() bool {
	for _, issue := range s.Issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// IsAcceptable reports whether the abstract passes: no critical issue and a
// score at or above minScore.
func (s *Score) IsAcceptable(minScore int) bool {
	return !s.HasCriticalIssues() && s.Value() >= minScore
}

// hasIssue reports whether an issue with the given code was detected.
func (s *Score) hasIssue(code string) bool {
	for _, issue := range s.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// ValidatorConfig tunes the abstract detectors.
type ValidatorConfig struct {
	// MinWords flags abstracts shorter than this as too short. Default 30.
	MinWords int

	// MaxWords flags abstracts longer than this as too long. 0 disables
	// the upper check.
	MaxWords int

	// CheckLanguage enables the function-word language heuristic.
	CheckLanguage bool

	// ExpectedLanguage names the expected language. The heuristic only
	// applies to "english".
	ExpectedLanguage string

	// MinScore is the acceptance threshold. Default 50.
	MinScore int
}

// DefaultValidatorConfig returns the standard detector tuning.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinWords:         30,
		MaxWords:         0,
		CheckLanguage:    true,
		ExpectedLanguage: "english",
		MinScore:         50,
	}
}

// Validator grades abstracts. Detectors run in a fixed sequence; each
// contributes at most one issue (its first matching rule), and every
// detector's finding is recorded.
type Validator struct {
	cfg ValidatorConfig

	tagPattern *regexp.Regexp
}

// NewValidator creates a Validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.MinWords <= 0 {
		cfg.MinWords = 30
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 50
	}
	return &Validator{
		cfg:        cfg,
		tagPattern: regexp.MustCompile(`<[^>]+>`),
	}
}

// Validate grades one abstract.
func (v *Validator) Validate(abstract string) *Score {
	score := &Score{}

	missing := isMissingAbstract(abstract)

	if !missing {
		if issue := v.detectTruncation(abstract); issue != nil {
			score.Issues = append(score.Issues, *issue)
		}
	}
	if issue := v.detectLength(abstract, missing); issue != nil {
		score.Issues = append(score.Issues, *issue)
	}
	if !missing {
		if issue := v.detectBoilerplate(abstract); issue != nil {
			score.Issues = append(score.Issues, *issue)
		}
		if issue := v.detectLanguage(abstract); issue != nil {
			score.Issues = append(score.Issues, *issue)
		}
		if issue := v.detectFormatting(abstract); issue != nil {
			score.Issues = append(score.Issues, *issue)
		}
	}

	return score
}

func isMissingAbstract(abstract string) bool {
	trimmed := strings.TrimSpace(abstract)
	return trimmed == "" || trimmed == "NA"
}

// truncationMarkers indicate a cut-off abstract wherever they appear.
var truncationMarkers = []string{"[more]", "[continued]", "[truncated]", "(more)", "…"}

// trailingConjunctions are words an abstract cannot sensibly end on.
var trailingConjunctions = map[string]bool{
	"and": true, "or": true, "but": true, "with": true,
	"the": true, "of": true, "in": true, "to": true, "a": true,
}

func (v *Validator) detectTruncation(abstract string) *Issue {
	trimmed := strings.TrimSpace(abstract)
	lower := strings.ToLower(trimmed)

	if strings.HasSuffix(trimmed, "...") {
		return &Issue{Severity: SeverityCritical, Code: "TRUNCATED", Message: "abstract ends with ellipsis"}
	}
	for _, marker := range truncationMarkers {
		if strings.Contains(lower, marker) {
			return &Issue{Severity: SeverityCritical, Code: "TRUNCATED", Message: "abstract contains truncation marker " + marker}
		}
	}
	if strings.HasSuffix(lower, "et al") || strings.HasSuffix(lower, "et al.") {
		return &Issue{Severity: SeverityCritical, Code: "TRUNCATED", Message: "abstract ends mid-citation"}
	}

	if strings.HasSuffix(trimmed, ",") {
		return &Issue{Severity: SeverityWarning, Code: "TRAILING_INCOMPLETE", Message: "abstract ends with a comma"}
	}
	words := strings.Fields(lower)
	if len(words) > 0 {
		last := strings.Trim(words[len(words)-1], ".,;:")
		if trailingConjunctions[last] && !strings.HasSuffix(trimmed, ".") {
			return &Issue{Severity: SeverityWarning, Code: "TRAILING_INCOMPLETE", Message: "abstract ends on a conjunction"}
		}
	}

	return nil
}

func (v *Validator) detectLength(abstract string, missing bool) *Issue {
	if missing {
		return &Issue{Severity: SeverityCritical, Code: "MISSING", Message: "abstract is missing or empty"}
	}

	count := len(strings.Fields(abstract))
	if count < v.cfg.MinWords {
		return &Issue{Severity: SeverityWarning, Code: "TOO_SHORT", Message: "abstract below minimum word count"}
	}
	if v.cfg.MaxWords > 0 && count > v.cfg.MaxWords {
		return &Issue{Severity: SeverityWarning, Code: "TOO_LONG", Message: "abstract above maximum word count"}
	}
	return nil
}

// boilerplatePhrases are generic fillers that carry no abstract content.
var boilerplatePhrases = []string{
	"no abstract available",
	"abstract not available",
	"all rights reserved",
	"copyright ©",
	"© copyright",
}

// boilerplateOpeners are generic openers flagged only at the start.
var boilerplateOpeners = []string{
	"this paper presents",
	"this article presents",
	"in this paper we present",
}

func (v *Validator) detectBoilerplate(abstract string) *Issue {
	lower := strings.ToLower(strings.TrimSpace(abstract))

	if lower == "abstract:" || lower == "abstract" {
		return &Issue{Severity: SeverityWarning, Code: "BOILERPLATE", Message: "abstract is a bare label"}
	}
	for _, phrase := range boilerplatePhrases {
		if strings.Contains(lower, phrase) {
			return &Issue{Severity: SeverityWarning, Code: "BOILERPLATE", Message: "abstract contains boilerplate: " + phrase}
		}
	}
	for _, opener := range boilerplateOpeners {
		if strings.HasPrefix(lower, opener) {
			return &Issue{Severity: SeverityWarning, Code: "BOILERPLATE", Message: "abstract opens with boilerplate: " + opener}
		}
	}
	return nil
}

// englishFunctionWords is the closed-class vocabulary used by the language
// heuristic. Real English prose keeps their ratio well above the threshold.
var englishFunctionWords = map[string]bool{
	"the": true, "of": true, "and": true, "a": true, "to": true,
	"in": true, "is": true, "that": true, "for": true, "with": true,
	"as": true, "are": true, "on": true, "by": true, "this": true,
	"be": true, "an": true, "we": true, "from": true, "which": true,
	"it": true, "at": true, "or": true, "was": true, "were": true,
}

const languageWordThreshold = 10
const functionWordRatioMin = 0.08

func (v *Validator) detectLanguage(abstract string) *Issue {
	if !v.cfg.CheckLanguage || strings.ToLower(v.cfg.ExpectedLanguage) != "english" {
		return nil
	}

	words := strings.Fields(strings.ToLower(abstract))
	if len(words) < languageWordThreshold {
		return nil
	}

	hits := 0
	for _, w := range words {
		if englishFunctionWords[strings.Trim(w, ".,;:()")] {
			hits++
		}
	}
	if float64(hits)/float64(len(words)) < functionWordRatioMin {
		return &Issue{Severity: SeverityInfo, Code: "NON_ENGLISH", Message: "abstract does not look like English text"}
	}
	return nil
}

const specialCharDensityMax = 0.05

func (v *Validator) detectFormatting(abstract string) *Issue {
	if v.tagPattern.MatchString(abstract) {
		return &Issue{Severity: SeverityWarning, Code: "HTML_MARKUP", Message: "abstract contains markup tags"}
	}

	if len(abstract) > 0 {
		special := 0
		for _, c := range abstract {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			case c == ' ', c == '.', c == ',', c == ';', c == ':', c == '-',
				c == '(', c == ')', c == '\'', c == '"', c == '?', c == '!':
			default:
				special++
			}
		}
		if float64(special)/float64(len([]rune(abstract))) > specialCharDensityMax {
			return &Issue{Severity: SeverityWarning, Code: "SPECIAL_CHARS", Message: "abstract has high special character density"}
		}
	}

	if hasRepeatedRun(abstract) {
		return &Issue{Severity: SeverityInfo, Code: "REPEATED_CHARS", Message: "abstract contains long repeated character runs"}
	}
	return nil
}

// hasRepeatedRun reports whether s contains a run of 6 or more identical
// characters. Go's RE2 regexp has no backreferences, so the equivalent
// pattern `(.)\1{5,}` cannot be expressed as a regexp.
func hasRepeatedRun(s string) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run >= 6 {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}
