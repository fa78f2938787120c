package quality

import (
	"fmt"

	"github.com/scilex/scilex/internal/domain"
)

// RecordScore ties a record to its graded abstract score.
type RecordScore struct {
	Record domain.Record
	Score  *Score
}

// ValidationStats summarizes a batch grading pass.
type ValidationStats struct {
	Total        int     `json:"total"`
	Truncated    int     `json:"truncated"`
	AverageScore float64 `json:"average_score"`
}

// ValidateRecords grades every record's abstract and returns the scores with
// batch statistics.
func (v *Validator) ValidateRecords(records []domain.Record) ([]RecordScore, ValidationStats) {
	scores := make([]RecordScore, 0, len(records))
	stats := ValidationStats{Total: len(records)}

	sum := 0
	for _, rec := range records {
		score := v.Validate(rec.Abstract)
		if score.hasIssue("TRUNCATED") {
			stats.Truncated++
		}
		sum += score.Value()
		scores = append(scores, RecordScore{Record: rec, Score: score})
	}
	if len(records) > 0 {
		stats.AverageScore = float64(sum) / float64(len(records))
	}
	return scores, stats
}

// FilterByAbstractQuality keeps the records whose abstract is acceptable at
// the validator's configured minimum score.
func (v *Validator) FilterByAbstractQuality(records []domain.Record) []domain.Record {
	kept := make([]domain.Record, 0, len(records))
	for _, rec := range records {
		if v.Validate(rec.Abstract).IsAcceptable(v.cfg.MinScore) {
			kept = append(kept, rec)
		}
	}
	return kept
}

// Filters is the structural pass/fail gate applied before export. Checks run
// in declaration order and the first failing check names the rejection.
type Filters struct {
	RequireDOI        bool
	RequireAbstract   bool
	MinAbstractWords  int
	RequireYear       bool
	YearMin           int
	YearMax           int
	RequireOpenAccess bool
	MinAuthors        int
}

// Passes applies the structural checks to one record. It returns false with
// the reason of the first failing check.
func (f Filters) Passes(rec domain.Record) (bool, string) {
	if f.RequireDOI && domain.IsMissing(rec.DOI) {
		return false, "missing DOI"
	}
	if f.RequireAbstract && domain.IsMissing(rec.Abstract) {
		return false, "missing abstract"
	}
	if f.MinAbstractWords > 0 {
		if domain.IsMissing(rec.Abstract) || wordCount(rec.Abstract) < f.MinAbstractWords {
			return false, fmt.Sprintf("abstract shorter than %d words", f.MinAbstractWords)
		}
	}
	if f.RequireYear || f.YearMin > 0 || f.YearMax > 0 {
		year := rec.Year()
		if f.RequireYear && year == 0 {
			return false, "missing publication year"
		}
		if year != 0 {
			if f.YearMin > 0 && year < f.YearMin {
				return false, fmt.Sprintf("published before %d", f.YearMin)
			}
			if f.YearMax > 0 && year > f.YearMax {
				return false, fmt.Sprintf("published after %d", f.YearMax)
			}
		}
	}
	if f.RequireOpenAccess && domain.IsMissing(rec.PDFURL) {
		return false, "no open access PDF"
	}
	if f.MinAuthors > 0 && rec.AuthorCount() < f.MinAuthors {
		return false, fmt.Sprintf("fewer than %d authors", f.MinAuthors)
	}
	return true, ""
}

// Apply filters a batch and reports how many records each check rejected.
func (f Filters) Apply(records []domain.Record) ([]domain.Record, map[string]int) {
	kept := make([]domain.Record, 0, len(records))
	rejected := make(map[string]int)
	for _, rec := range records {
		ok, reason := f.Passes(rec)
		if !ok {
			rejected[reason]++
			continue
		}
		kept = append(kept, rec)
	}
	return kept, rejected
}

func wordCount(s string) int {
	n := 0
	inWord := false
	for _, c := range s {
		if c == ' ' || c == '\t' || c == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}
