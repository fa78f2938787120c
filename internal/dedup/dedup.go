// Package dedup collapses the aggregated corpus by record identity. Records
// merge in two phases, order matters: first by normalized DOI, then by
// normalized title for whatever remains. Each merge keeps the
// highest-quality duplicate and rewrites its provenance to name every
// contributing source.
package dedup

import (
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/observability"
)

// QualityWeights tunes the completeness score used to pick a survivor among
// duplicates. The weighting is a heuristic policy, not a fixed law.
type QualityWeights struct {
	Abstract int
	Authors  int
	DOI      int
}

// DefaultWeights rewards each of abstract, authors, and DOI equally.
var DefaultWeights = QualityWeights{Abstract: 1, Authors: 1, DOI: 1}

// Stats reports one deduplication pass.
type Stats struct {
	InitialCount int `json:"initial_count"`
	FinalCount   int `json:"final_count"`
	DOIRemoved   int `json:"doi_removed"`
	TitleRemoved int `json:"title_removed"`
}

// Deduplicator merges duplicate records across sources.
type Deduplicator struct {
	weights QualityWeights
	log     zerolog.Logger
	metrics *observability.Metrics
}

// New creates a Deduplicator with the given weights. metrics may be nil.
func New(weights QualityWeights, logger zerolog.Logger, metrics *observability.Metrics) *Deduplicator {
	return &Deduplicator{weights: weights, log: logger, metrics: metrics}
}

// Deduplicate runs both merge phases and returns the reduced record set
// with statistics. Input order is preserved: each surviving record keeps
// the position of its group's first occurrence. The input slice is not
// modified; helper values (normalized keys, scores) never appear in the
// output.
func (d *Deduplicator) Deduplicate(records []domain.Record) ([]domain.Record, Stats) {
	stats := Stats{InitialCount: len(records)}

	afterDOI := d.mergeBy(records, func(r domain.Record) string {
		return domain.NormalizeDOI(r.DOI)
	})
	stats.DOIRemoved = len(records) - len(afterDOI)

	afterTitle := d.mergeBy(afterDOI, func(r domain.Record) string {
		return normalizeTitle(r.Title)
	})
	stats.TitleRemoved = len(afterDOI) - len(afterTitle)

	stats.FinalCount = len(afterTitle)
	if d.metrics != nil {
		d.metrics.RecordsDeduplicated.WithLabelValues("doi").Add(float64(stats.DOIRemoved))
		d.metrics.RecordsDeduplicated.WithLabelValues("title").Add(float64(stats.TitleRemoved))
	}
	d.log.Info().
		Int("initial", stats.InitialCount).
		Int("final", stats.FinalCount).
		Int("doi_removed", stats.DOIRemoved).
		Int("title_removed", stats.TitleRemoved).
		Msg("deduplication finished")

	return afterTitle, stats
}

// mergeBy groups records by the given key and keeps one survivor per group.
// Records whose key is empty never merge. The survivor is the
// highest-scoring record, ties broken by first-seen order, and its Archive
// field is rewritten to the union of all contributing sources in order of
// first appearance.
func (d *Deduplicator) mergeBy(records []domain.Record, keyFn func(domain.Record) string) []domain.Record {
	type group struct {
		survivor  domain.Record
		bestScore int
		sources   []string
		position  int
		members   int
	}

	groups := make(map[string]*group)
	out := make([]domain.Record, 0, len(records))

	for _, r := range records {
		key := keyFn(r)
		if key == "" {
			out = append(out, r)
			continue
		}

		score := d.Score(r)
		g, ok := groups[key]
		if !ok {
			out = append(out, r) // placeholder, rewritten below
			groups[key] = &group{
				survivor:  r,
				bestScore: score,
				sources:   r.ArchiveSources(),
				position:  len(out) - 1,
				members:   1,
			}
			continue
		}

		g.members++
		g.sources = append(g.sources, r.ArchiveSources()...)
		if score > g.bestScore {
			g.survivor = r
			g.bestScore = score
		}
	}

	for _, g := range groups {
		if g.members == 1 {
			continue // nothing merged, provenance stays as collected
		}
		merged := g.survivor
		merged.Archive = domain.MergeArchives(g.sources)
		out[g.position] = merged
	}

	return out
}

// Score computes a record's completeness score: one weight per non-missing
// abstract, author list, and DOI.
func (d *Deduplicator) Score(r domain.Record) int {
	score := 0
	if !domain.IsMissing(r.Abstract) {
		score += d.weights.Abstract
	}
	if !domain.IsMissing(r.Authors) {
		score += d.weights.Authors
	}
	if !domain.IsMissing(r.DOI) {
		score += d.weights.DOI
	}
	return score
}

// normalizeTitle produces the title merge key: lowercased, punctuation
// stripped, whitespace collapsed. Missing titles yield an empty key and are
// never grouped.
func normalizeTitle(title string) string {
	if domain.IsMissing(title) {
		return ""
	}

	var b strings.Builder
	b.Grow(len(title))
	lastSpace := true
	for _, c := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(c) || unicode.IsDigit(c):
			b.WriteRune(c)
			lastSpace = false
		case unicode.IsSpace(c):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
		// Punctuation drops entirely.
	}
	return strings.TrimSpace(b.String())
}
