// Package aggregate composes the query matrix from configuration and walks
// persisted page artifacts back into one combined record set.
package aggregate

import (
	"github.com/scilex/scilex/internal/domain"
)

// ComposeQueries builds the query matrix for one source: the cartesian
// product of keyword combinations and years, with stable query IDs.
//
// With one keyword group, each keyword forms its own combination. With two
// groups, every (first, second) pair forms a combination with AND semantics
// across the pair. IDs increment in (combination, year) order, so the same
// configuration always yields the same IDs. The function is pure; the
// aggregator recomputes it from config instead of storing keyword tags
// per record.
func ComposeQueries(source string, groupOne, groupTwo []string, years []int) []domain.Query {
	combos := composeKeywordCombos(groupOne, groupTwo)

	queries := make([]domain.Query, 0, len(combos)*len(years))
	id := 0
	for _, combo := range combos {
		for _, year := range years {
			queries = append(queries, domain.Query{
				Source:   source,
				QueryID:  id,
				Keywords: combo,
				Year:     year,
			})
			id++
		}
	}
	return queries
}

func composeKeywordCombos(groupOne, groupTwo []string) [][]string {
	if len(groupTwo) == 0 {
		combos := make([][]string, 0, len(groupOne))
		for _, k := range groupOne {
			combos = append(combos, []string{k})
		}
		return combos
	}

	combos := make([][]string, 0, len(groupOne)*len(groupTwo))
	for _, k1 := range groupOne {
		for _, k2 := range groupTwo {
			combos = append(combos, []string{k1, k2})
		}
	}
	return combos
}
