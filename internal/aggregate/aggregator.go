package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scilex/scilex/internal/domain"
)

// TaggedRecord is one aggregated record together with its collection
// provenance: the source it came from and the query that produced it.
type TaggedRecord struct {
	domain.Record

	Source   string `json:"source"`
	QueryID  int    `json:"query_id"`
	Year     int    `json:"year"`
	Keywords string `json:"keywords"`
}

// Stats summarizes one aggregation pass.
type Stats struct {
	// Artifacts is the number of page artifact files loaded.
	Artifacts int
	// Records is the number of records aggregated.
	Records int
	// Skipped counts corrupt or unreadable artifact files.
	Skipped int
}

// Aggregator walks a collection root and merges every persisted page
// artifact into one in-memory record set.
type Aggregator struct {
	root string
	log  zerolog.Logger
}

// New creates an Aggregator over the given collection root.
func New(root string, logger zerolog.Logger) *Aggregator {
	return &Aggregator{root: root, log: logger}
}

// Load reads every artifact under the root and flattens it into an ordered
// record slice. Records are tagged with their source and, where the query
// matrix covers them, the keyword combination that produced them. Corrupt
// artifacts are counted and skipped, never fatal. Ordering is deterministic:
// sources, queries, and pages in ascending order.
func (a *Aggregator) Load(matrix []domain.Query) ([]TaggedRecord, Stats, error) {
	lookup := make(map[string]map[int]domain.Query)
	for _, q := range matrix {
		if lookup[q.Source] == nil {
			lookup[q.Source] = make(map[int]domain.Query)
		}
		lookup[q.Source][q.QueryID] = q
	}

	sources, err := sortedDirs(a.root)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("reading collection root %s: %w", a.root, err)
	}

	var records []TaggedRecord
	var stats Stats

	for _, source := range sources {
		queryDirs, err := sortedDirs(filepath.Join(a.root, source))
		if err != nil {
			a.log.Warn().Err(err).Str("source", source).Msg("skipping unreadable source directory")
			continue
		}

		for _, dir := range queryDirs {
			queryID, year, ok := parseQuerySlug(dir)
			if !ok {
				continue
			}

			var keywords string
			if q, found := lookup[source][queryID]; found {
				keywords = q.Terms()
			}

			pages, err := sortedPages(filepath.Join(a.root, source, dir))
			if err != nil {
				a.log.Warn().Err(err).Str("source", source).Str("query", dir).Msg("skipping unreadable query directory")
				continue
			}

			for _, pageFile := range pages {
				path := filepath.Join(a.root, source, dir, pageFile)
				art, err := readArtifact(path)
				if err != nil {
					stats.Skipped++
					a.log.Warn().Err(err).Str("path", path).Msg("skipping corrupt artifact")
					continue
				}
				stats.Artifacts++

				for _, r := range art.Results {
					if domain.IsMissing(r.Archive) {
						r.Archive = source
					}
					records = append(records, TaggedRecord{
						Record:   r,
						Source:   source,
						QueryID:  queryID,
						Year:     year,
						Keywords: keywords,
					})
				}
			}
		}
	}

	stats.Records = len(records)
	return records, stats, nil
}

// Records strips the provenance tags, returning the bare record slice that
// feeds deduplication.
func Records(tagged []TaggedRecord) []domain.Record {
	out := make([]domain.Record, len(tagged))
	for i, tr := range tagged {
		out[i] = tr.Record
	}
	return out
}

func readArtifact(path string) (*domain.PageArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var art domain.PageArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, err
	}
	return &art, nil
}

// parseQuerySlug extracts (queryID, year) from a "query_<id>_<year>"
// directory name.
func parseQuerySlug(name string) (int, int, bool) {
	parts := strings.Split(name, "_")
	if len(parts) != 3 || parts[0] != "query" {
		return 0, 0, false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, false
	}
	return id, year, true
}

func sortedDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// sortedPages lists page_<n>.json files in ascending numeric page order.
func sortedPages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type pageFile struct {
		name string
		num  int
	}
	var pages []pageFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "page_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "page_"), ".json"))
		if err != nil {
			continue
		}
		pages = append(pages, pageFile{name: name, num: n})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

	names := make([]string, len(pages))
	for i, p := range pages {
		names[i] = p.name
	}
	return names, nil
}
