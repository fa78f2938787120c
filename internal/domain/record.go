// Package domain defines the core types shared across the collection
// pipeline: normalized publication records, collection queries, durable page
// artifacts, and the error taxonomy.
package domain

import (
	"strings"
)

// NA is the sentinel for a missing field value. Records never carry empty
// strings or nulls for missing data; every field is total so that tabular
// merges downstream never have to special-case absence.
const NA = "NA"

// MergedMark suffixes each source name in a merged record's Archive field to
// mark that the source contributed to the merge.
const MergedMark = "*"

// archiveSeparator joins multiple source names in the Archive field.
const archiveSeparator = ";"

// Record is a normalized publication as produced by a collector's parser.
// All fields are strings with NA sentinels so that records from wildly
// different source schemas stay mergeable.
type Record struct {
	DOI       string `json:"DOI"`
	Title     string `json:"title"`
	Authors   string `json:"authors"` // semicolon-joined, order preserved
	Abstract  string `json:"abstract"`
	Date      string `json:"date"` // ISO YYYY-MM-DD, possibly partial
	Archive   string `json:"archive"`
	ItemType  string `json:"itemType"`
	Rights    string `json:"rights"`
	Volume    string `json:"volume"`
	Issue     string `json:"issue"`
	Pages     string `json:"pages"`
	Publisher string `json:"publisher"`
	URL       string `json:"url"`
	PDFURL    string `json:"pdf_url"`
}

// NewRecord returns a Record with every field set to the NA sentinel.
// Parsers start from this and overwrite whatever the source provides.
func NewRecord() Record {
	return Record{
		DOI:       NA,
		Title:     NA,
		Authors:   NA,
		Abstract:  NA,
		Date:      NA,
		Archive:   NA,
		ItemType:  NA,
		Rights:    NA,
		Volume:    NA,
		Issue:     NA,
		Pages:     NA,
		Publisher: NA,
		URL:       NA,
		PDFURL:    NA,
	}
}

// IsMissing reports whether a field value is absent under the NA convention.
func IsMissing(v string) bool {
	return v == "" || v == NA
}

// OrNA maps an empty string to the NA sentinel.
func OrNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return NA
	}
	return v
}

// NormalizeDOI returns the canonical form of a DOI used as a merge key:
// trimmed and lowercased. Missing DOIs normalize to the empty string and
// must never be used as a grouping key.
func NormalizeDOI(doi string) string {
	if IsMissing(doi) {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(doi))
}

// JoinAuthors joins an ordered author list into the semicolon form stored on
// a Record. An empty list yields NA.
func JoinAuthors(names []string) string {
	kept := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		return NA
	}
	return strings.Join(kept, archiveSeparator)
}

// AuthorCount counts the authors recorded on a record.
func (r Record) AuthorCount() int {
	if IsMissing(r.Authors) {
		return 0
	}
	count := 0
	for _, a := range strings.Split(r.Authors, archiveSeparator) {
		if strings.TrimSpace(a) != "" {
			count++
		}
	}
	return count
}

// Year extracts the publication year from the record date, or 0 when the
// date is missing or unparseable.
func (r Record) Year() int {
	if IsMissing(r.Date) || len(r.Date) < 4 {
		return 0
	}
	year := 0
	for _, c := range r.Date[:4] {
		if c < '0' || c > '9' {
			return 0
		}
		year = year*10 + int(c-'0')
	}
	return year
}

// ArchiveSources splits the Archive field into its contributing source
// names, stripping the merged marks.
func (r Record) ArchiveSources() []string {
	if IsMissing(r.Archive) {
		return nil
	}
	parts := strings.Split(r.Archive, archiveSeparator)
	sources := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSuffix(strings.TrimSpace(p), MergedMark)
		if p != "" {
			sources = append(sources, p)
		}
	}
	return sources
}

// MergeArchives rewrites the Archive field as the union of the given source
// names in first-appearance order, each suffixed with the merged mark.
func MergeArchives(sources []string) string {
	seen := make(map[string]bool, len(sources))
	ordered := make([]string, 0, len(sources))
	for _, s := range sources {
		s = strings.TrimSuffix(strings.TrimSpace(s), MergedMark)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		ordered = append(ordered, s+MergedMark)
	}
	if len(ordered) == 0 {
		return NA
	}
	return strings.Join(ordered, archiveSeparator)
}
