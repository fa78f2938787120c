// Package citations caches per-DOI citation graph lookups in a local SQLite
// database so repeated enrichment runs do not re-query the citation APIs.
package citations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/observability"
)

// DefaultTTL is how long a cached entry stays fresh.
const DefaultTTL = 30 * 24 * time.Hour

// batchChunkSize keeps batch queries under the SQLite bound-parameter limit.
const batchChunkSize = 500

// Fetch status values for the citation and reference lookups of an entry.
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
)

// Entry is one cached citation lookup, keyed by normalized DOI.
type Entry struct {
	DOI         string    `json:"doi"`
	Citations   []string  `json:"citations"`
	NbCited     int       `json:"nb_cited"`
	NbCitations int       `json:"nb_citations"`
	CitStatus   string    `json:"cit_status"`
	RefStatus   string    `json:"ref_status"`
	CachedAt    time.Time `json:"cached_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Stats summarizes cache occupancy.
type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

const schema = `
CREATE TABLE IF NOT EXISTS citation_cache (
	doi            TEXT PRIMARY KEY,
	citations_json TEXT NOT NULL,
	nb_cited       INTEGER NOT NULL,
	nb_citations   INTEGER NOT NULL,
	cit_status     TEXT NOT NULL,
	ref_status     TEXT NOT NULL,
	cached_at      INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_citation_cache_expires ON citation_cache(expires_at);
`

// Cache is a SQLite-backed citation cache. Safe for concurrent use.
type Cache struct {
	db      *sql.DB
	ttl     time.Duration
	metrics *observability.Metrics

	// now is overridable in tests.
	now func() time.Time
}

// Open opens (creating if needed) the cache database at path. WAL mode keeps
// concurrent readers from blocking the writer. metrics may be nil.
func Open(path string, ttl time.Duration, metrics *observability.Metrics) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open citation cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize citation cache schema: %w", err)
	}

	return &Cache{db: db, ttl: ttl, metrics: metrics, now: time.Now}, nil
}

func (c *Cache) countHits(n int) {
	if c.metrics != nil && n > 0 {
		c.metrics.CitationCacheHits.Add(float64(n))
	}
}

func (c *Cache) countMisses(n int) {
	if c.metrics != nil && n > 0 {
		c.metrics.CitationCacheMisses.Add(float64(n))
	}
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached entry for a DOI, or nil when the DOI is absent or
// the entry has expired.
func (c *Cache) Get(ctx context.Context, doi string) (*Entry, error) {
	key := domain.NormalizeDOI(doi)
	if key == "" {
		return nil, nil
	}

	row := c.db.QueryRowContext(ctx, `
		SELECT doi, citations_json, nb_cited, nb_citations,
		       cit_status, ref_status, cached_at, expires_at
		FROM citation_cache WHERE doi = ?`, key)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		c.countMisses(1)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read citation cache: %w", err)
	}
	if !entry.ExpiresAt.After(c.now()) {
		c.countMisses(1)
		return nil, nil
	}
	c.countHits(1)
	return entry, nil
}

// Put upserts an entry. CachedAt and ExpiresAt are set from the cache clock
// and TTL; the caller's values for those fields are ignored.
func (c *Cache) Put(ctx context.Context, entry Entry) error {
	return c.put(ctx, c.db, entry)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Cache) put(ctx context.Context, db execer, entry Entry) error {
	key := domain.NormalizeDOI(entry.DOI)
	if key == "" {
		return fmt.Errorf("citation cache entry requires a DOI")
	}

	citationsJSON, err := json.Marshal(entry.Citations)
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}

	now := c.now()
	_, err = db.ExecContext(ctx, `
		INSERT INTO citation_cache (
			doi, citations_json, nb_cited, nb_citations,
			cit_status, ref_status, cached_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (doi) DO UPDATE SET
			citations_json = excluded.citations_json,
			nb_cited = excluded.nb_cited,
			nb_citations = excluded.nb_citations,
			cit_status = excluded.cit_status,
			ref_status = excluded.ref_status,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		key, string(citationsJSON), entry.NbCited, entry.NbCitations,
		entry.CitStatus, entry.RefStatus, now.Unix(), now.Add(c.ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to write citation cache: %w", err)
	}
	return nil
}

// GetBatch returns the fresh cached entries among the given DOIs, keyed by
// normalized DOI. Absent and expired DOIs are simply not in the result.
func (c *Cache) GetBatch(ctx context.Context, dois []string) (map[string]*Entry, error) {
	keys := make([]string, 0, len(dois))
	for _, doi := range dois {
		if key := domain.NormalizeDOI(doi); key != "" {
			keys = append(keys, key)
		}
	}

	found := make(map[string]*Entry, len(keys))
	for start := 0; start < len(keys); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(keys) {
			end = len(keys)
		}

		query, args, err := sq.Select(
			"doi", "citations_json", "nb_cited", "nb_citations",
			"cit_status", "ref_status", "cached_at", "expires_at",
		).
			From("citation_cache").
			Where(sq.Eq{"doi": keys[start:end]}).
			Where(sq.Gt{"expires_at": c.now().Unix()}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build citation cache query: %w", err)
		}

		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to read citation cache: %w", err)
		}
		for rows.Next() {
			entry, err := scanEntry(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to read citation cache: %w", err)
			}
			found[entry.DOI] = entry
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read citation cache: %w", err)
		}
		rows.Close()
	}

	c.countHits(len(found))
	c.countMisses(len(keys) - len(found))
	return found, nil
}

// PutBatch upserts a set of entries in one transaction.
func (c *Cache) PutBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin citation cache transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if err := c.put(ctx, tx, entry); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit citation cache transaction: %w", err)
	}
	return nil
}

// CleanupExpired deletes expired entries and returns how many were removed.
func (c *Cache) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM citation_cache WHERE expires_at <= ?`, c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to clean citation cache: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports cache occupancy split by freshness.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END), 0)
		FROM citation_cache`, c.now().Unix()).
		Scan(&stats.Total, &stats.Active)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read citation cache stats: %w", err)
	}
	stats.Expired = stats.Total - stats.Active
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var citationsJSON string
	var cachedAt, expiresAt int64

	err := row.Scan(&entry.DOI, &citationsJSON, &entry.NbCited, &entry.NbCitations,
		&entry.CitStatus, &entry.RefStatus, &cachedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(citationsJSON), &entry.Citations); err != nil {
		return nil, fmt.Errorf("corrupt citations payload for %s: %w", entry.DOI, err)
	}
	entry.CachedAt = time.Unix(cachedAt, 0).UTC()
	entry.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &entry, nil
}
