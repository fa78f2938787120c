// Package store implements the buffered page-persistence model: immutable
// page artifacts on disk plus a per-source progress ledger that makes
// interrupted collections resumable.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/scilex/scilex/internal/domain"
)

const ledgerFile = "state.json"

// StateStore persists page artifacts and query progress under a collection
// root directory. Layout:
//
//	<root>/<source>/<querySlug>/page_<n>.json
//	<root>/<source>/state.json
//
// Artifact files are immutable once written. The ledger is rewritten
// atomically (temp file + rename) after every flush so an interrupted run
// never observes a torn state file.
type StateStore struct {
	root string

	mu sync.Mutex // serializes ledger read-modify-write across workers
}

// NewStateStore creates a store rooted at the given directory, creating it
// if needed.
func NewStateStore(root string) (*StateStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &domain.PersistenceError{Path: root, Cause: err}
	}
	return &StateStore{root: root}, nil
}

// Root returns the collection root directory.
func (s *StateStore) Root() string {
	return s.root
}

// ArtifactPath returns the path of the artifact for one (source, query, page).
func (s *StateStore) ArtifactPath(source string, query domain.Query, page int) string {
	return filepath.Join(s.root, source, query.Slug(), "page_"+strconv.Itoa(page)+".json")
}

// HasArtifact reports whether the artifact for the given page already exists.
func (s *StateStore) HasArtifact(source string, query domain.Query, page int) bool {
	_, err := os.Stat(s.ArtifactPath(source, query, page))
	return err == nil
}

// WriteArtifact durably writes one page artifact. An existing artifact is
// never rewritten: re-collection over already-persisted pages is a no-op.
func (s *StateStore) WriteArtifact(source string, query domain.Query, art domain.PageArtifact) error {
	path := s.ArtifactPath(source, query, art.Page)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &domain.PersistenceError{Path: path, Cause: err}
	}

	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return &domain.PersistenceError{Path: path, Cause: err}
	}

	if err := writeFileAtomic(path, data); err != nil {
		return &domain.PersistenceError{Path: path, Cause: err}
	}
	return nil
}

// Progress returns the persisted progress for one query, or a pending
// zero-progress entry when the query has never been touched.
func (s *StateStore) Progress(source string, queryID int) (domain.QueryProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.readLedger(source)
	if err != nil {
		return domain.QueryProgress{}, err
	}
	if p, ok := ledger[strconv.Itoa(queryID)]; ok {
		return p, nil
	}
	return domain.QueryProgress{State: domain.QueryPending}, nil
}

// SetProgress updates the ledger entry for one query atomically.
func (s *StateStore) SetProgress(source string, queryID int, p domain.QueryProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.readLedger(source)
	if err != nil {
		return err
	}
	ledger[strconv.Itoa(queryID)] = p

	path := filepath.Join(s.root, source, ledgerFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &domain.PersistenceError{Path: path, Cause: err}
	}

	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return &domain.PersistenceError{Path: path, Cause: err}
	}
	if err := writeFileAtomic(path, data); err != nil {
		return &domain.PersistenceError{Path: path, Cause: err}
	}
	return nil
}

// Ledger returns every persisted query progress entry for one source.
func (s *StateStore) Ledger(source string) (map[int]domain.QueryProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.readLedger(source)
	if err != nil {
		return nil, err
	}

	out := make(map[int]domain.QueryProgress, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}

// readLedger loads the source's ledger; a missing file is an empty ledger.
// Caller must hold s.mu.
func (s *StateStore) readLedger(source string) (map[string]domain.QueryProgress, error) {
	path := filepath.Join(s.root, source, ledgerFile)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]domain.QueryProgress), nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Path: path, Cause: err}
	}

	ledger := make(map[string]domain.QueryProgress)
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, &domain.PersistenceError{Path: path, Cause: fmt.Errorf("corrupt ledger: %w", err)}
	}
	return ledger, nil
}

// writeFileAtomic writes data to path via a temp file and rename so readers
// never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
