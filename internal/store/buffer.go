package store

import (
	"github.com/scilex/scilex/internal/domain"
)

// DefaultFlushThreshold is the number of buffered pages that triggers an
// automatic flush. An interrupted run loses at most this many pages.
const DefaultFlushThreshold = 5

// ProgressFunc is invoked after every durable ledger update, letting an
// external progress tracker mirror the persisted state.
type ProgressFunc func(source string, queryID int, p domain.QueryProgress)

// Buffer accumulates parsed pages for one (source, query) worker and flushes
// them as immutable artifacts in batches. Buffers are never shared across
// workers; one buffer belongs to exactly one query loop, so it needs no
// locking of its own.
type Buffer struct {
	store     *StateStore
	source    string
	query     domain.Query
	threshold int
	onUpdate  ProgressFunc

	pages    []domain.PageArtifact
	progress domain.QueryProgress
	flushed  int
}

// NewBuffer creates a buffer resuming from the query's persisted progress.
// threshold <= 0 uses DefaultFlushThreshold. onUpdate may be nil.
func NewBuffer(store *StateStore, source string, query domain.Query, threshold int, onUpdate ProgressFunc) (*Buffer, error) {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}

	progress, err := store.Progress(source, query.QueryID)
	if err != nil {
		return nil, err
	}

	return &Buffer{
		store:     store,
		source:    source,
		query:     query,
		threshold: threshold,
		onUpdate:  onUpdate,
		progress:  progress,
	}, nil
}

// Progress returns the buffer's view of the query progress, including pages
// not yet flushed.
func (b *Buffer) Progress() domain.QueryProgress {
	return b.progress
}

// SetCursor records the continuation token for cursor-paged sources. It is
// persisted with the next ledger update so a resumed run can continue from
// the same position.
func (b *Buffer) SetCursor(token string) {
	b.progress.LastCursor = token
}

// ResumePage returns the first page the query loop should fetch: one past
// the last durably persisted page.
func (b *Buffer) ResumePage() int {
	return b.progress.LastPage + 1
}

// Flushed reports how many artifacts this buffer durably wrote. Pages
// persisted by earlier runs are not included.
func (b *Buffer) Flushed() int {
	return b.flushed
}

// Append adds one parsed page. When the buffer reaches its threshold it
// flushes automatically; a flush failure propagates and leaves the
// unwritten pages buffered.
func (b *Buffer) Append(art domain.PageArtifact) error {
	b.pages = append(b.pages, art)
	if len(b.pages) >= b.threshold {
		return b.Flush()
	}
	return nil
}

// Flush durably writes every buffered page, then updates the ledger with
// the new last_page and coll_art. Pages written before a failure stay
// durable; the failed page and its successors stay buffered, and the query
// state never reports complete prematurely.
func (b *Buffer) Flush() error {
	for len(b.pages) > 0 {
		art := b.pages[0]
		if err := b.store.WriteArtifact(b.source, b.query, art); err != nil {
			return err
		}
		b.pages = b.pages[1:]
		b.flushed++

		b.progress.LastPage = art.Page
		b.progress.CollArt += len(art.Results)
		b.progress.TotalArt = art.Total
		if b.progress.State == domain.QueryPending {
			b.progress.State = domain.QueryInProgress
		}
	}
	return b.writeProgress()
}

// Complete flushes any buffered pages and marks the query complete. A
// complete query is the authoritative skip signal for re-collection.
func (b *Buffer) Complete() error {
	if err := b.Flush(); err != nil {
		return err
	}
	b.progress.State = domain.QueryComplete
	b.progress.ErrorMessage = ""
	return b.writeProgress()
}

// Fail flushes whatever is buffered and records the error message, leaving
// the query resumable. Flush errors are reported but never mask the
// original failure recording.
func (b *Buffer) Fail(msg string) error {
	flushErr := b.Flush()

	b.progress.ErrorMessage = msg
	if b.progress.State == domain.QueryComplete {
		b.progress.State = domain.QueryInProgress
	}
	if err := b.writeProgress(); err != nil {
		return err
	}
	return flushErr
}

// Close flushes any remaining buffered pages. Callers must invoke it on
// every termination path so no page is lost in memory.
func (b *Buffer) Close() error {
	return b.Flush()
}

func (b *Buffer) writeProgress() error {
	if err := b.store.SetProgress(b.source, b.query.QueryID, b.progress); err != nil {
		return err
	}
	if b.onUpdate != nil {
		b.onUpdate(b.source, b.query.QueryID, b.progress)
	}
	return nil
}
