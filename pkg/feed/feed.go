// Package feed mirrors an external venue's book into the engine through the
// market-data pathway. Mirror traffic never produces trades; on a sequence
// gap the book is cleared and rebuilt from the next snapshot.
package feed

import (
	"context"
	"sync/atomic"

	"github.com/roshanshah11/vertexladder/pkg/book"
)

// UpdateKind distinguishes full snapshots from incremental level updates.
type UpdateKind uint8

const (
	Snapshot UpdateKind = iota
	Incremental
)

// Update is one decoded message from the external venue.
type Update struct {
	Kind     UpdateKind
	Sequence uint64
	Depth    book.MarketDepth // for Snapshot
	Incr     book.BookUpdate  // for Incremental
}

// Feed drives engine mirror state from a stream of venue updates.
type Feed struct {
	eng    *book.Engine
	logger book.Logger

	lastSeq    uint64
	recovering bool

	gaps      atomic.Uint64
	snapshots atomic.Uint64
	applied   atomic.Uint64
}

// New creates a feed bound to an engine.
func New(eng *book.Engine, logger book.Logger) *Feed {
	if logger == nil {
		logger = book.NopLogger{}
	}
	return &Feed{eng: eng, logger: logger}
}

// Gaps returns the number of sequence gaps detected.
func (f *Feed) Gaps() uint64 { return f.gaps.Load() }

// Snapshots returns the number of snapshots applied.
func (f *Feed) Snapshots() uint64 { return f.snapshots.Load() }

// Applied returns the number of incremental updates applied.
func (f *Feed) Applied() uint64 { return f.applied.Load() }

// Run consumes updates until the channel closes or the context ends. Run is
// single-goroutine: the venue connector owns decoding and ordering.
func (f *Feed) Run(ctx context.Context, updates <-chan Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			f.Apply(u)
		}
	}
}

// Apply processes one update.
func (f *Feed) Apply(u Update) {
	switch u.Kind {
	case Snapshot:
		if err := f.eng.ApplyExternalSnapshot(u.Depth); err != nil {
			f.logger.Error("snapshot apply failed", "err", err.Error())
			return
		}
		f.lastSeq = u.Sequence
		f.recovering = false
		f.snapshots.Add(1)
	case Incremental:
		if f.recovering {
			return // wait for the next snapshot
		}
		if f.lastSeq != 0 && u.Sequence != f.lastSeq+1 {
			f.logger.Warn("feed sequence gap",
				"expected", f.lastSeq+1, "got", u.Sequence)
			f.gaps.Add(1)
			f.recovering = true
			if err := f.eng.ClearBook(); err != nil {
				f.logger.Error("clear book failed", "err", err.Error())
			}
			return
		}
		if err := f.eng.ApplyExternalIncremental(u.Incr); err != nil {
			f.logger.Error("incremental apply failed", "err", err.Error())
			return
		}
		f.lastSeq = u.Sequence
		f.applied.Add(1)
	}
}
