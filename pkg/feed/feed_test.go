package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roshanshah11/vertexladder/pkg/book"
)

func snapshot(seq uint64) Update {
	return Update{
		Kind:     Snapshot,
		Sequence: seq,
		Depth: book.MarketDepth{
			Bids: []book.DepthLevel{{Price: book.PriceFromFloat(100), Quantity: 500, OrderCount: 3}},
			Asks: []book.DepthLevel{{Price: book.PriceFromFloat(101), Quantity: 400, OrderCount: 2}},
		},
	}
}

func incr(seq uint64, qty book.Quantity) Update {
	return Update{
		Kind:     Incremental,
		Sequence: seq,
		Incr: book.BookUpdate{
			Type: book.UpdateModify, Side: book.Buy,
			Price: book.PriceFromFloat(100), Quantity: qty, OrderCount: 2,
		},
	}
}

func newFeedEngine() *book.Engine {
	e := book.NewEngine(book.Options{Symbol: "AAPL", Shards: 2, QueueCapacity: 1 << 10})
	e.Start()
	return e
}

func TestFeedAppliesSnapshotAndIncrementals(t *testing.T) {
	e := newFeedEngine()
	defer e.Stop()
	f := New(e, nil)

	f.Apply(snapshot(10))
	f.Apply(incr(11, 250))
	e.WaitForCompletion()

	assert.Equal(t, uint64(1), f.Snapshots())
	assert.Equal(t, uint64(1), f.Applied())
	best := e.Book().BestPrices()
	assert.Equal(t, book.Quantity(250), best.BidSize)
	assert.Equal(t, book.PriceFromFloat(101), best.Ask)
}

func TestFeedGapClearsAndRecovers(t *testing.T) {
	e := newFeedEngine()
	defer e.Stop()
	f := New(e, nil)

	f.Apply(snapshot(10))
	f.Apply(incr(12, 250)) // gap: 11 missing
	e.WaitForCompletion()

	assert.Equal(t, uint64(1), f.Gaps())
	assert.Equal(t, 0, e.Book().BidLevelCount(), "book cleared on gap")

	// Incrementals are ignored until the next snapshot arrives.
	f.Apply(incr(13, 300))
	e.WaitForCompletion()
	assert.Equal(t, uint64(0), f.Applied())
	assert.Equal(t, 0, e.Book().BidLevelCount())

	f.Apply(snapshot(20))
	f.Apply(incr(21, 300))
	e.WaitForCompletion()
	require.Equal(t, uint64(1), f.Applied())
	assert.Equal(t, book.Quantity(300), e.Book().BestPrices().BidSize)
}

func TestFeedNeverTrades(t *testing.T) {
	e := newFeedEngine()
	defer e.Stop()
	f := New(e, nil)

	// Crossed external data still must not match.
	f.Apply(Update{
		Kind:     Snapshot,
		Sequence: 1,
		Depth: book.MarketDepth{
			Bids: []book.DepthLevel{{Price: book.PriceFromFloat(102), Quantity: 100, OrderCount: 1}},
			Asks: []book.DepthLevel{{Price: book.PriceFromFloat(101), Quantity: 100, OrderCount: 1}},
		},
	})
	e.WaitForCompletion()

	assert.Equal(t, uint64(0), e.Book().TradeCount())
	best := e.Book().BestPrices()
	assert.Equal(t, book.PriceFromFloat(102), best.Bid)
	assert.Equal(t, book.PriceFromFloat(101), best.Ask)
}
