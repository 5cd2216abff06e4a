package book

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(pub *capturePublisher) *Engine {
	return NewEngine(Options{
		Symbol:          "AAPL",
		Shards:          4,
		QueueCapacity:   1 << 10,
		Publisher:       pub,
		CheckInvariants: true,
	})
}

func TestEngineLifecycle(t *testing.T) {
	pub := &capturePublisher{}
	e := newTestEngine(pub)

	_, err := e.AddOrder(OrderRequest{ID: 1, Side: Buy, Type: Limit, TIF: GTC, Price: px(100), Quantity: 10})
	assert.ErrorIs(t, err, ErrEngineStopped, "submit before Start")

	e.Start()
	e.Start() // idempotent

	id, err := e.AddOrder(OrderRequest{ID: 1, Side: Buy, Type: Limit, TIF: GTC, Price: px(100), Quantity: 10, Symbol: "AAPL", Account: "A"})
	require.NoError(t, err)
	assert.Equal(t, OrderID(1), id)

	e.WaitForCompletion()
	assert.Equal(t, 1, e.Book().OrderCount())

	e.Stop()
	e.Stop() // idempotent

	err = e.CancelOrder(1)
	assert.ErrorIs(t, err, ErrEngineStopped, "submit after Stop")
}

func TestEngineAppliesInSubmissionOrder(t *testing.T) {
	pub := &capturePublisher{}
	e := newTestEngine(pub)
	e.Start()
	defer e.Stop()

	p := e.NewProducer()
	// Add then cancel through the same producer: the cancel must always see
	// the add already applied.
	for i := 1; i <= 500; i++ {
		_, err := p.AddOrder(OrderRequest{
			ID: OrderID(i), Side: Buy, Type: Limit, TIF: GTC,
			Price: px(100), Quantity: 10, Symbol: "AAPL", Account: "A",
		})
		require.NoError(t, err)
		require.NoError(t, p.CancelOrder(OrderID(i)))
	}
	e.WaitForCompletion()

	assert.Equal(t, 0, e.Book().OrderCount())
	assert.Equal(t, 0, e.Book().BidLevelCount())
}

func TestEngineConcurrentProducers(t *testing.T) {
	pub := &capturePublisher{}
	e := newTestEngine(pub)
	e.Start()
	defer e.Stop()

	const producers = 8
	const perProducer = 1000

	var wg sync.WaitGroup
	for w := 0; w < producers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			p := e.NewProducer()
			for i := 0; i < perProducer; i++ {
				id := OrderID(w*perProducer + i + 1)
				side := Buy
				price := px(100 - float64(w%4))
				if w%2 == 1 {
					side = Sell
					price = px(101 + float64(w%4))
				}
				for {
					_, err := p.AddOrder(OrderRequest{
						ID: id, Side: side, Type: Limit, TIF: GTC,
						Price: price, Quantity: 10, Symbol: "AAPL", Account: "A",
					})
					if err == nil {
						break
					}
					require.ErrorIs(t, err, ErrQueueFull)
				}
			}
		}(w)
	}
	wg.Wait()
	e.WaitForCompletion()

	// Non-crossing prices: everything rests.
	assert.Equal(t, producers*perProducer, e.Book().OrderCount())
	require.NoError(t, e.Book().CheckInvariants())
}

func TestCancelFillRace(t *testing.T) {
	// Scenario: a resting bid, then a marketable sell and a cancel for the
	// bid race in from two different producers. Exactly one of two terminal
	// states is allowed: the trade happened, or the cancel won and the sell
	// rests.
	for i := 0; i < 50; i++ {
		pub := &capturePublisher{}
		e := newTestEngine(pub)
		e.Start()

		_, err := e.AddOrder(OrderRequest{
			ID: 1, Side: Buy, Type: Limit, TIF: GTC,
			Price: px(100), Quantity: 50, Symbol: "AAPL", Account: "A",
		})
		require.NoError(t, err)
		e.WaitForCompletion()

		seller := e.NewProducer()
		canceller := e.NewProducer()
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := seller.AddOrder(OrderRequest{
				ID: 2, Side: Sell, Type: Limit, TIF: GTC,
				Price: px(100), Quantity: 50, Symbol: "AAPL", Account: "A",
			})
			require.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			require.NoError(t, canceller.CancelOrder(1))
		}()
		wg.Wait()
		e.WaitForCompletion()

		trades := pub.Trades()
		book := e.Book()
		switch len(trades) {
		case 1:
			// Fill won: both orders are gone.
			assert.Equal(t, Quantity(50), trades[0].Quantity)
			assert.Equal(t, 0, book.OrderCount())
		case 0:
			// Cancel won: the sell rests alone.
			assert.Equal(t, 1, book.OrderCount())
			ask, ok := book.BestAsk()
			require.True(t, ok)
			assert.Equal(t, px(100), ask)
		default:
			t.Fatalf("impossible terminal state: %d trades", len(trades))
		}
		require.NoError(t, book.CheckInvariants())
		e.Stop()
	}
}

func TestEngineExternalFeed(t *testing.T) {
	pub := &capturePublisher{}
	e := newTestEngine(pub)
	e.Start()
	defer e.Stop()

	err := e.ApplyExternalSnapshot(MarketDepth{
		Bids: []DepthLevel{{Price: px(100), Quantity: 500, OrderCount: 3}},
		Asks: []DepthLevel{{Price: px(99), Quantity: 400, OrderCount: 2}},
	})
	require.NoError(t, err)
	e.WaitForCompletion()

	// Even a crossed external snapshot produces no trades: the mirror
	// pathway cannot match.
	assert.Empty(t, pub.Trades())
	best := e.Book().BestPrices()
	assert.Equal(t, px(100), best.Bid)
	assert.Equal(t, px(99), best.Ask)

	require.NoError(t, e.ApplyExternalIncremental(BookUpdate{
		Type: UpdateModify, Side: Buy, Price: px(100), Quantity: 250, OrderCount: 2,
	}))
	e.WaitForCompletion()
	assert.Equal(t, Quantity(250), e.Book().BestPrices().BidSize)

	require.NoError(t, e.ClearBook())
	e.WaitForCompletion()
	assert.Equal(t, 0, e.Book().BidLevelCount())
	assert.Equal(t, 0, e.Book().AskLevelCount())
}

func TestEngineRequestSnapshot(t *testing.T) {
	pub := &capturePublisher{}
	e := newTestEngine(pub)
	e.Start()
	defer e.Stop()

	_, err := e.AddOrder(OrderRequest{
		ID: 1, Side: Buy, Type: Limit, TIF: GTC,
		Price: px(100), Quantity: 10, Symbol: "AAPL", Account: "A",
	})
	require.NoError(t, err)
	e.WaitForCompletion()

	pub.mu.Lock()
	before := len(pub.depths)
	pub.mu.Unlock()

	require.NoError(t, e.RequestSnapshot())
	e.WaitForCompletion()

	pub.mu.Lock()
	after := len(pub.depths)
	pub.mu.Unlock()
	assert.Equal(t, before+1, after, "snapshot request publishes one depth")
}

func TestWaitForCompletionDrainsEverything(t *testing.T) {
	pub := &capturePublisher{}
	e := newTestEngine(pub)
	e.Start()
	defer e.Stop()

	for i := 1; i <= 2000; i++ {
		req := OrderRequest{
			ID: OrderID(i), Side: Buy, Type: Limit, TIF: GTC,
			Price: px(float64(90 + i%10)), Quantity: 5, Symbol: "AAPL", Account: "A",
		}
		// 2000 commands exceed one 1<<10 shard: retry while the consumer drains.
		for {
			_, err := e.AddOrder(req)
			if err == nil {
				break
			}
			require.ErrorIs(t, err, ErrQueueFull)
		}
	}
	e.WaitForCompletion()

	assert.True(t, e.cmds.empty(), "no shard holds a command")
	assert.True(t, e.feed.empty())
	assert.Equal(t, int64(0), e.inflight.Load())
	assert.Equal(t, 2000, e.Book().OrderCount())
}
