package book

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Options configures an Engine.
type Options struct {
	Symbol        string
	Shards        int // command/feed queue shards, rounded up to a power of two
	QueueCapacity int // per-shard ring capacity, rounded up to a power of two
	PoolSize      int // initial order arena capacity
	DepthLevels   int // depth levels published after each command

	Risk        RiskManager
	Publisher   Publisher
	Logger      Logger
	Instruments Instruments

	// CheckInvariants re-verifies the book after every applied command and
	// panics on violation. For tests; far too slow for production.
	CheckInvariants bool
}

// Engine is the command pipeline around a Book: producers enqueue fixed-width
// commands onto sharded lock-free rings, a single consumer goroutine drains
// them and applies them to the book. External market-data updates travel a
// second set of shards so that mirror traffic can never emit trades.
type Engine struct {
	book *Book
	cmds *shardSet[Command]
	feed *shardSet[feedUpdate]

	// notify wakes the consumer when it parked on empty shards. Buffered so
	// a producer's send never blocks; a lost duplicate wake is harmless.
	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}

	// inflight counts commands pushed but not yet fully applied. Incremented
	// before the push, decremented after the command's side effects are
	// complete: the Add/Load pair is the release/acquire fence that makes
	// WaitForCompletion sound.
	inflight atomic.Int64
	running  atomic.Bool

	def  *Producer // producer backing the Engine's own submit methods
	log  Logger
	inst Instruments

	checkInvariants bool
}

// NewEngine builds the pipeline. The engine is idle until Start.
func NewEngine(opts Options) *Engine {
	if opts.Shards <= 0 {
		opts.Shards = defaultShardCount()
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1 << 17
	}
	if opts.Logger == nil {
		opts.Logger = NopLogger{}
	}
	if opts.Instruments == nil {
		opts.Instruments = NopInstruments{}
	}
	e := &Engine{
		book: NewBook(BookOptions{
			Symbol:      opts.Symbol,
			PoolSize:    opts.PoolSize,
			DepthLevels: opts.DepthLevels,
			Risk:        opts.Risk,
			Publisher:   opts.Publisher,
			Logger:      opts.Logger,
			Instruments: opts.Instruments,
		}),
		cmds:            newShardSet[Command](opts.Shards, opts.QueueCapacity),
		feed:            newShardSet[feedUpdate](opts.Shards, opts.QueueCapacity),
		notify:          make(chan struct{}, 1),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		log:             opts.Logger,
		inst:            opts.Instruments,
		checkInvariants: opts.CheckInvariants,
	}
	e.def = e.NewProducer()
	return e
}

// Book exposes the underlying book for queries. Queries reflect the matching
// goroutine's view and are not synchronised: call them after
// WaitForCompletion, from publisher callbacks, or before Start.
func (e *Engine) Book() *Book { return e.book }

// Start launches the consumer goroutine.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	go e.run()
}

// Stop drains outstanding commands and stops the consumer.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stop)
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		if e.drainAll() == 0 {
			select {
			case <-e.notify:
			case <-e.stop:
				e.drainAll()
				return
			}
		}
	}
}

// drainAll empties the feed shards, then the command shards, until a full
// pass over every shard observes nothing. Bounding the pass this way keeps
// per-command latency finite even under sustained producer pressure.
func (e *Engine) drainAll() int {
	n := e.feed.drain(func(u *feedUpdate) {
		e.book.applyFeed(u)
		e.inflight.Add(-1)
	})
	n += e.cmds.drain(func(c *Command) {
		e.apply(c)
		e.inflight.Add(-1)
	})
	if n > 0 {
		e.inst.ObserveDrainBatch(n)
	}
	return n
}

func (e *Engine) apply(c *Command) {
	start := time.Now()
	switch c.Kind {
	case cmdAdd:
		e.book.processAdd(c)
	case cmdCancel:
		e.book.processCancel(c.ID)
	case cmdModify:
		e.book.processModify(c.ID, c.Price, c.Quantity)
	}
	if e.log.Enabled(LevelDebug) {
		e.log.Performance("engine.apply", time.Since(start).Nanoseconds(),
			"kind", int(c.Kind), "order_id", itoa(uint64(c.ID)))
	}
	if e.checkInvariants {
		if err := e.book.CheckInvariants(); err != nil {
			e.log.Error("book invariant violated", "err", err.Error())
			panic(err)
		}
	}
}

// WaitForCompletion blocks until every enqueued command and feed update has
// been applied and its side effects published. Intended for tests and
// shutdown paths, not the hot path.
func (e *Engine) WaitForCompletion() {
	for e.inflight.Load() != 0 {
		runtime.Gosched()
	}
}

// ---- producers ----

// OrderRequest carries the caller-supplied fields of a new order.
type OrderRequest struct {
	ID       OrderID
	Side     Side
	Type     OrderType
	TIF      TimeInForce
	Price    Price
	Quantity Quantity
	Symbol   string
	Account  string
}

// Producer is a bound handle onto one command shard and one feed shard.
// Commands submitted through the same Producer are applied in submission
// order; commands from different Producers have no defined mutual order.
// A Producer is cheap; give each submitting goroutine its own.
type Producer struct {
	e    *Engine
	cmd  *ring[Command]
	feed *ring[feedUpdate]
}

// NewProducer binds a new producer to the next shard round-robin.
func (e *Engine) NewProducer() *Producer {
	return &Producer{
		e:    e,
		cmd:  e.cmds.shards[e.cmds.bind()],
		feed: e.feed.shards[e.feed.bind()],
	}
}

func (p *Producer) submit(c Command) error {
	e := p.e
	if !e.running.Load() {
		return ErrEngineStopped
	}
	e.inflight.Add(1)
	if !p.cmd.push(c) {
		e.inflight.Add(-1)
		e.inst.QueueFull()
		return ErrQueueFull
	}
	select {
	case e.notify <- struct{}{}:
	default:
	}
	return nil
}

// AddOrder enqueues a new order and echoes its id. "Synchronous" means
// enqueue-and-return: application is asynchronous on the matching goroutine.
func (p *Producer) AddOrder(req OrderRequest) (OrderID, error) {
	err := p.submit(Command{
		Kind:     cmdAdd,
		Side:     req.Side,
		Type:     req.Type,
		TIF:      req.TIF,
		ID:       req.ID,
		Price:    req.Price,
		Quantity: req.Quantity,
		Symbol:   makeFixedString(req.Symbol),
		Account:  makeFixedString(req.Account),
	})
	if err != nil {
		return 0, err
	}
	return req.ID, nil
}

// CancelOrder enqueues a cancel. Unknown ids are applied as a logged no-op.
func (p *Producer) CancelOrder(id OrderID) error {
	return p.submit(Command{Kind: cmdCancel, ID: id})
}

// ModifyOrder enqueues a modify. A zero price or quantity means "unchanged".
func (p *Producer) ModifyOrder(id OrderID, newPrice Price, newQty Quantity) error {
	return p.submit(Command{Kind: cmdModify, ID: id, Price: newPrice, Quantity: newQty})
}

func (p *Producer) submitFeed(u feedUpdate) error {
	e := p.e
	if !e.running.Load() {
		return ErrEngineStopped
	}
	e.inflight.Add(1)
	if !p.feed.push(u) {
		e.inflight.Add(-1)
		e.inst.QueueFull()
		return ErrQueueFull
	}
	select {
	case e.notify <- struct{}{}:
	default:
	}
	return nil
}

// ---- engine-level convenience surface ----

// AddOrder submits through the engine's own producer. Safe for concurrent
// use; callers that need per-goroutine ordering at scale should hold their
// own Producer.
func (e *Engine) AddOrder(req OrderRequest) (OrderID, error) {
	return e.def.AddOrder(req)
}

// CancelOrder submits a cancel through the engine's own producer.
func (e *Engine) CancelOrder(id OrderID) error {
	return e.def.CancelOrder(id)
}

// ModifyOrder submits a modify through the engine's own producer.
func (e *Engine) ModifyOrder(id OrderID, newPrice Price, newQty Quantity) error {
	return e.def.ModifyOrder(id, newPrice, newQty)
}

// ---- external market-data surface ----

// ApplyExternalSnapshot replaces the mirrored book with a full depth
// snapshot from an external venue. The snapshot travels the feed pathway and
// cannot produce trades.
func (e *Engine) ApplyExternalSnapshot(depth MarketDepth) error {
	if err := e.def.submitFeed(feedUpdate{Kind: feedSnapshotStart}); err != nil {
		return err
	}
	for _, lvl := range depth.Bids {
		u := feedUpdate{Kind: feedAdd, Side: Buy, Price: lvl.Price,
			Quantity: lvl.Quantity, OrderCount: int32(lvl.OrderCount)}
		if err := e.def.submitFeed(u); err != nil {
			return err
		}
	}
	for _, lvl := range depth.Asks {
		u := feedUpdate{Kind: feedAdd, Side: Sell, Price: lvl.Price,
			Quantity: lvl.Quantity, OrderCount: int32(lvl.OrderCount)}
		if err := e.def.submitFeed(u); err != nil {
			return err
		}
	}
	return e.def.submitFeed(feedUpdate{Kind: feedSnapshotEnd})
}

// ApplyExternalIncremental applies one external level update to the mirror.
func (e *Engine) ApplyExternalIncremental(u BookUpdate) error {
	kind := feedAdd
	switch u.Type {
	case UpdateModify:
		kind = feedModify
	case UpdateRemove:
		kind = feedRemove
	}
	return e.def.submitFeed(feedUpdate{
		Kind:       kind,
		Side:       u.Side,
		Price:      u.Price,
		Quantity:   u.Quantity,
		OrderCount: int32(u.OrderCount),
	})
}

// ClearBook drops all resting orders and levels. Used on feed gap recovery.
func (e *Engine) ClearBook() error {
	return e.def.submitFeed(feedUpdate{Kind: feedClear})
}

// RequestSnapshot asks the matching goroutine to publish a fresh best-prices
// and depth snapshot through the publisher port. This is the message
// round-trip that lets other threads obtain a consistent view without
// touching the book directly.
func (e *Engine) RequestSnapshot() error {
	return e.def.submitFeed(feedUpdate{Kind: feedSnapshotEnd})
}
