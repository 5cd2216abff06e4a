package book

import (
	"fmt"
	"time"
)

// orderLocator records where a resting order lives: its arena handle, its
// price level and its side. Every live resting order has exactly one entry
// in the order index; terminal orders have none.
type orderLocator struct {
	h     handle
	level *priceLevel
	side  Side
}

// Book is the canonical order book state. It is owned by the matching
// goroutine: no method on Book is safe to call concurrently with another.
// The Engine serialises all access; tests may drive a Book directly from a
// single goroutine.
type Book struct {
	symbol string

	arena *arena
	bids  *ladder
	asks  *ladder
	index map[OrderID]orderLocator

	risk RiskManager // optional
	pub  Publisher
	log  Logger
	inst Instruments

	tradeSeq   uint64
	updateSeq  uint64
	tradeCount uint64

	depthLevels int
}

// BookOptions configures a Book.
type BookOptions struct {
	Symbol      string
	PoolSize    int // initial arena capacity
	DepthLevels int // levels included in the per-command depth publish
	Risk        RiskManager
	Publisher   Publisher
	Logger      Logger
	Instruments Instruments
}

// NewBook creates an empty book. Nil ports default to no-ops.
func NewBook(opts BookOptions) *Book {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1 << 14
	}
	if opts.DepthLevels <= 0 {
		opts.DepthLevels = 5
	}
	if opts.Publisher == nil {
		opts.Publisher = NopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = NopLogger{}
	}
	if opts.Instruments == nil {
		opts.Instruments = NopInstruments{}
	}
	return &Book{
		symbol:      opts.Symbol,
		arena:       newArena(opts.PoolSize),
		bids:        newLadder(Buy),
		asks:        newLadder(Sell),
		index:       make(map[OrderID]orderLocator, opts.PoolSize),
		risk:        opts.Risk,
		pub:         opts.Publisher,
		log:         opts.Logger,
		inst:        opts.Instruments,
		depthLevels: opts.DepthLevels,
	}
}

// Symbol returns the instrument this book trades.
func (b *Book) Symbol() string { return b.symbol }

func (b *Book) side(s Side) *ladder {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// ---- add ----

// processAdd materialises and applies an Add command: validation, risk
// check, matching, and resting of any GTC residual.
func (b *Book) processAdd(cmd *Command) {
	if err := b.validateAdd(cmd); err != nil {
		b.reject(cmd.ID, err.Error())
		return
	}
	if _, dup := b.index[cmd.ID]; dup {
		b.log.Warn("duplicate order id dropped", "order_id", itoa(uint64(cmd.ID)))
		b.reject(cmd.ID, ErrDuplicateOrder.Error())
		return
	}

	h := b.arena.alloc()
	o := b.arena.at(h)
	*o = Order{
		ID:       cmd.ID,
		Side:     cmd.Side,
		Type:     cmd.Type,
		TIF:      cmd.TIF,
		Price:    cmd.Price,
		Quantity: cmd.Quantity,
		Status:   StatusNew,
		Symbol:   cmd.Symbol.String(),
		Account:  cmd.Account.String(),
		Arrived:  time.Now(),
		prev:     nilHandle,
		next:     nilHandle,
	}

	if b.risk != nil && !b.risk.Bypassed() {
		account := o.Account
		if account == "" {
			account = "default"
		}
		b.risk.AssociateOrderWithAccount(o.ID, account)
		decision := b.risk.ValidateOrder(o, b.risk.PortfolioFor(account))
		if !decision.Approved {
			b.log.Warn("order rejected by risk",
				"order_id", itoa(uint64(o.ID)), "reason", decision.Reason)
			o.Status = StatusRejected
			b.arena.release(h)
			b.rejectReport(cmd.ID, decision.Reason)
			return
		}
	}

	if o.TIF == FOK && !b.fillable(o) {
		o.Status = StatusRejected
		b.arena.release(h)
		b.reject(cmd.ID, "FOK: insufficient liquidity")
		return
	}

	if checkRisk {
		b.risk.AssociateOrderWithAccount(o.ID, account)
	}
	b.inst.OrderAccepted()
	b.matchAndRest(h)
	b.publishMarketData()
}

func (b *Book) validateAdd(cmd *Command) error {
	if cmd.Quantity == 0 {
		return ErrInvalidQuantity
	}
	if cmd.Quantity > MaxQuantity {
		return ErrQuantityOverflow
	}
	if cmd.Type == Limit {
		if cmd.Price <= 0 {
			return ErrInvalidPrice
		}
		if cmd.Price > MaxPrice {
			return ErrPriceOverflow
		}
	}
	return nil
}

// fillable reports whether the opposite side holds enough cumulative size at
// acceptable prices to fully fill o. Used for the FOK admission check.
// Synthetic mirror levels carry no matchable orders and must not count, or a
// FOK could pass admission and then partially execute against real orders
// before stalling on the mirror. Matching stops at the first synthetic level
// it meets, so liquidity behind one is unreachable and the walk ends there.
func (b *Book) fillable(o *Order) bool {
	needed := o.Remaining()
	opposite := b.side(o.Side.Opposite())
	opposite.walkBest(func(lvl *priceLevel) bool {
		if !b.crosses(o, lvl.price) || lvl.synthetic {
			return false
		}
		if lvl.totalQty >= needed {
			needed = 0
			return false
		}
		needed -= lvl.totalQty
		return true
	})
	return needed == 0
}

// crosses reports whether an aggressor at its limit may trade at a resting
// price. Market orders cross any price.
func (b *Book) crosses(o *Order, resting Price) bool {
	if o.Type == Market {
		return true
	}
	if o.Side == Buy {
		return o.Price >= resting
	}
	return o.Price <= resting
}

// matchAndRest crosses the aggressor against the opposite side, then rests
// any GTC limit residual at the tail of its own level. The order referenced
// by h is consumed: fully filled, rested, or cancelled.
func (b *Book) matchAndRest(h handle) {
	start := time.Now()
	o := b.arena.at(h)
	opposite := b.side(o.Side.Opposite())

	for o.Remaining() > 0 {
		best := opposite.best()
		if best == nil || !b.crosses(o, best.price) {
			break
		}
		before := o.Remaining()
		b.matchLevel(o, best)
		if best.empty() {
			opposite.remove(best)
		}
		if o.Remaining() == before {
			// No fill happened: the level holds no matchable orders (a
			// synthetic mirror level). Stop rather than spin.
			break
		}
	}

	b.inst.ObserveMatchNanos(time.Since(start).Nanoseconds())

	switch {
	case o.Remaining() == 0:
		o.Status = StatusFilled
		b.arena.release(h)
	case o.Type == Limit && o.TIF == GTC:
		b.rest(h)
	default:
		// Market remainder and IOC remainder are cancelled, never rested.
		o.Status = StatusCancelled
		b.arena.release(h)
	}
}

// rest appends the order to the tail of its own side's level and indexes it.
func (b *Book) rest(h handle) {
	o := b.arena.at(h)
	lvl := b.side(o.Side).getOrCreate(o.Price)
	lvl.append(b.arena, h)
	b.index[o.ID] = orderLocator{h: h, level: lvl, side: o.Side}
	b.publishBookUpdate(UpdateAdd, o.Side, o.Price, o.Remaining(), lvl.orderCount)
}

// matchLevel fills the aggressor against one level's FIFO, head first. Each
// maker's successor is saved before any mutation because a fully filled
// maker is unlinked mid-iteration.
func (b *Book) matchLevel(aggr *Order, lvl *priceLevel) {
	h := lvl.head
	for h != nilHandle && aggr.Remaining() > 0 {
		maker := b.arena.at(h)
		next := maker.next

		q := aggr.Remaining()
		if maker.Remaining() < q {
			q = maker.Remaining()
		}
		b.executeTrade(aggr, maker, lvl.price, q)
		lvl.reduce(q)

		if maker.Remaining() == 0 {
			lvl.unlink(b.arena, h)
			delete(b.index, maker.ID)
			b.publishBookUpdate(UpdateRemove, maker.Side, lvl.price, 0, lvl.orderCount)
			b.arena.release(h)
		} else {
			b.publishBookUpdate(UpdateModify, maker.Side, lvl.price, maker.Remaining(), lvl.orderCount)
		}
		h = next
	}
}

// executeTrade fills both orders and emits the trade. The trade prints at
// the maker's resting price.
func (b *Book) executeTrade(taker, maker *Order, price Price, q Quantity) {
	taker.fill(q)
	maker.fill(q)

	b.tradeSeq++
	trade := Trade{
		ID:         TradeID(b.tradeSeq),
		TakerOrder: taker.ID,
		MakerOrder: maker.ID,
		Price:      price,
		Quantity:   q,
		Symbol:     b.symbol,
		TakerSide:  taker.Side,
		Timestamp:  time.Now(),
	}
	if taker.Side == Buy {
		trade.BuyOrder, trade.SellOrder = taker.ID, maker.ID
	} else {
		trade.BuyOrder, trade.SellOrder = maker.ID, taker.ID
	}
	b.tradeCount++

	if b.risk != nil {
		b.risk.UpdatePosition(&trade)
	}
	b.pub.PublishTrade(trade)
	b.inst.TradeExecuted(q)

	if b.log.Enabled(LevelDebug) {
		b.log.Debug("trade executed",
			"trade_id", itoa(uint64(trade.ID)),
			"taker", itoa(uint64(taker.ID)),
			"maker", itoa(uint64(maker.ID)),
			"price", price.String(),
			"qty", itoa(uint64(q)))
	}
}

// ---- cancel ----

// processCancel removes a resting order. Unknown ids are a logged no-op: the
// order may already have filled or been cancelled.
func (b *Book) processCancel(id OrderID) {
	loc, ok := b.index[id]
	if !ok {
		b.log.Warn("cancel for unknown order", "order_id", itoa(uint64(id)))
		return
	}
	o := b.arena.at(loc.h)
	remaining := o.Remaining()
	loc.level.unlink(b.arena, loc.h)
	b.publishBookUpdate(UpdateRemove, loc.side, loc.level.price, remaining, loc.level.orderCount)
	if loc.level.empty() {
		b.side(loc.side).remove(loc.level)
	}
	delete(b.index, id)
	o.Status = StatusCancelled
	b.arena.release(loc.h)
	b.publishMarketData()

	if b.log.Enabled(LevelInfo) {
		b.log.Info("order cancelled", "order_id", itoa(uint64(id)))
	}
}

// ---- modify ----

// processModify applies a modify command. Zero price/quantity mean
// "unchanged". A quantity-only decrease keeps time priority; any price
// change, quantity increase, or explicit same-value modify re-queues the
// order at the tail of the target level and re-enters matching, so a modify
// that crosses the spread trades rather than leaving a crossed book. A new
// quantity at or below the filled quantity promotes the order to Filled.
func (b *Book) processModify(id OrderID, newPrice Price, newQty Quantity) {
	loc, ok := b.index[id]
	if !ok {
		b.log.Warn("modify for unknown order", "order_id", itoa(uint64(id)))
		return
	}
	if newPrice == 0 && newQty == 0 {
		b.log.Warn("modify with no changes", "order_id", itoa(uint64(id)))
		return
	}
	if newPrice < 0 || newPrice > MaxPrice {
		b.log.Warn("modify with invalid price",
			"order_id", itoa(uint64(id)), "price", newPrice.String())
		return
	}
	o := b.arena.at(loc.h)

	if newQty != 0 && newQty <= o.Filled {
		// Nothing left to trade at the new size.
		loc.level.unlink(b.arena, loc.h)
		b.publishBookUpdate(UpdateRemove, loc.side, loc.level.price, 0, loc.level.orderCount)
		if loc.level.empty() {
			b.side(loc.side).remove(loc.level)
		}
		delete(b.index, id)
		o.Quantity = o.Filled
		o.Status = StatusFilled
		b.arena.release(loc.h)
		b.publishMarketData()
		return
	}

	priceChanged := newPrice != 0 && newPrice != o.Price
	if !priceChanged && newQty != 0 && newQty < o.Quantity {
		// In-place decrease: time priority is kept.
		delta := o.Quantity - newQty
		o.Quantity = newQty
		loc.level.reduce(delta)
		b.publishBookUpdate(UpdateModify, loc.side, loc.level.price, o.Remaining(), loc.level.orderCount)
		b.publishMarketData()
		return
	}

	// Re-queue: semantically a cancel plus a fresh add that loses time
	// priority and may cross.
	remaining := o.Remaining()
	loc.level.unlink(b.arena, loc.h)
	b.publishBookUpdate(UpdateRemove, loc.side, loc.level.price, remaining, loc.level.orderCount)
	if loc.level.empty() {
		b.side(loc.side).remove(loc.level)
	}
	delete(b.index, id)

	if newPrice != 0 {
		o.Price = newPrice
	}
	if newQty != 0 {
		o.Quantity = newQty
	}
	b.matchAndRest(loc.h)
	b.publishMarketData()

	if b.log.Enabled(LevelInfo) {
		b.log.Info("order modified", "order_id", itoa(uint64(id)))
	}
}

// ---- rejection ----

func (b *Book) reject(id OrderID, reason string) {
	b.log.Warn("order rejected", "order_id", itoa(uint64(id)), "reason", reason)
	b.rejectReport(id, reason)
}

func (b *Book) rejectReport(id OrderID, reason string) {
	b.inst.OrderRejected()
	b.pub.PublishExecutionReport(ExecutionReport{
		OrderID:   id,
		Status:    StatusRejected,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

// ---- external market-data mirror ----

// applyFeed applies one external venue update to the mirrored book view.
// Feed updates set level aggregates directly and never produce trades.
func (b *Book) applyFeed(u *feedUpdate) {
	switch u.Kind {
	case feedSnapshotStart, feedClear:
		b.clearState()
	case feedSnapshotEnd:
		b.publishMarketData()
	case feedAdd, feedModify:
		lvl := b.side(u.Side).getOrCreate(u.Price)
		lvl.synthetic = true
		lvl.totalQty = u.Quantity
		lvl.orderCount = int(u.OrderCount)
		kind := UpdateAdd
		if u.Kind == feedModify {
			kind = UpdateModify
		}
		b.publishBookUpdate(kind, u.Side, u.Price, u.Quantity, lvl.orderCount)
	case feedRemove:
		if lvl := b.side(u.Side).lookup(u.Price); lvl != nil {
			b.side(u.Side).remove(lvl)
			b.publishBookUpdate(UpdateRemove, u.Side, u.Price, 0, 0)
		}
	}
}

// clearState drops all resting orders and price levels. Used on feed gap
// recovery; any in-flight state is simply gone, as with a venue reconnect.
func (b *Book) clearState() {
	b.bids.reset()
	b.asks.reset()
	for id := range b.index {
		delete(b.index, id)
	}
	b.arena.reset()
}

// ---- publishing ----

func (b *Book) nextSeq() uint64 {
	b.updateSeq++
	return b.updateSeq
}

func (b *Book) publishBookUpdate(t BookUpdateType, side Side, price Price, qty Quantity, count int) {
	b.pub.PublishBookUpdate(BookUpdate{
		Type:       t,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		OrderCount: count,
		Sequence:   b.nextSeq(),
	})
}

// publishMarketData emits top-of-book and an n-level depth snapshot. Called
// once per applied command, after all mutation. Sequence numbers are
// allocated only here and in publishBookUpdate, so the published stream is
// dense: queries never consume one.
func (b *Book) publishMarketData() {
	prices := b.BestPrices()
	prices.Sequence = b.nextSeq()
	b.pub.PublishBestPrices(prices)

	depth := b.Depth(b.depthLevels)
	depth.Sequence = b.nextSeq()
	b.pub.PublishDepth(depth)

	b.inst.SetDepth(len(b.bids.levels), len(b.asks.levels))
}

// ---- queries (matching-thread view, not synchronised) ----

// BestBid returns the highest bid price, if any.
func (b *Book) BestBid() (Price, bool) {
	if lvl := b.bids.best(); lvl != nil {
		return lvl.price, true
	}
	return 0, false
}

// BestAsk returns the lowest ask price, if any.
func (b *Book) BestAsk() (Price, bool) {
	if lvl := b.asks.best(); lvl != nil {
		return lvl.price, true
	}
	return 0, false
}

// BestPrices returns a top-of-book snapshot with sizes. The sequence field
// reflects the last published update.
func (b *Book) BestPrices() BestPrices {
	p := BestPrices{Sequence: b.updateSeq, Timestamp: time.Now()}
	if lvl := b.bids.best(); lvl != nil {
		p.Bid, p.BidSize, p.HasBid = lvl.price, lvl.totalQty, true
	}
	if lvl := b.asks.best(); lvl != nil {
		p.Ask, p.AskSize, p.HasAsk = lvl.price, lvl.totalQty, true
	}
	return p
}

// Depth returns up to n aggregated levels per side, best first.
func (b *Book) Depth(n int) MarketDepth {
	return MarketDepth{
		Bids:      b.bids.depth(n),
		Asks:      b.asks.depth(n),
		Sequence:  b.updateSeq,
		Timestamp: time.Now(),
	}
}

// OrderCount returns the number of resting orders.
func (b *Book) OrderCount() int { return len(b.index) }

// BidLevelCount returns the number of bid price levels.
func (b *Book) BidLevelCount() int { return len(b.bids.levels) }

// AskLevelCount returns the number of ask price levels.
func (b *Book) AskLevelCount() int { return len(b.asks.levels) }

// TradeCount returns the number of trades executed since construction.
func (b *Book) TradeCount() uint64 { return b.tradeCount }

// ---- invariants ----

// CheckInvariants verifies the structural invariants of the book. It is
// exercised by tests after every scenario and by the engine when invariant
// checking is enabled. Synthetic (mirrored) levels carry no orders and are
// checked only for aggregate sanity.
func (b *Book) CheckInvariants() error {
	for _, l := range []*ladder{b.bids, b.asks} {
		var prev *priceLevel
		for _, lvl := range l.levels {
			if prev != nil && !l.worse(prev.price, lvl.price) {
				return fmt.Errorf("%s ladder not strictly sorted at %s", l.side, lvl.price)
			}
			prev = lvl
			if l.byPrice[lvl.price] != lvl {
				return fmt.Errorf("%s level %s missing from price index", l.side, lvl.price)
			}
			if lvl.empty() {
				return fmt.Errorf("empty %s level %s still in ladder", l.side, lvl.price)
			}
			if lvl.synthetic {
				continue
			}
			var sum Quantity
			count := 0
			for h := lvl.head; h != nilHandle; h = b.arena.at(h).next {
				o := b.arena.at(h)
				if o.Filled > o.Quantity {
					return fmt.Errorf("order %d overfilled: %d/%d", o.ID, o.Filled, o.Quantity)
				}
				if o.Status.Terminal() {
					return fmt.Errorf("terminal order %d still resting", o.ID)
				}
				loc, ok := b.index[o.ID]
				if !ok {
					return fmt.Errorf("resting order %d missing from index", o.ID)
				}
				if loc.level != lvl || loc.side != l.side {
					return fmt.Errorf("order %d index locator mismatch", o.ID)
				}
				sum += o.Remaining()
				count++
			}
			if sum != lvl.totalQty {
				return fmt.Errorf("%s level %s quantity drift: cached %d actual %d",
					l.side, lvl.price, lvl.totalQty, sum)
			}
			if count != lvl.orderCount {
				return fmt.Errorf("%s level %s count drift: cached %d actual %d",
					l.side, lvl.price, lvl.orderCount, count)
			}
		}
	}
	for id, loc := range b.index {
		if loc.level == nil || b.side(loc.side).byPrice[loc.level.price] != loc.level {
			return fmt.Errorf("indexed order %d points at a detached level", id)
		}
	}
	bestBid, bestAsk := b.bids.best(), b.asks.best()
	if bestBid != nil && bestAsk != nil && bestBid.price >= bestAsk.price {
		// A mirrored external book may legitimately report crossed levels;
		// the matching core itself must never produce them.
		if !bestBid.synthetic && !bestAsk.synthetic {
			return fmt.Errorf("crossed book: bid %s >= ask %s", bestBid.price, bestAsk.price)
		}
	}
	return nil
}
