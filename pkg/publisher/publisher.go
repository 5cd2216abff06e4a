// Package publisher fans engine market-data events out to subscribers: a
// failing subscriber is isolated, a slow one drops events rather than stall
// the matching goroutine.
package publisher

import (
	"sync"

	"github.com/roshanshah11/vertexladder/pkg/book"
)

// Event is the envelope delivered to channel subscribers.
type Event struct {
	Type string // "trade", "book_update", "best_prices", "depth", "execution_report"
	Data any
}

// Hub multiplexes the engine's publisher port across attached sinks and
// channel subscribers. Publish methods run on the matching goroutine; the
// subscriber list has its own lock because subscriptions arrive from other
// goroutines.
type Hub struct {
	logger book.Logger

	mu    sync.RWMutex
	sinks []book.Publisher
	chans map[chan Event]struct{}
}

var _ book.Publisher = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger book.Logger) *Hub {
	if logger == nil {
		logger = book.NopLogger{}
	}
	return &Hub{
		logger: logger,
		chans:  make(map[chan Event]struct{}),
	}
}

// Attach adds a sink that receives every event.
func (h *Hub) Attach(sink book.Publisher) {
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Subscribe returns a buffered channel of events. A subscriber that falls
// behind loses events; the hub never blocks on it.
func (h *Hub) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 1024
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.chans[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe detaches a channel obtained from Subscribe.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.chans[ch]; ok {
		delete(h.chans, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) publish(ev Event, deliver func(book.Publisher)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sink := range h.sinks {
		h.deliverSafe(sink, deliver)
	}
	for ch := range h.chans {
		select {
		case ch <- ev:
		default:
			// Subscriber is full; drop rather than stall matching.
		}
	}
}

// deliverSafe isolates a panicking sink: log it and keep going with the
// others.
func (h *Hub) deliverSafe(sink book.Publisher, deliver func(book.Publisher)) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("publisher sink panicked", "panic", r)
		}
	}()
	deliver(sink)
}

func (h *Hub) PublishTrade(t book.Trade) {
	h.publish(Event{Type: "trade", Data: t}, func(s book.Publisher) { s.PublishTrade(t) })
}

func (h *Hub) PublishBookUpdate(u book.BookUpdate) {
	h.publish(Event{Type: "book_update", Data: u}, func(s book.Publisher) { s.PublishBookUpdate(u) })
}

func (h *Hub) PublishBestPrices(p book.BestPrices) {
	h.publish(Event{Type: "best_prices", Data: p}, func(s book.Publisher) { s.PublishBestPrices(p) })
}

func (h *Hub) PublishDepth(d book.MarketDepth) {
	h.publish(Event{Type: "depth", Data: d}, func(s book.Publisher) { s.PublishDepth(d) })
}

func (h *Hub) PublishExecutionReport(r book.ExecutionReport) {
	h.publish(Event{Type: "execution_report", Data: r}, func(s book.Publisher) { s.PublishExecutionReport(r) })
}
