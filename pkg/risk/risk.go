// Package risk implements the engine's pre-trade risk port: order size and
// price bands, signed position limits, an order-rate throttle, and an
// optional per-order notional cap.
package risk

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/roshanshah11/vertexladder/pkg/book"
)

// Limits defines the risk parameters applied to every order.
type Limits struct {
	MaxOrderSize book.Quantity
	MinPrice     book.Price
	MaxPrice     book.Price
	MaxPosition  int64
	MinPosition  int64

	// MaxNotional caps price*quantity per order. Zero disables the check.
	MaxNotional decimal.Decimal

	// OrdersPerSecond throttles admission rate. Zero disables the throttle.
	OrdersPerSecond float64
}

// DefaultLimits mirrors the venue defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxOrderSize: 10_000,
		MinPrice:     book.PriceFromFloat(0.01),
		MaxPrice:     book.PriceFromFloat(1_000_000),
		MaxPosition:  100_000,
		MinPosition:  -100_000,
	}
}

// Manager enforces Limits per account. It implements book.RiskManager.
// ValidateOrder and UpdatePosition run on the matching goroutine; the mutex
// only guards against concurrent PortfolioFor reads from other goroutines
// (monitoring, tests).
type Manager struct {
	limits  Limits
	limiter *rate.Limiter
	bypass  atomic.Bool
	logger  book.Logger

	mu         sync.RWMutex
	portfolios map[string]*book.Portfolio
	accounts   map[book.OrderID]string
}

var _ book.RiskManager = (*Manager)(nil)

// NewManager creates a manager with the given limits. A nil logger is
// replaced with a no-op.
func NewManager(limits Limits, logger book.Logger) *Manager {
	if logger == nil {
		logger = book.NopLogger{}
	}
	m := &Manager{
		limits:     limits,
		logger:     logger,
		portfolios: make(map[string]*book.Portfolio),
		accounts:   make(map[book.OrderID]string),
	}
	if limits.OrdersPerSecond > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(limits.OrdersPerSecond), int(limits.OrdersPerSecond)+1)
	}
	return m
}

// Limits returns the configured limits.
func (m *Manager) Limits() Limits { return m.limits }

// SetBypass turns every check into an approval. First-class configuration so
// benchmarks run in release builds unchanged.
func (m *Manager) SetBypass(bypass bool) { m.bypass.Store(bypass) }

// Bypassed reports whether checks are bypassed.
func (m *Manager) Bypassed() bool { return m.bypass.Load() }

// ValidateOrder checks an order against the limits and the account's
// current position.
func (m *Manager) ValidateOrder(o *book.Order, p *book.Portfolio) book.RiskDecision {
	if m.bypass.Load() {
		return book.Approve()
	}
	if m.limiter != nil && !m.limiter.Allow() {
		return book.Deny("order rate limit exceeded")
	}
	if o.Quantity > m.limits.MaxOrderSize {
		return book.Deny(fmt.Sprintf("order size %d exceeds limit %d", o.Quantity, m.limits.MaxOrderSize))
	}
	if o.Type == book.Limit {
		if o.Price < m.limits.MinPrice || o.Price > m.limits.MaxPrice {
			return book.Deny(fmt.Sprintf("price %s outside band [%s, %s]",
				o.Price, m.limits.MinPrice, m.limits.MaxPrice))
		}
		if !m.limits.MaxNotional.IsZero() {
			notional := o.Price.Decimal().Mul(decimal.NewFromUint64(uint64(o.Quantity)))
			if notional.Cmp(m.limits.MaxNotional) > 0 {
				return book.Deny(fmt.Sprintf("notional %s exceeds limit %s", notional, m.limits.MaxNotional))
			}
		}
	}
	if p != nil {
		projected := p.Position
		if o.Side == book.Buy {
			projected += int64(o.Quantity)
		} else {
			projected -= int64(o.Quantity)
		}
		if projected > m.limits.MaxPosition || projected < m.limits.MinPosition {
			return book.Deny(fmt.Sprintf("projected position %d outside [%d, %d]",
				projected, m.limits.MinPosition, m.limits.MaxPosition))
		}
	}
	return book.Approve()
}

// UpdatePosition applies an executed trade to both sides' portfolios.
func (m *Manager) UpdatePosition(t *book.Trade) {
	if m.bypass.Load() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.accounts[t.BuyOrder]; ok {
		p := m.portfolioLocked(acct)
		p.Position += int64(t.Quantity)
		p.Volume += t.Quantity
	}
	if acct, ok := m.accounts[t.SellOrder]; ok {
		p := m.portfolioLocked(acct)
		p.Position -= int64(t.Quantity)
		p.Volume += t.Quantity
	}
}

// PortfolioFor returns the live portfolio for an account, creating it on
// first use.
func (m *Manager) PortfolioFor(account string) *book.Portfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.portfolioLocked(account)
}

func (m *Manager) portfolioLocked(account string) *book.Portfolio {
	p, ok := m.portfolios[account]
	if !ok {
		p = &book.Portfolio{Account: account}
		m.portfolios[account] = p
	}
	return p
}

// AssociateOrderWithAccount records the owning account for position updates
// on later fills.
func (m *Manager) AssociateOrderWithAccount(id book.OrderID, account string) {
	m.mu.Lock()
	m.accounts[id] = account
	m.mu.Unlock()
}

// AccountForOrder returns the account recorded for an order id.
func (m *Manager) AccountForOrder(id book.OrderID) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accounts[id]
}
