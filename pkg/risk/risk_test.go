package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roshanshah11/vertexladder/pkg/book"
)

func limitOrder(id book.OrderID, side book.Side, price book.Price, qty book.Quantity) *book.Order {
	return &book.Order{
		ID: id, Side: side, Type: book.Limit, TIF: book.GTC,
		Price: price, Quantity: qty, Symbol: "AAPL", Account: "A",
	}
}

func TestValidateOrderSize(t *testing.T) {
	m := NewManager(DefaultLimits(), nil)
	p := m.PortfolioFor("A")

	ok := m.ValidateOrder(limitOrder(1, book.Buy, book.PriceFromFloat(100), 10_000), p)
	assert.True(t, ok.Approved)

	big := m.ValidateOrder(limitOrder(2, book.Buy, book.PriceFromFloat(100), 10_001), p)
	assert.False(t, big.Approved)
	assert.Contains(t, big.Reason, "order size")
}

func TestValidatePriceBand(t *testing.T) {
	m := NewManager(DefaultLimits(), nil)
	p := m.PortfolioFor("A")

	low := m.ValidateOrder(limitOrder(1, book.Buy, book.PriceFromFloat(0.001), 10), p)
	assert.False(t, low.Approved)

	high := m.ValidateOrder(limitOrder(2, book.Buy, book.PriceFromFloat(2_000_000), 10), p)
	assert.False(t, high.Approved)

	// Market orders carry no price and skip the band check.
	market := &book.Order{ID: 3, Side: book.Buy, Type: book.Market, Quantity: 10, Account: "A"}
	assert.True(t, m.ValidateOrder(market, p).Approved)
}

func TestValidatePositionLimits(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPosition = 100
	limits.MinPosition = -100
	m := NewManager(limits, nil)
	p := m.PortfolioFor("A")
	p.Position = 95

	assert.True(t, m.ValidateOrder(limitOrder(1, book.Buy, book.PriceFromFloat(100), 5), p).Approved)
	over := m.ValidateOrder(limitOrder(2, book.Buy, book.PriceFromFloat(100), 6), p)
	assert.False(t, over.Approved)
	assert.Contains(t, over.Reason, "position")

	p.Position = -95
	assert.True(t, m.ValidateOrder(limitOrder(3, book.Sell, book.PriceFromFloat(100), 5), p).Approved)
	assert.False(t, m.ValidateOrder(limitOrder(4, book.Sell, book.PriceFromFloat(100), 6), p).Approved)
}

func TestMaxNotional(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxNotional = decimal.NewFromInt(10_000)
	m := NewManager(limits, nil)
	p := m.PortfolioFor("A")

	assert.True(t, m.ValidateOrder(limitOrder(1, book.Buy, book.PriceFromFloat(100), 100), p).Approved)
	over := m.ValidateOrder(limitOrder(2, book.Buy, book.PriceFromFloat(100), 101), p)
	assert.False(t, over.Approved)
	assert.Contains(t, over.Reason, "notional")
}

func TestBypassSkipsEverything(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxOrderSize = 1
	m := NewManager(limits, nil)
	m.SetBypass(true)
	require.True(t, m.Bypassed())

	p := m.PortfolioFor("A")
	assert.True(t, m.ValidateOrder(limitOrder(1, book.Buy, book.PriceFromFloat(100), 1_000_000), p).Approved)

	m.SetBypass(false)
	assert.False(t, m.ValidateOrder(limitOrder(2, book.Buy, book.PriceFromFloat(100), 1_000_000), p).Approved)
}

func TestUpdatePosition(t *testing.T) {
	m := NewManager(DefaultLimits(), nil)
	m.AssociateOrderWithAccount(1, "buyer")
	m.AssociateOrderWithAccount(2, "seller")

	m.UpdatePosition(&book.Trade{
		ID: 1, BuyOrder: 1, SellOrder: 2, Price: book.PriceFromFloat(100), Quantity: 30,
	})

	assert.Equal(t, int64(30), m.PortfolioFor("buyer").Position)
	assert.Equal(t, int64(-30), m.PortfolioFor("seller").Position)
	assert.Equal(t, book.Quantity(30), m.PortfolioFor("buyer").Volume)
	assert.Equal(t, "buyer", m.AccountForOrder(1))
}

func TestOrderThrottle(t *testing.T) {
	limits := DefaultLimits()
	limits.OrdersPerSecond = 1
	m := NewManager(limits, nil)
	p := m.PortfolioFor("A")

	// Burst capacity admits the first orders, then the throttle kicks in.
	denied := 0
	for i := 0; i < 10; i++ {
		d := m.ValidateOrder(limitOrder(book.OrderID(i+1), book.Buy, book.PriceFromFloat(100), 1), p)
		if !d.Approved {
			denied++
			assert.Contains(t, d.Reason, "rate")
		}
	}
	assert.Greater(t, denied, 0, "sustained burst must hit the throttle")
}
