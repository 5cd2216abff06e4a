// Package book implements a single-symbol limit order book: sharded
// lock-free command ingestion, a single-consumer matching engine with
// strict price-time priority, and market-data fan-out through narrow ports.
package book

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// OrderID identifies an order. IDs are allocated by callers; the book never
// reuses or rewrites them.
type OrderID uint64

// TradeID identifies a trade. Allocated per book from a monotonic counter,
// dense and never reused.
type TradeID uint64

// Quantity is a share count.
type Quantity uint64

// Price is a fixed-point price in ticks of 1/PriceScale. Integer ticks give
// a total order and exact map keys, which float prices cannot.
type Price int64

// PriceScale is the number of ticks per whole price unit.
const PriceScale = 10_000

// MaxPrice bounds prices so that price*quantity arithmetic cannot overflow
// during notional checks.
const MaxPrice = Price(math.MaxInt64 / PriceScale)

// MaxQuantity bounds order sizes so that level aggregates cannot overflow.
const MaxQuantity = Quantity(1) << 56

// PriceFromFloat converts a float price to ticks, rounding half away from zero.
func PriceFromFloat(p float64) Price {
	return Price(math.Round(p * PriceScale))
}

// PriceFromDecimal converts a decimal price to ticks.
func PriceFromDecimal(d decimal.Decimal) (Price, error) {
	scaled := d.Mul(decimal.NewFromInt(PriceScale))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("price %s is finer than tick size 1/%d", d, PriceScale)
	}
	if scaled.Cmp(decimal.NewFromInt(int64(MaxPrice))) > 0 {
		return 0, fmt.Errorf("price %s out of range", d)
	}
	return Price(scaled.IntPart()), nil
}

// PriceFromString parses a decimal price string into ticks.
func PriceFromString(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return PriceFromDecimal(d)
}

// Float64 returns the price in whole units.
func (p Price) Float64() float64 {
	return float64(p) / PriceScale
}

// Decimal returns the price as an exact decimal.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -4)
}

func (p Price) String() string {
	return p.Decimal().String()
}

// Side is the order side.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes price-limited orders from price-unbounded ones.
type OrderType uint8

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Market {
		return "market"
	}
	return "limit"
}

// TimeInForce controls what happens to an order's unmatched remainder.
type TimeInForce uint8

const (
	// GTC rests the remainder on the book.
	GTC TimeInForce = iota
	// IOC cancels the remainder after a single matching pass.
	IOC
	// FOK executes only if the whole quantity can fill at acceptance time.
	FOK
)

func (t TimeInForce) String() string {
	switch t {
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return "GTC"
	}
}

// OrderStatus tracks the order lifecycle. Filled, Cancelled and Rejected are
// terminal: the order is out of every index before the command that produced
// the transition returns.
type OrderStatus uint8

const (
	StatusNew OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	case StatusRejected:
		return "rejected"
	default:
		return "new"
	}
}

// Terminal reports whether the status is an end state.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Order is a resting or in-flight order. The book owns every resting order;
// callers only ever observe the OrderID. prev/next are arena handles linking
// the order into its price level's FIFO.
type Order struct {
	ID       OrderID
	Side     Side
	Type     OrderType
	TIF      TimeInForce
	Price    Price // meaningful for Limit only
	Quantity Quantity
	Filled   Quantity
	Status   OrderStatus
	Symbol   string
	Account  string
	Arrived  time.Time

	prev, next handle
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() Quantity {
	return o.Quantity - o.Filled
}

// fill records a partial or final execution and advances the status.
func (o *Order) fill(q Quantity) {
	o.Filled += q
	if o.Filled >= o.Quantity {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

// Trade is one execution between an aggressive (taker) order and a resting
// (maker) order. Price is the maker's resting price.
type Trade struct {
	ID         TradeID
	TakerOrder OrderID
	MakerOrder OrderID
	BuyOrder   OrderID
	SellOrder  OrderID
	Price      Price
	Quantity   Quantity
	Symbol     string
	TakerSide  Side
	Timestamp  time.Time
}

// BookUpdateType describes a change at a single price level.
type BookUpdateType uint8

const (
	UpdateAdd BookUpdateType = iota
	UpdateModify
	UpdateRemove
)

func (t BookUpdateType) String() string {
	switch t {
	case UpdateAdd:
		return "add"
	case UpdateRemove:
		return "remove"
	default:
		return "modify"
	}
}

// BookUpdate describes a change to one price level. Sequence numbers are
// allocated by the engine from one counter shared with BestPrices and
// MarketDepth; the combined stream is strictly increasing without gaps.
type BookUpdate struct {
	Type       BookUpdateType
	Side       Side
	Price      Price
	Quantity   Quantity
	OrderCount int
	Sequence   uint64
}

// BestPrices is a top-of-book snapshot.
type BestPrices struct {
	Bid, Ask         Price
	BidSize, AskSize Quantity
	HasBid, HasAsk   bool
	Sequence         uint64
	Timestamp        time.Time
}

// DepthLevel is one aggregated price level in a depth snapshot.
type DepthLevel struct {
	Price      Price
	Quantity   Quantity
	OrderCount int
}

// MarketDepth is an n-level book snapshot, best levels first.
type MarketDepth struct {
	Bids      []DepthLevel
	Asks      []DepthLevel
	Sequence  uint64
	Timestamp time.Time
}

// ExecutionReport notifies downstream consumers of a terminal decision made
// outside matching, currently always a rejection.
type ExecutionReport struct {
	OrderID   OrderID
	Status    OrderStatus
	Reason    string
	Timestamp time.Time
}

const symbolLen = 16

// fixedString is a fixed-width string field, so commands stay pointer-free
// and enqueue without allocating.
type fixedString [symbolLen]byte

func makeFixedString(s string) fixedString {
	var f fixedString
	copy(f[:], s)
	return f
}

func (f *fixedString) String() string {
	n := 0
	for n < len(f) && f[n] != 0 {
		n++
	}
	return string(f[:n])
}

// commandKind discriminates queued commands.
type commandKind uint8

const (
	cmdAdd commandKind = iota
	cmdCancel
	cmdModify
)

// Command is the fixed-width record producers enqueue. It carries no owning
// references; the consumer materialises the order from it.
type Command struct {
	Kind     commandKind
	Side     Side
	Type     OrderType
	TIF      TimeInForce
	ID       OrderID
	Price    Price // for Modify: new price, 0 = unchanged
	Quantity Quantity
	Symbol   fixedString
	Account  fixedString
}

// feedKind discriminates external market-data updates. These mutate the
// mirrored view of an external venue's book and never produce trades.
type feedKind uint8

const (
	feedSnapshotStart feedKind = iota
	feedSnapshotEnd
	feedAdd
	feedModify
	feedRemove
	feedClear
)

// feedUpdate is the fixed-width record for the market-data pathway.
type feedUpdate struct {
	Kind       feedKind
	Side       Side
	Price      Price
	Quantity   Quantity
	OrderCount int32
}

// Errors surfaced to callers or recorded against commands.
var (
	ErrQueueFull        = errors.New("command queue shard full")
	ErrEngineStopped    = errors.New("engine is not running")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrQuantityOverflow = errors.New("quantity exceeds representable range")
	ErrInvalidPrice     = errors.New("limit price must be positive")
	ErrPriceOverflow    = errors.New("price exceeds representable range")
	ErrDuplicateOrder   = errors.New("duplicate order id")
)

// itoa avoids fmt in hot-path log fields.
func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
