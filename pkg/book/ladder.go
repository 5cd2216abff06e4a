package book

import "sort"

// ladder is one side's price levels kept sorted with the best price at the
// end of the slice: bids ascend, asks descend. Both sides peek and pop from
// the best in O(1); inserting a new level is an O(log n) search plus a
// memmove, which is O(1) at the best end where activity concentrates. A hash
// index gives O(1) level lookup by exact price for cancel and modify.
type ladder struct {
	side    Side
	levels  []*priceLevel
	byPrice map[Price]*priceLevel
}

func newLadder(side Side) *ladder {
	return &ladder{
		side:    side,
		byPrice: make(map[Price]*priceLevel),
	}
}

// worse reports whether price a is further from the top of the book than b.
func (l *ladder) worse(a, b Price) bool {
	if l.side == Buy {
		return a < b
	}
	return a > b
}

// best returns the top-of-book level, or nil.
func (l *ladder) best() *priceLevel {
	if len(l.levels) == 0 {
		return nil
	}
	return l.levels[len(l.levels)-1]
}

// lookup returns the level at an exact price, or nil.
func (l *ladder) lookup(p Price) *priceLevel {
	return l.byPrice[p]
}

// getOrCreate returns the level at p, creating and inserting it in sorted
// position when absent.
func (l *ladder) getOrCreate(p Price) *priceLevel {
	if lvl := l.byPrice[p]; lvl != nil {
		return lvl
	}
	lvl := newPriceLevel(p)
	i := sort.Search(len(l.levels), func(i int) bool {
		return !l.worse(l.levels[i].price, p)
	})
	l.levels = append(l.levels, nil)
	copy(l.levels[i+1:], l.levels[i:])
	l.levels[i] = lvl
	l.byPrice[p] = lvl
	return lvl
}

// remove detaches an empty level from the ladder and the price index.
func (l *ladder) remove(lvl *priceLevel) {
	i := sort.Search(len(l.levels), func(i int) bool {
		return !l.worse(l.levels[i].price, lvl.price)
	})
	if i < len(l.levels) && l.levels[i] == lvl {
		copy(l.levels[i:], l.levels[i+1:])
		l.levels[len(l.levels)-1] = nil
		l.levels = l.levels[:len(l.levels)-1]
	}
	delete(l.byPrice, lvl.price)
}

// walkBest iterates levels from the best outward until fn returns false.
func (l *ladder) walkBest(fn func(*priceLevel) bool) {
	for i := len(l.levels) - 1; i >= 0; i-- {
		if !fn(l.levels[i]) {
			return
		}
	}
}

// depth copies up to n levels from the best outward.
func (l *ladder) depth(n int) []DepthLevel {
	if n <= 0 || n > len(l.levels) {
		n = len(l.levels)
	}
	out := make([]DepthLevel, 0, n)
	for i := 0; i < n; i++ {
		lvl := l.levels[len(l.levels)-1-i]
		out = append(out, DepthLevel{
			Price:      lvl.price,
			Quantity:   lvl.totalQty,
			OrderCount: lvl.orderCount,
		})
	}
	return out
}

// reset drops every level.
func (l *ladder) reset() {
	l.levels = l.levels[:0]
	for p := range l.byPrice {
		delete(l.byPrice, p)
	}
}
