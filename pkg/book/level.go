package book

// priceLevel holds all resting orders at one price on one side as a FIFO:
// insertion order is time priority. Orders are linked through arena handles;
// append is tail-only, removal is O(1) by handle.
//
// totalQty and orderCount are cached aggregates:
//
//	totalQty   == sum of Remaining() over the level
//	orderCount == number of linked orders
//	orderCount == 0  <=>  totalQty == 0  <=>  level is removable
//
// A level created from an external feed mirror carries no orders; its
// aggregates are set directly from the feed and synthetic is true.
type priceLevel struct {
	price      Price
	head, tail handle
	totalQty   Quantity
	orderCount int
	synthetic  bool
}

func newPriceLevel(price Price) *priceLevel {
	return &priceLevel{price: price, head: nilHandle, tail: nilHandle}
}

func (l *priceLevel) empty() bool {
	if l.synthetic {
		return l.totalQty == 0
	}
	return l.orderCount == 0
}

// append links the order at the tail of the FIFO.
func (l *priceLevel) append(a *arena, h handle) {
	o := a.at(h)
	o.prev = l.tail
	o.next = nilHandle
	if l.tail == nilHandle {
		l.head = h
	} else {
		a.at(l.tail).next = h
	}
	l.tail = h
	l.totalQty += o.Remaining()
	l.orderCount++
}

// unlink removes the order from anywhere in the FIFO and adjusts the
// aggregates by its current remaining quantity.
func (l *priceLevel) unlink(a *arena, h handle) {
	o := a.at(h)
	if o.prev != nilHandle {
		a.at(o.prev).next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nilHandle {
		a.at(o.next).prev = o.prev
	} else {
		l.tail = o.prev
	}
	o.prev, o.next = nilHandle, nilHandle
	l.totalQty -= o.Remaining()
	l.orderCount--
}

// reduce shrinks the cached quantity after a fill or an in-place quantity
// decrease, without touching the linkage.
func (l *priceLevel) reduce(q Quantity) {
	l.totalQty -= q
}
