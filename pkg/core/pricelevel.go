package core

// compactionSlack is the number of popped slots tolerated at the front
// of a level's queue before the backing slice is compacted.
const compactionSlack = 64

// priceLevel is the FIFO queue of resting orders at a single price.
// Orders are appended at the tail and consumed from the head, so queue
// position is arrival order. Dead orders (canceled or otherwise
// terminal) are not unlinked eagerly; the book drops them when the
// head of the queue is next inspected.
type priceLevel struct {
	price  int64
	orders []*Order
	head   int
}

func newPriceLevel(price int64) *priceLevel {
	return &priceLevel{price: price}
}

// push appends an order at the tail of the queue.
func (pl *priceLevel) push(o *Order) {
	pl.orders = append(pl.orders, o)
}

// first returns the order at the head of the queue, dead or alive, or
// nil when the queue is empty.
func (pl *priceLevel) first() *Order {
	if pl.head < len(pl.orders) {
		return pl.orders[pl.head]
	}
	return nil
}

// pop removes the head of the queue.
func (pl *priceLevel) pop() {
	if pl.head < len(pl.orders) {
		pl.orders[pl.head] = nil
		pl.head++
		pl.maybeCompact()
	}
}

// visibleQty sums the remaining quantity of live orders at this level.
func (pl *priceLevel) visibleQty() int64 {
	var total int64
	for i := pl.head; i < len(pl.orders); i++ {
		o := pl.orders[i]
		if o.Remaining() > 0 && !o.Status().IsTerminal() {
			total += o.Remaining()
		}
	}
	return total
}

// liveCount counts live orders at this level.
func (pl *priceLevel) liveCount() int {
	n := 0
	for i := pl.head; i < len(pl.orders); i++ {
		o := pl.orders[i]
		if o.Remaining() > 0 && !o.Status().IsTerminal() {
			n++
		}
	}
	return n
}

// maybeCompact reclaims the consumed prefix once it grows past the
// slack threshold and dominates the slice.
func (pl *priceLevel) maybeCompact() {
	if pl.head >= compactionSlack && pl.head*2 >= len(pl.orders) {
		n := copy(pl.orders, pl.orders[pl.head:])
		for i := n; i < len(pl.orders); i++ {
			pl.orders[i] = nil
		}
		pl.orders = pl.orders[:n]
		pl.head = 0
	}
}
