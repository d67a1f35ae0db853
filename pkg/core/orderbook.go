package core

import "fmt"

// OrderBook holds the two sides of a single instrument's book. Bids
// are kept in a descending price tree, asks in an ascending one, with
// a FIFO queue per populated price and an ID index across both sides.
// Terminal orders drop out of the ID index when the book sweeps them
// from their queue, so lookups only see orders that are, or may still
// become, resting liquidity.
//
// The book is not safe for concurrent use. One goroutine owns it; all
// reads and writes go through that owner.
type OrderBook struct {
	bids       *priceTree
	asks       *priceTree
	byID       map[string]*Order
	tradeCount uint64
}

// NewOrderBook creates an empty order book.
func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: newPriceTree(true),
		asks: newPriceTree(false),
		byID: map[string]*Order{},
	}
}

// Submit matches the incoming order against the opposite side and
// rests any unfilled remainder on its own side. The returned trades
// are in execution order; each trade's price is the resting order's
// limit price. An order ID already present in the index is rejected
// with ErrOrderExists before any matching happens.
func (ob *OrderBook) Submit(order *Order) ([]Trade, error) {
	if _, ok := ob.byID[order.ID()]; ok {
		return nil, fmt.Errorf("order %s: %w", order.ID(), ErrOrderExists)
	}

	trades, err := ob.match(order)
	if err != nil {
		return trades, err
	}

	if order.Remaining() > 0 {
		ob.rest(order)
		ob.byID[order.ID()] = order
	}

	return trades, nil
}

// match walks the opposite side best price first, FIFO within each
// level, executing at the maker's price until the incoming order is
// exhausted or the book no longer crosses.
func (ob *OrderBook) match(taker *Order) ([]Trade, error) {
	opposite := ob.asks
	if taker.Side() == Sell {
		opposite = ob.bids
	}

	var trades []Trade
	for taker.Remaining() > 0 {
		level := opposite.best()
		if level == nil {
			break
		}

		if !crosses(taker, level.price) {
			break
		}

		maker := ob.peekLive(level)
		if maker == nil {
			// Only dead entries at this level; drop it and retry.
			opposite.delete(level.price)
			continue
		}

		qty := taker.Remaining()
		if maker.Remaining() < qty {
			qty = maker.Remaining()
		}

		if err := maker.Fill(qty); err != nil {
			return trades, err
		}
		if err := taker.Fill(qty); err != nil {
			return trades, err
		}

		buyID, sellID := taker.ID(), maker.ID()
		if taker.Side() == Sell {
			buyID, sellID = maker.ID(), taker.ID()
		}

		trade, err := NewTrade(buyID, sellID, maker.Price(), qty)
		if err != nil {
			return trades, err
		}
		trades = append(trades, trade)
		ob.tradeCount++

		if maker.Status().IsTerminal() {
			level.pop()
			delete(ob.byID, maker.ID())
			if ob.peekLive(level) == nil {
				opposite.delete(level.price)
			}
		}
	}

	return trades, nil
}

// peekLive returns the first live order in the level's queue, sweeping
// dead entries off the front and out of the ID index as it goes.
func (ob *OrderBook) peekLive(level *priceLevel) *Order {
	for {
		o := level.first()
		if o == nil {
			return nil
		}
		if o.Remaining() > 0 && !o.Status().IsTerminal() {
			return o
		}
		level.pop()
		delete(ob.byID, o.ID())
	}
}

// crosses reports whether the taker's limit reaches the given opposite
// side price.
func crosses(taker *Order, restingPrice int64) bool {
	if taker.Side() == Buy {
		return taker.Price() >= restingPrice
	}
	return taker.Price() <= restingPrice
}

// rest enqueues the order at the tail of its price level, creating the
// level if the price was unpopulated.
func (ob *OrderBook) rest(order *Order) {
	side := ob.bids
	if order.Side() == Sell {
		side = ob.asks
	}

	level := side.get(order.Price())
	if level == nil {
		level = newPriceLevel(order.Price())
		side.insert(order.Price(), level)
	}
	level.push(order)
}

// Cancel marks the order canceled and zeroes its remaining quantity.
// The book entry stays in its queue and is swept out lazily the next
// time its queue head is inspected. Returns false when the ID is
// unknown or the order already reached a terminal status.
func (ob *OrderBook) Cancel(orderID string) bool {
	order, ok := ob.byID[orderID]
	if !ok {
		return false
	}
	return order.Cancel()
}

// Lookup returns the indexed order with the given ID, or nil. Terminal
// orders disappear from the index once the book sweeps them.
func (ob *OrderBook) Lookup(orderID string) *Order {
	return ob.byID[orderID]
}

// BestBid returns the highest bid price and the live quantity resting
// there. ok is false when no live bids remain.
func (ob *OrderBook) BestBid() (price, qty int64, ok bool) {
	return ob.bestOf(ob.bids)
}

// BestAsk returns the lowest ask price and the live quantity resting
// there. ok is false when no live asks remain.
func (ob *OrderBook) BestAsk() (price, qty int64, ok bool) {
	return ob.bestOf(ob.asks)
}

// bestOf walks from the top of the side, pruning levels that hold only
// dead entries, until it finds a live level or exhausts the tree.
func (ob *OrderBook) bestOf(side *priceTree) (int64, int64, bool) {
	for {
		level := side.best()
		if level == nil {
			return 0, 0, false
		}
		if ob.peekLive(level) == nil {
			side.delete(level.price)
			continue
		}
		return level.price, level.visibleQty(), true
	}
}

// Depth returns the number of populated price levels per side. Levels
// holding only dead entries may still be counted until they are swept.
func (ob *OrderBook) Depth() (bidLevels, askLevels int) {
	return ob.bids.len(), ob.asks.len()
}

// RestingOrders counts live resting orders per side.
func (ob *OrderBook) RestingOrders() (bids, asks int) {
	ob.bids.forEach(func(_ int64, level *priceLevel) bool {
		bids += level.liveCount()
		return true
	})
	ob.asks.forEach(func(_ int64, level *priceLevel) bool {
		asks += level.liveCount()
		return true
	})
	return bids, asks
}

// TradeCount returns the number of trades executed since the book was
// created.
func (ob *OrderBook) TradeCount() uint64 {
	return ob.tradeCount
}
