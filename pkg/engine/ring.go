package engine

import (
	"runtime"
	"sync/atomic"

	"github.com/tickmatch/engine/pkg/core"
)

// TradeRing is a single-producer single-consumer ring carrying
// executed trades from the matcher to the publisher goroutine. The
// matcher is the only writer of head, the publisher the only writer of
// tail; each side reads the other's index with an atomic load.
type TradeRing struct {
	// head and tail sit on separate cache lines.
	head  uint64
	_pad1 [56]byte
	tail  uint64
	_pad2 [56]byte

	buf  []core.Trade
	mask uint64
}

// NewTradeRing allocates a ring with the given capacity, which must be
// a power of two.
func NewTradeRing(capacity uint64) *TradeRing {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("engine: trade ring capacity must be a power of two")
	}
	return &TradeRing{buf: make([]core.Trade, capacity), mask: capacity - 1}
}

// TryPush appends a trade. Returns false when the ring is full.
func (r *TradeRing) TryPush(t core.Trade) bool {
	h := r.head
	tl := atomic.LoadUint64(&r.tail)
	if h-tl == uint64(len(r.buf)) {
		return false
	}
	r.buf[h&r.mask] = t
	atomic.StoreUint64(&r.head, h+1)
	return true
}

// Push appends a trade, spinning until space frees up. Trades are the
// system of record output and are never dropped.
func (r *TradeRing) Push(t core.Trade) {
	for !r.TryPush(t) {
		runtime.Gosched()
	}
}

// TryPop removes the oldest trade. ok is false when the ring is empty.
func (r *TradeRing) TryPop() (core.Trade, bool) {
	tl := r.tail
	h := atomic.LoadUint64(&r.head)
	if tl == h {
		return core.Trade{}, false
	}
	t := r.buf[tl&r.mask]
	atomic.StoreUint64(&r.tail, tl+1)
	return t, true
}

// Len returns the number of trades currently buffered.
func (r *TradeRing) Len() int {
	h := atomic.LoadUint64(&r.head)
	tl := atomic.LoadUint64(&r.tail)
	return int(h - tl)
}

// Cap returns the ring capacity.
func (r *TradeRing) Cap() int {
	return len(r.buf)
}
