package engine

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickmatch/engine/pkg/core"
	"github.com/tickmatch/engine/pkg/journal"
)

type matcherHarness struct {
	appender *journal.Appender
	matcher  *Matcher
	ring     *TradeRing
	cancel   context.CancelFunc
	done     chan error
}

func startMatcher(t *testing.T, dir string) *matcherHarness {
	t.Helper()

	app, err := journal.OpenAppender(journal.Config{Dir: dir})
	require.NoError(t, err)

	cur, err := journal.OpenCursor(dir)
	require.NoError(t, err)

	ring := NewTradeRing(1024)
	m := NewMatcher(Config{
		Book:      core.NewOrderBook(),
		Cursor:    cur,
		Trades:    ring,
		Logger:    zerolog.Nop(),
		IdleSleep: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	h := &matcherHarness{appender: app, matcher: m, ring: ring, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("matcher did not stop")
		}
		app.Close()
	})
	return h
}

func (h *matcherHarness) submit(t *testing.T, id string, side core.Side, price, qty int64) {
	t.Helper()
	require.NoError(t, h.appender.Append(&journal.Record{
		Kind: journal.KindSubmit, OrderID: id, Side: side, Price: price, Quantity: qty,
	}))
}

func (h *matcherHarness) cancelOrder(t *testing.T, id string, side core.Side) {
	t.Helper()
	require.NoError(t, h.appender.Append(&journal.Record{
		Kind: journal.KindCancel, OrderID: id, Side: side,
	}))
}

// drainTrades pops trades until n have arrived or the deadline passes.
func (h *matcherHarness) drainTrades(t *testing.T, n int) []core.Trade {
	t.Helper()
	var out []core.Trade
	deadline := time.Now().Add(2 * time.Second)
	for len(out) < n {
		if trade, ok := h.ring.TryPop(); ok {
			out = append(out, trade)
			continue
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d trades, want %d", len(out), n)
		}
		time.Sleep(time.Millisecond)
	}
	return out
}

func TestMatcherConsumesJournal(t *testing.T) {
	h := startMatcher(t, t.TempDir())

	h.submit(t, "S1", core.Sell, 10000, 5)
	h.submit(t, "B1", core.Buy, 10100, 5)

	trades := h.drainTrades(t, 1)
	assert.Equal(t, core.Trade{BuyOrderID: "B1", SellOrderID: "S1", Price: 10000, Quantity: 5}, trades[0])

	require.Eventually(t, func() bool {
		stats, err := h.matcher.Stats(context.Background())
		return err == nil && stats.TradeCount == 1
	}, 2*time.Second, time.Millisecond)
}

func TestMatcherCancelViaJournal(t *testing.T) {
	h := startMatcher(t, t.TempDir())

	h.submit(t, "S1", core.Sell, 10000, 10)
	h.cancelOrder(t, "S1", core.Sell)
	h.submit(t, "B1", core.Buy, 11000, 5)

	// B1 rests; the canceled S1 produced no trade.
	require.Eventually(t, func() bool {
		stats, err := h.matcher.Stats(context.Background())
		return err == nil && stats.HasBid && stats.BestBidPrice == 11000
	}, 2*time.Second, time.Millisecond)

	stats, err := h.matcher.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TradeCount)
	assert.False(t, stats.HasAsk)
	assert.Equal(t, 0, h.ring.Len())
}

func TestMatcherLookup(t *testing.T) {
	h := startMatcher(t, t.TempDir())

	h.submit(t, "B1", core.Buy, 9000, 7)

	require.Eventually(t, func() bool {
		snap, err := h.matcher.Lookup(context.Background(), "B1")
		return err == nil && snap != nil
	}, 2*time.Second, time.Millisecond)

	snap, err := h.matcher.Lookup(context.Background(), "B1")
	require.NoError(t, err)
	assert.Equal(t, &OrderSnapshot{ID: "B1", Side: "BUY", Price: 9000, Remaining: 7, Status: "OPEN"}, snap)

	missing, err := h.matcher.Lookup(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMatcherCancelUnknownIDKeepsGoing(t *testing.T) {
	h := startMatcher(t, t.TempDir())

	h.cancelOrder(t, "ghost", core.Buy)
	h.submit(t, "B1", core.Buy, 9000, 1)

	require.Eventually(t, func() bool {
		stats, err := h.matcher.Stats(context.Background())
		return err == nil && stats.BidOrders == 1
	}, 2*time.Second, time.Millisecond)
}

func TestMatcherStopsOnJournalReadError(t *testing.T) {
	dir := t.TempDir()

	// A sealed segment whose header promises more payload than the file
	// holds. Sealed segments never grow, so this is an I/O failure, not
	// a tail still being written.
	frame := make([]byte, 12)
	binary.LittleEndian.PutUint32(frame[:4], 64)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001.seg"), frame, 0o644))

	cur, err := journal.OpenCursor(dir)
	require.NoError(t, err)

	m := NewMatcher(Config{
		Book:      core.NewOrderBook(),
		Cursor:    cur,
		Trades:    NewTradeRing(16),
		Logger:    zerolog.Nop(),
		IdleSleep: time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("matcher kept running past an unreadable journal")
	}

	// Queries fail fast instead of blocking forever.
	_, err = m.Lookup(context.Background(), "x")
	assert.ErrorIs(t, err, ErrMatcherStopped)
	_, err = m.Stats(context.Background())
	assert.ErrorIs(t, err, ErrMatcherStopped)
}

func TestMatcherReplayDeterminism(t *testing.T) {
	dir := t.TempDir()

	run := func() ([]core.Trade, BookStats) {
		h := startMatcher(t, dir)
		var stats BookStats
		require.Eventually(t, func() bool {
			s, err := h.matcher.Stats(context.Background())
			if err != nil {
				return false
			}
			stats = s
			return s.TradeCount == 3
		}, 2*time.Second, time.Millisecond)
		trades := h.drainTrades(t, 3)
		h.cancel()
		return trades, stats
	}

	// First run writes the log.
	{
		h := startMatcher(t, dir)
		h.submit(t, "S1", core.Sell, 10000, 3)
		h.submit(t, "S2", core.Sell, 10000, 2)
		h.submit(t, "B1", core.Buy, 10100, 6)
		h.submit(t, "S3", core.Sell, 10100, 1)
		firstTrades := h.drainTrades(t, 3)
		require.Len(t, firstTrades, 3)
		h.cancel()

		// Replaying the same log twice yields identical trades and
		// book state.
		secondTrades, secondStats := run()
		thirdTrades, thirdStats := run()
		assert.Equal(t, firstTrades, secondTrades)
		assert.Equal(t, secondTrades, thirdTrades)
		assert.Equal(t, secondStats, thirdStats)
	}
}
