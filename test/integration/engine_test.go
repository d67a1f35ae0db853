package integration

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickmatch/engine/pkg/core"
	"github.com/tickmatch/engine/pkg/engine"
	"github.com/tickmatch/engine/pkg/journal"
	"github.com/tickmatch/engine/pkg/messaging"
	"github.com/tickmatch/engine/pkg/server"
)

// pipeline is the whole system wired together the way cmd/server does
// it: HTTP surface, journal, matcher, trade ring, publisher, with a
// mock sender standing in for Kafka.
type pipeline struct {
	ts      *httptest.Server
	matcher *engine.Matcher
	sender  *messaging.MockTradeSender
	stop    func()
}

func startPipeline(t *testing.T, dir string) *pipeline {
	t.Helper()

	appender, err := journal.OpenAppender(journal.Config{Dir: dir})
	require.NoError(t, err)

	cursor, err := journal.OpenCursor(dir)
	require.NoError(t, err)

	ring := engine.NewTradeRing(1024)
	matcher := engine.NewMatcher(engine.Config{
		Book:      core.NewOrderBook(),
		Cursor:    cursor,
		Trades:    ring,
		Logger:    zerolog.Nop(),
		IdleSleep: time.Millisecond,
	})

	sender := messaging.NewMockTradeSender()
	publisher := engine.NewPublisher(ring, sender, zerolog.Nop())

	matcherCtx, stopMatcher := context.WithCancel(context.Background())
	publisherCtx, stopPublisher := context.WithCancel(context.Background())
	matcherDone := make(chan error, 1)
	publisherDone := make(chan struct{})
	go func() { matcherDone <- matcher.Run(matcherCtx) }()
	go func() {
		publisher.Run(publisherCtx)
		close(publisherDone)
	}()

	srv := server.NewServer(appender, matcher, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())

	// Shutdown order matches cmd/server: ingress, then matcher, then
	// publisher, so the final ring drain sees every pushed trade.
	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		ts.Close()
		stopMatcher()
		<-matcherDone
		stopPublisher()
		<-publisherDone
		appender.Close()
	}
	t.Cleanup(stop)

	return &pipeline{ts: ts, matcher: matcher, sender: sender, stop: stop}
}

func (p *pipeline) submit(t *testing.T, id, side string, price, qty int64) {
	t.Helper()
	body := fmt.Sprintf(`{"order_id":%q,"side":%q,"price":%d,"quantity":%d}`, id, side, price, qty)
	resp, err := http.Post(p.ts.URL+"/orders", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func (p *pipeline) cancel(t *testing.T, id string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, p.ts.URL+"/orders/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func (p *pipeline) waitForTrades(t *testing.T, n int) []messaging.TradeMessage {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(p.sender.Trades()) >= n
	}, 5*time.Second, time.Millisecond)
	return p.sender.Trades()
}

func TestPipelineEndToEnd(t *testing.T) {
	p := startPipeline(t, t.TempDir())

	// A resting ask, then a crossing bid. The trade executes at the
	// maker's price and reaches the sender.
	p.submit(t, "S1", "SELL", 10000, 5)
	p.submit(t, "B1", "BUY", 10100, 5)

	trades := p.waitForTrades(t, 1)
	require.Len(t, trades, 1)
	assert.Equal(t, messaging.TradeMessage{
		BuyOrderID:  "B1",
		SellOrderID: "S1",
		Price:       10000,
		Quantity:    5,
	}, trades[0])

	// Both orders fully filled, nothing rests.
	stats, err := p.matcher.Stats(context.Background())
	require.NoError(t, err)
	assert.False(t, stats.HasBid)
	assert.False(t, stats.HasAsk)
	assert.Equal(t, uint64(1), stats.TradeCount)
}

func TestPipelinePartialFillAndCancel(t *testing.T) {
	p := startPipeline(t, t.TempDir())

	p.submit(t, "S1", "SELL", 10000, 10)
	p.submit(t, "B1", "BUY", 10000, 4)

	trades := p.waitForTrades(t, 1)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(4), trades[0].Quantity)

	// S1 still rests with 6 remaining.
	require.Eventually(t, func() bool {
		snap, err := p.matcher.Lookup(context.Background(), "S1")
		return err == nil && snap != nil && snap.Remaining == 6
	}, 5*time.Second, time.Millisecond)

	// Cancel the remainder; it leaves the book and the index.
	p.cancel(t, "S1")
	require.Eventually(t, func() bool {
		stats, err := p.matcher.Stats(context.Background())
		return err == nil && !stats.HasAsk
	}, 5*time.Second, time.Millisecond)

	snap, err := p.matcher.Lookup(context.Background(), "S1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestPipelineRestartReplaysDeterministically(t *testing.T) {
	dir := t.TempDir()

	first := startPipeline(t, dir)
	first.submit(t, "S1", "SELL", 10000, 5)
	first.submit(t, "S2", "SELL", 10050, 5)
	first.submit(t, "B1", "BUY", 10050, 8)
	first.submit(t, "B2", "BUY", 9900, 3)
	first.cancel(t, "B2")

	firstTrades := first.waitForTrades(t, 2)
	require.Eventually(t, func() bool {
		stats, err := first.matcher.Stats(context.Background())
		return err == nil && !stats.HasBid
	}, 5*time.Second, time.Millisecond)

	firstStats, err := first.matcher.Stats(context.Background())
	require.NoError(t, err)
	first.stop()

	// A fresh process over the same journal replays the same history
	// and converges to the same book and the same trades.
	second := startPipeline(t, dir)
	secondTrades := second.waitForTrades(t, len(firstTrades))
	require.Eventually(t, func() bool {
		stats, err := second.matcher.Stats(context.Background())
		return err == nil && stats.TradeCount == firstStats.TradeCount
	}, 5*time.Second, time.Millisecond)

	secondStats, err := second.matcher.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, firstTrades, secondTrades)
	assert.Equal(t, firstStats, secondStats)

	// S2 still rests with the residue of B1's sweep.
	snap, err := second.matcher.Lookup(context.Background(), "S2")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(2), snap.Remaining)
}

func TestPipelinePriceTimePriority(t *testing.T) {
	p := startPipeline(t, t.TempDir())

	// Two asks at the same price; the earlier one fills first.
	p.submit(t, "A", "SELL", 10000, 3)
	p.submit(t, "B", "SELL", 10000, 3)
	p.submit(t, "C", "SELL", 9900, 3)
	p.submit(t, "T", "BUY", 10000, 7)

	trades := p.waitForTrades(t, 3)
	require.Len(t, trades, 3)

	// Best price first, then FIFO at the worse level.
	assert.Equal(t, "C", trades[0].SellOrderID)
	assert.Equal(t, int64(9900), trades[0].Price)
	assert.Equal(t, "A", trades[1].SellOrderID)
	assert.Equal(t, "B", trades[2].SellOrderID)
	assert.Equal(t, int64(1), trades[2].Quantity)
}
