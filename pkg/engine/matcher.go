package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickmatch/engine/pkg/core"
	"github.com/tickmatch/engine/pkg/journal"
)

const defaultIdleSleep = 100 * time.Microsecond

// ErrMatcherStopped is returned by Lookup and Stats once Run has
// exited; nothing will ever answer a query after that.
var ErrMatcherStopped = errors.New("matcher stopped")

// Metrics receives matcher-side counters. All methods are called from
// the matcher goroutine only.
type Metrics interface {
	RecordSubmitted(ctx context.Context)
	RecordCanceled(ctx context.Context)
	RecordTrades(ctx context.Context, n int)
	RecordDecodeError(ctx context.Context)
	RecordBook(ctx context.Context, bidOrders, askOrders int)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordSubmitted(context.Context)      {}
func (NopMetrics) RecordCanceled(context.Context)       {}
func (NopMetrics) RecordTrades(context.Context, int)    {}
func (NopMetrics) RecordDecodeError(context.Context)    {}
func (NopMetrics) RecordBook(context.Context, int, int) {}

// OrderSnapshot is a copy of an order's state, safe to hand to other
// goroutines.
type OrderSnapshot struct {
	ID        string `json:"id"`
	Side      string `json:"side"`
	Price     int64  `json:"price"`
	Remaining int64  `json:"remaining_qty"`
	Status    string `json:"status"`
}

// BookStats is a point-in-time summary of the book.
type BookStats struct {
	BestBidPrice int64  `json:"best_bid_price"`
	BestBidQty   int64  `json:"best_bid_qty"`
	HasBid       bool   `json:"has_bid"`
	BestAskPrice int64  `json:"best_ask_price"`
	BestAskQty   int64  `json:"best_ask_qty"`
	HasAsk       bool   `json:"has_ask"`
	BidOrders    int    `json:"bid_orders"`
	AskOrders    int    `json:"ask_orders"`
	TradeCount   uint64 `json:"trade_count"`
}

type queryKind uint8

const (
	queryLookup queryKind = iota
	queryStats
)

type query struct {
	kind    queryKind
	orderID string
	reply   chan queryResult
}

type queryResult struct {
	order *OrderSnapshot
	stats BookStats
}

// Config wires a Matcher together. Book, Cursor and Trades are
// required; the rest defaults to no-ops.
type Config struct {
	Book      *core.OrderBook
	Cursor    *journal.Cursor
	Trades    *TradeRing
	Logger    zerolog.Logger
	Metrics   Metrics
	IdleSleep time.Duration
}

// Matcher tails the journal and drives the order book. It owns the
// book exclusively; external reads go through Lookup and Stats, which
// are answered on the matcher goroutine between records.
type Matcher struct {
	book      *core.OrderBook
	cursor    *journal.Cursor
	trades    *TradeRing
	logger    zerolog.Logger
	metrics   Metrics
	idleSleep time.Duration
	queries   chan query
	stopped   chan struct{}
}

// NewMatcher creates a matcher.
func NewMatcher(cfg Config) *Matcher {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	idle := cfg.IdleSleep
	if idle <= 0 {
		idle = defaultIdleSleep
	}
	return &Matcher{
		book:      cfg.Book,
		cursor:    cfg.Cursor,
		trades:    cfg.Trades,
		logger:    cfg.Logger.With().Str("component", "matcher").Logger(),
		metrics:   metrics,
		idleSleep: idle,
		queries:   make(chan query, 64),
		stopped:   make(chan struct{}),
	}
}

// Run consumes the journal until the context is canceled or an I/O
// error makes further progress impossible. The cursor is released on
// every exit path. On start the cursor sits at the journal head, so
// the whole log replays and the book converges to the same state on
// every restart.
func (m *Matcher) Run(ctx context.Context) error {
	defer close(m.stopped)
	defer m.cursor.Close()

	m.logger.Info().Msg("matcher started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("matcher stopped")
			return nil
		case q := <-m.queries:
			m.answer(q)
			continue
		default:
		}

		rec, err := m.cursor.Next()
		switch {
		case err == nil:
			if err := m.apply(ctx, rec); err != nil {
				m.logger.Error().Err(err).Msg("invariant violation, aborting")
				return err
			}
		case errors.Is(err, journal.ErrNoData):
			runtime.Gosched()
			m.idle(ctx)
		case errors.Is(err, journal.ErrCorruptRecord):
			m.logger.Warn().Err(err).Msg("skipping corrupt journal record")
			m.metrics.RecordDecodeError(ctx)
		default:
			m.logger.Error().Err(err).Msg("journal read failed")
			return fmt.Errorf("matcher: journal read: %w", err)
		}
	}
}

// idle blocks briefly while the journal tail is empty, still answering
// queries so reads never wait on a quiet market.
func (m *Matcher) idle(ctx context.Context) {
	timer := time.NewTimer(m.idleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case q := <-m.queries:
		m.answer(q)
	case <-timer.C:
	}
}

// apply dispatches one journal record to the book. Only an invariant
// violation inside matching returns an error; everything else is
// logged and skipped.
func (m *Matcher) apply(ctx context.Context, rec *journal.Record) error {
	switch rec.Kind {
	case journal.KindSubmit:
		order, err := core.NewOrder(rec.OrderID, rec.Side, rec.Price, rec.Quantity)
		if err != nil {
			// The adapter validates before appending, so this
			// means the journal was written by something else.
			m.logger.Warn().Err(err).Str("order_id", rec.OrderID).Msg("skipping malformed submit record")
			m.metrics.RecordDecodeError(ctx)
			return nil
		}

		trades, err := m.book.Submit(order)
		if err != nil {
			if errors.Is(err, core.ErrOrderExists) {
				m.logger.Warn().Str("order_id", rec.OrderID).Msg("skipping duplicate order id")
				return nil
			}
			return fmt.Errorf("matcher: submit %s: %w", rec.OrderID, err)
		}

		for _, t := range trades {
			m.trades.Push(t)
		}
		m.metrics.RecordSubmitted(ctx)
		if len(trades) > 0 {
			m.metrics.RecordTrades(ctx, len(trades))
		}
		bids, asks := m.book.RestingOrders()
		m.metrics.RecordBook(ctx, bids, asks)

		m.logger.Debug().
			Str("order_id", rec.OrderID).
			Str("side", rec.Side.String()).
			Int64("price", rec.Price).
			Int64("quantity", rec.Quantity).
			Int("trades", len(trades)).
			Msg("order processed")

	case journal.KindCancel:
		canceled := m.book.Cancel(rec.OrderID)
		m.metrics.RecordCanceled(ctx)
		m.logger.Debug().
			Str("order_id", rec.OrderID).
			Bool("canceled", canceled).
			Msg("cancel processed")

	default:
		m.logger.Warn().Uint8("kind", uint8(rec.Kind)).Msg("ignoring unknown record kind")
	}
	return nil
}

func (m *Matcher) answer(q query) {
	var res queryResult
	switch q.kind {
	case queryLookup:
		if o := m.book.Lookup(q.orderID); o != nil {
			res.order = &OrderSnapshot{
				ID:        o.ID(),
				Side:      o.Side().String(),
				Price:     o.Price(),
				Remaining: o.Remaining(),
				Status:    o.Status().String(),
			}
		}
	case queryStats:
		res.stats.BestBidPrice, res.stats.BestBidQty, res.stats.HasBid = m.book.BestBid()
		res.stats.BestAskPrice, res.stats.BestAskQty, res.stats.HasAsk = m.book.BestAsk()
		res.stats.BidOrders, res.stats.AskOrders = m.book.RestingOrders()
		res.stats.TradeCount = m.book.TradeCount()
	}
	q.reply <- res
}

// Lookup returns a snapshot of the order with the given ID, or nil
// when it is not indexed. Safe to call from any goroutine while Run is
// active.
func (m *Matcher) Lookup(ctx context.Context, orderID string) (*OrderSnapshot, error) {
	res, err := m.ask(ctx, query{kind: queryLookup, orderID: orderID, reply: make(chan queryResult, 1)})
	if err != nil {
		return nil, err
	}
	return res.order, nil
}

// Stats returns a snapshot of the book's top and counters. Safe to
// call from any goroutine while Run is active.
func (m *Matcher) Stats(ctx context.Context) (BookStats, error) {
	res, err := m.ask(ctx, query{kind: queryStats, reply: make(chan queryResult, 1)})
	if err != nil {
		return BookStats{}, err
	}
	return res.stats, nil
}

func (m *Matcher) ask(ctx context.Context, q query) (queryResult, error) {
	select {
	case m.queries <- q:
	case <-m.stopped:
		return queryResult{}, ErrMatcherStopped
	case <-ctx.Done():
		return queryResult{}, ctx.Err()
	}
	select {
	case res := <-q.reply:
		return res, nil
	case <-m.stopped:
		// The reply may have raced the shutdown; prefer it if present.
		select {
		case res := <-q.reply:
			return res, nil
		default:
		}
		return queryResult{}, ErrMatcherStopped
	case <-ctx.Done():
		return queryResult{}, ctx.Err()
	}
}
