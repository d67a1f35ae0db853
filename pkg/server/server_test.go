package server

import (
	"bytes"
	"context"
	"encoding/json"
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
)

// testServer wires a real journal and matcher behind the handler.
type testServer struct {
	ts      *httptest.Server
	matcher *engine.Matcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	app, err := journal.OpenAppender(journal.Config{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })

	cur, err := journal.OpenCursor(dir)
	require.NoError(t, err)

	matcher := engine.NewMatcher(engine.Config{
		Book:      core.NewOrderBook(),
		Cursor:    cur,
		Trades:    engine.NewTradeRing(256),
		Logger:    zerolog.Nop(),
		IdleSleep: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- matcher.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv := NewServer(app, matcher, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, matcher: matcher}
}

func (s *testServer) submit(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(s.ts.URL+"/orders", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp
}

func (s *testServer) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.ts.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSubmitOrderAccepted(t *testing.T) {
	s := newTestServer(t)

	resp := s.submit(t, `{"order_id":"o1","side":"BUY","price":10000,"quantity":5}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody[acceptedResponse](t, resp)
	assert.Equal(t, acceptedResponse{Status: "accepted", OrderID: "o1", Quantity: 5}, body)

	// The matcher picks the order up and it becomes visible.
	require.Eventually(t, func() bool {
		snap, err := s.matcher.Lookup(context.Background(), "o1")
		return err == nil && snap != nil
	}, 2*time.Second, time.Millisecond)
}

func TestSubmitOrderValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing order id", `{"side":"BUY","price":100,"quantity":5}`},
		{"bad side", `{"order_id":"o1","side":"buy","price":100,"quantity":5}`},
		{"missing side", `{"order_id":"o1","price":100,"quantity":5}`},
		{"zero price", `{"order_id":"o1","side":"BUY","price":0,"quantity":5}`},
		{"negative price", `{"order_id":"o1","side":"BUY","price":-1,"quantity":5}`},
		{"zero quantity", `{"order_id":"o1","side":"BUY","price":100,"quantity":0}`},
		{"negative quantity", `{"order_id":"o1","side":"BUY","price":100,"quantity":-2}`},
		{"not json", `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.submit(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeBody[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
		})
	}

	// None of the rejected orders reached the engine.
	stats, err := s.matcher.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.BidOrders)
	assert.Zero(t, stats.AskOrders)
}

func TestCancelOrder(t *testing.T) {
	s := newTestServer(t)

	resp := s.submit(t, `{"order_id":"o1","side":"SELL","price":10000,"quantity":5}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(t, http.MethodDelete, "/orders/o1")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		stats, err := s.matcher.Stats(context.Background())
		return err == nil && stats.AskOrders == 0 && !stats.HasAsk
	}, 2*time.Second, time.Millisecond)
}

func TestGetOrder(t *testing.T) {
	s := newTestServer(t)

	resp := s.submit(t, `{"order_id":"o1","side":"BUY","price":9000,"quantity":3}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		snap, err := s.matcher.Lookup(context.Background(), "o1")
		return err == nil && snap != nil
	}, 2*time.Second, time.Millisecond)

	resp = s.do(t, http.MethodGet, "/orders/o1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decodeBody[engine.OrderSnapshot](t, resp)
	assert.Equal(t, engine.OrderSnapshot{ID: "o1", Side: "BUY", Price: 9000, Remaining: 3, Status: "OPEN"}, snap)

	resp = s.do(t, http.MethodGet, "/orders/unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetBook(t *testing.T) {
	s := newTestServer(t)

	for i, body := range []string{
		`{"order_id":"b1","side":"BUY","price":9000,"quantity":5}`,
		`{"order_id":"s1","side":"SELL","price":10000,"quantity":2}`,
	} {
		resp := s.submit(t, body)
		require.Equal(t, http.StatusAccepted, resp.StatusCode, "submit %d", i)
		resp.Body.Close()
	}

	require.Eventually(t, func() bool {
		stats, err := s.matcher.Stats(context.Background())
		return err == nil && stats.HasBid && stats.HasAsk
	}, 2*time.Second, time.Millisecond)

	resp := s.do(t, http.MethodGet, "/book")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[engine.BookStats](t, resp)
	assert.Equal(t, int64(9000), stats.BestBidPrice)
	assert.Equal(t, int64(5), stats.BestBidQty)
	assert.Equal(t, int64(10000), stats.BestAskPrice)
	assert.Equal(t, int64(2), stats.BestAskQty)
	assert.Equal(t, 1, stats.BidOrders)
	assert.Equal(t, 1, stats.AskOrders)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestSubmitMatchFlow(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"order_id":"S1","side":"SELL","price":10000,"quantity":5}`,
		`{"order_id":"B1","side":"BUY","price":10100,"quantity":5}`,
	} {
		resp := s.submit(t, body)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
	}

	require.Eventually(t, func() bool {
		stats, err := s.matcher.Stats(context.Background())
		return err == nil && stats.TradeCount == 1
	}, 2*time.Second, time.Millisecond)

	// Both orders are fully filled and gone from the book.
	resp := s.do(t, http.MethodGet, fmt.Sprintf("/orders/%s", "B1"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
