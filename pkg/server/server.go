package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tickmatch/engine/pkg/core"
	"github.com/tickmatch/engine/pkg/engine"
	"github.com/tickmatch/engine/pkg/journal"
	"github.com/tickmatch/engine/pkg/logging"
	"github.com/tickmatch/engine/pkg/otel"
)

// Server is the HTTP submission and inspection surface. Accepted
// orders and cancels go into the journal; the matcher picks them up
// asynchronously, so a 202 means "logged", not "executed". Reads are
// answered from the matcher's query API.
type Server struct {
	mu       sync.Mutex
	appender *journal.Appender
	matcher  *engine.Matcher
	logger   zerolog.Logger
}

// NewServer creates a server writing to appender and reading through
// matcher.
func NewServer(appender *journal.Appender, matcher *engine.Matcher, logger zerolog.Logger) *Server {
	return &Server{
		appender: appender,
		matcher:  matcher,
		logger:   logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the routed handler with request logging attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", s.handleSubmitOrder)
	mux.HandleFunc("DELETE /orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("GET /orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /book", s.handleGetBook)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return logging.Middleware(mux)
}

type submitRequest struct {
	OrderID  string `json:"order_id"`
	Side     string `json:"side"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type acceptedResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
	// Quantity echoes what was submitted, not what remains after
	// matching; the order has not been matched yet at accept time.
	Quantity int64 `json:"quantity,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleSubmitOrder validates and journals a new order. Invalid orders
// never reach the journal.
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	side, err := core.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, "side must be BUY or SELL")
		return
	}
	if req.Price <= 0 {
		writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	ctx, span := otel.StartSpan(r.Context(), otel.SpanAcceptOrder,
		attribute.String(otel.AttributeOrderID, req.OrderID),
		attribute.String(otel.AttributeOrderSide, req.Side),
		attribute.Int64(otel.AttributeOrderPrice, req.Price),
		attribute.Int64(otel.AttributeOrderQuantity, req.Quantity),
	)
	defer otel.EndSpan(span)

	rec := &journal.Record{
		Kind:     journal.KindSubmit,
		OrderID:  req.OrderID,
		Side:     side,
		Price:    req.Price,
		Quantity: req.Quantity,
	}
	if err := s.append(rec); err != nil {
		if errors.Is(err, journal.ErrInvalidRecord) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger := logging.FromContext(ctx)
		logger.Error().Err(err).Msg("journal append failed")
		writeError(w, http.StatusInternalServerError, "failed to accept order")
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		Status:   "accepted",
		OrderID:  req.OrderID,
		Quantity: req.Quantity,
	})
}

// handleCancelOrder journals a cancel request. Acceptance does not
// mean the order was cancelable; log order decides any race with a
// fill.
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}

	ctx, span := otel.StartSpan(r.Context(), otel.SpanAcceptCancel,
		attribute.String(otel.AttributeOrderID, orderID),
	)
	defer otel.EndSpan(span)

	rec := &journal.Record{Kind: journal.KindCancel, OrderID: orderID}
	if err := s.append(rec); err != nil {
		logger := logging.FromContext(ctx)
		logger.Error().Err(err).Msg("journal append failed")
		writeError(w, http.StatusInternalServerError, "failed to accept cancel")
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", OrderID: orderID})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	snap, err := s.matcher.Lookup(r.Context(), orderID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "engine unavailable")
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	stats, err := s.matcher.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "engine unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// append serializes handler goroutines into the journal's single
// producer.
func (s *Server) append(rec *journal.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appender.Append(rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
