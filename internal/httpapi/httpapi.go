// Package httpapi exposes the Order Store, Position View, Signal
// Processor, and Broker over HTTP (spec §4.6). Route handlers are thin:
// all domain logic — validation, state transitions, broker dispatch —
// lives in the packages they call.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/nitinkhare/tradegateway/internal/apperr"
	"github.com/nitinkhare/tradegateway/internal/broker"
	"github.com/nitinkhare/tradegateway/internal/config"
	"github.com/nitinkhare/tradegateway/internal/position"
	"github.com/nitinkhare/tradegateway/internal/signal"
	"github.com/nitinkhare/tradegateway/internal/store"
)

// Server wires the gateway's components into a ServeMux.
type Server struct {
	cfg       *config.Manager
	store     store.Store
	positions *position.View
	processor *signal.Processor
	brk       broker.Broker
	logger    *log.Logger
	srv       *http.Server
}

// NewServer builds the Server; call Start to begin listening.
func NewServer(cfg *config.Manager, st store.Store, brk broker.Broker, logger *log.Logger) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		positions: position.New(st),
		processor: signal.New(cfg),
		brk:       brk,
		logger:    logger,
	}
}

// Mux builds the route table. Exposed separately from Start so tests
// can exercise it with httptest without binding a port.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("POST /orders", s.handleCreateOrder)
	mux.HandleFunc("GET /orders", s.handleListOrders)
	mux.HandleFunc("GET /orders/{internal_id}", s.handleGetOrder)
	mux.HandleFunc("POST /orders/{internal_id}/cancel", s.handleCancelOrder)
	mux.HandleFunc("GET /positions", s.handleListPositions)
	mux.HandleFunc("GET /positions/{instrument}", s.handleGetPosition)
	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("POST /config", s.handlePostConfig)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start begins listening on addr. It returns immediately; the server
// runs until Shutdown is called.
func (s *Server) Start(addr string) {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Mux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		s.logger.Printf("httpapi: listening on %s", addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("httpapi: server error: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// --- webhook / manual order entry ---

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var raw signal.Raw
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.respondError(w, apperr.Client("invalid JSON body: %v", err))
		return
	}

	expected := s.cfg.GetString("webhook_server.shared_secret", "")
	if expected == "" || subtle.ConstantTimeCompare([]byte(raw.WebhookSecret), []byte(expected)) != 1 {
		s.respondError(w, apperr.New(apperr.KindClient, "invalid or missing webhook_secret", nil))
		return
	}

	s.submitOrder(w, r, raw)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var raw signal.Raw
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.respondError(w, apperr.Client("invalid JSON body: %v", err))
		return
	}
	s.submitOrder(w, r, raw)
}

// submitOrder implements the control flow common to /webhook and
// POST /orders: validate, persist PENDING_SUBMISSION, dispatch to the
// broker, reconcile the result.
func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request, raw signal.Raw) {
	ctx := r.Context()

	// The shared secret is never persisted with the stored signal.
	raw.WebhookSecret = ""

	params, err := s.processor.Process(raw)
	if err != nil {
		s.respondError(w, err)
		return
	}

	rawJSON, _ := json.Marshal(raw)
	internalID, err := s.store.Create(ctx, rawJSON, params)
	if err != nil {
		s.respondError(w, err)
		return
	}

	outcome := s.dispatchToBroker(ctx, params)

	order, err := s.store.ApplyReply(ctx, internalID, outcome)
	if err != nil {
		s.logger.Printf("httpapi: reconcile %s: %v", internalID, err)
		s.respondError(w, err)
		return
	}

	httpStatus := statusForOutcome(outcome.Kind)
	if httpStatus >= 400 {
		s.respondJSON(w, httpStatus, map[string]interface{}{
			"status":            "error",
			"message":           order.ErrorMessage,
			"broker_error":      order.ErrorMessage,
			"internal_order_id": order.InternalID,
		})
		return
	}
	s.respondJSON(w, httpStatus, map[string]interface{}{
		"internal_order_id": order.InternalID,
		"broker_reply":      order.BrokerReply,
	})
}

func (s *Server) dispatchToBroker(ctx context.Context, params store.Params) store.Outcome {
	var outcome store.Outcome
	var err error

	switch params.OrderType {
	case store.Market:
		outcome, err = s.brk.PlaceMarketOrder(ctx, params.Instrument, params.Units, params.StopLoss, params.TakeProfit)
	case store.Limit:
		outcome, err = s.brk.PlaceLimitOrder(ctx, params.Instrument, params.Units, *params.Price, params.StopLoss, params.TakeProfit)
	case store.Stop:
		outcome, err = s.brk.PlaceStopOrder(ctx, params.Instrument, params.Units, *params.Price, params.StopLoss, params.TakeProfit)
	default:
		err = fmt.Errorf("httpapi: unreachable order type %s", params.OrderType)
	}

	if err != nil {
		return store.Outcome{Kind: store.OutcomeInternalErr, ErrorMessage: err.Error()}
	}
	return outcome
}

// --- reads ---

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListAll(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("internal_id")
	order, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"order": order})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("internal_id")
	ctx := r.Context()

	order, err := s.store.Get(ctx, id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if order.BrokerOrderID == "" {
		s.respondError(w, apperr.Client("order %s has no broker_order_id yet, cannot cancel", id))
		return
	}
	if order.Status != store.OrderAccepted {
		s.respondError(w, apperr.Client("order %s has status %s, cannot cancel", id, order.Status))
		return
	}

	outcome, err := s.brk.CancelOrder(ctx, order.BrokerOrderID)
	if err != nil {
		outcome = store.Outcome{Kind: store.OutcomeInternalErr, ErrorMessage: err.Error()}
	}

	updated, err := s.store.ApplyReply(ctx, id, outcome)
	if err != nil {
		s.logger.Printf("httpapi: cancel %s: %v", id, err)
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, statusForOutcome(outcome.Kind), map[string]interface{}{"order": updated})
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.positions.Positions(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	out := make(map[string]string, len(positions))
	for instrument, qty := range positions {
		out[instrument] = qty.String()
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"positions": out})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	instrument := r.PathValue("instrument")
	qty, err := s.positions.Position(r.Context(), instrument)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"instrument": instrument, "quantity": qty.String()})
}

// --- config ---

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"config": s.cfg.Raw()})
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	var tree config.Tree
	if err := json.NewDecoder(r.Body).Decode(&tree); err != nil {
		s.respondError(w, apperr.Client("invalid JSON body: %v", err))
		return
	}
	if err := s.cfg.Save(tree); err != nil {
		s.respondError(w, apperr.Internal("failed to save config", err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"config": s.cfg.Raw()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.brk.CheckConnection(r.Context()); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":       "error",
			"message":      err.Error(),
			"broker_error": err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"broker": s.brk.Name()})
}

// --- response helpers ---

// respondJSON writes fields as the JSON body, adding the spec's
// status:"success" discriminator unless the caller already set status
// (an error path that still needs a 2xx-incompatible body shape).
func (s *Server) respondJSON(w http.ResponseWriter, httpStatus int, fields map[string]interface{}) {
	if _, ok := fields["status"]; !ok {
		fields["status"] = "success"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(fields)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusForErr(err)
	s.respondJSON(w, status, map[string]interface{}{"status": "error", "message": err.Error()})
}

func statusForErr(err error) int {
	if errors.Is(err, apperr.ErrNotFound) {
		return http.StatusNotFound
	}
	switch apperr.KindOf(err) {
	case apperr.KindClient:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindBrokerRefusal, apperr.KindTransport:
		return http.StatusBadGateway
	case apperr.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// statusForOutcome maps a reconciled broker outcome to the HTTP status
// of the order-submission response (spec §7): acceptance is 2xx even
// though the underlying order may still be pending broker-side, while
// broker/transport failures surface as 5xx despite having already been
// durably recorded.
func statusForOutcome(kind store.OutcomeKind) int {
	switch kind {
	case store.OutcomeFill, store.OutcomeAccepted, store.OutcomeCancelReply:
		return http.StatusCreated
	case store.OutcomeUnrecognized:
		return http.StatusAccepted
	case store.OutcomeRejectReply, store.OutcomeBrokerRefusal, store.OutcomeTransportErr:
		return http.StatusBadGateway
	case store.OutcomeInternalErr:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
