// Package store is the durable Order Store: creation, reconciliation,
// and read access for the central order entity, backed by a single
// relational table. Every status transition after creation goes
// through ApplyReply, which enforces the terminal-state and
// broker_order_id-set-once invariants before any column is written.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradegateway/internal/apperr"
)

// Status is one of the lifecycle states an Order passes through.
type Status string

const (
	PendingSubmission Status = "PENDING_SUBMISSION"
	OrderAccepted     Status = "ORDER_ACCEPTED"
	Filled            Status = "FILLED"
	Cancelled         Status = "CANCELLED"
	RejectedByBroker  Status = "REJECTED_BY_BROKER"
	ErrorSubmitting   Status = "ERROR_SUBMITTING"
	SubmittedToBroker Status = "SUBMITTED_TO_BROKER"
)

// Terminal reports whether s is a status from which no further
// transition is permitted (invariant 2).
func (s Status) Terminal() bool {
	switch s {
	case Filled, Cancelled, RejectedByBroker, ErrorSubmitting:
		return true
	default:
		return false
	}
}

// OrderType is the normalized order kind the signal processor produces.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
	Stop   OrderType = "STOP"
)

// Params are the normalized trade parameters produced by the signal
// processor (spec §3, §4.4). Price, StopLoss, and TakeProfit are nil
// when not applicable.
type Params struct {
	Instrument string           `json:"instrument"`
	Units      decimal.Decimal  `json:"units"`
	OrderType  OrderType        `json:"order_type"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
}

// Order is the central persisted entity (spec §3).
type Order struct {
	InternalID    string          `json:"internal_id"`
	ReceivedAt    time.Time       `json:"received_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Signal        json.RawMessage `json:"signal"`
	Params        Params          `json:"params"`
	Status        Status          `json:"status"`
	BrokerOrderID string          `json:"broker_order_id"`
	BrokerTradeID string          `json:"broker_trade_id"`
	FillPrice     decimal.Decimal `json:"fill_price"`
	FillQuantity  decimal.Decimal `json:"fill_quantity"`
	BrokerReply   json.RawMessage `json:"broker_reply"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// OutcomeKind tags a broker reply (or error) that has already been run
// through a broker-specific classifier (spec §9's "tagged variant").
// The store never inspects a raw broker payload; it only sees a Kind
// plus the fields that Kind defines.
type OutcomeKind string

const (
	OutcomeFill          OutcomeKind = "fill"
	OutcomeAccepted      OutcomeKind = "accepted"
	OutcomeCancelReply   OutcomeKind = "cancel_reply"
	OutcomeRejectReply   OutcomeKind = "reject_reply"
	OutcomeUnrecognized  OutcomeKind = "unrecognized"
	OutcomeBrokerRefusal OutcomeKind = "broker_refusal"
	OutcomeTransportErr  OutcomeKind = "transport_error"
	OutcomeInternalErr   OutcomeKind = "internal_error"
)

// Outcome is the normalized result of a broker call, produced by a
// broker implementation's reconciliation classifier and consumed by
// ApplyReply. RawReply is stored verbatim as the order's broker_reply
// column for audit; it is never re-parsed by the store.
type Outcome struct {
	Kind          OutcomeKind     `json:"kind"`
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	BrokerTradeID string          `json:"broker_trade_id,omitempty"`
	FillPrice     decimal.Decimal `json:"fill_price,omitempty"`
	FillQuantity  decimal.Decimal `json:"fill_quantity,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	RawReply      json.RawMessage `json:"raw_reply,omitempty"`
}

// Store is the durable Order Store interface (spec §4.2).
type Store interface {
	// Create writes a new row with status PENDING_SUBMISSION and
	// timestamps set to now, returning the generated internal_id.
	// Fails with apperr.StoreUnavailable if the underlying engine errors.
	Create(ctx context.Context, signal json.RawMessage, params Params) (string, error)

	// ApplyReply computes the new status from outcome per the
	// reconciliation map and writes an atomic update. Fails with
	// apperr.ErrNotFound if no row matches internalID, or
	// apperr.Conflict if the transition violates an invariant (the
	// existing record is left untouched in that case).
	ApplyReply(ctx context.Context, internalID string, outcome Outcome) (*Order, error)

	// Get returns the order matching internalID, or apperr.ErrNotFound.
	Get(ctx context.Context, internalID string) (*Order, error)

	// ListAll returns every order, newest created_at first.
	ListAll(ctx context.Context) ([]*Order, error)

	// Close releases any engine-level resources (connection pool).
	Close()
}

// nextStatus computes the post-reply status per spec §4.2's state
// machine and §4.5's reconciliation map, given the order's current
// status and the classified outcome.
func nextStatus(current Status, kind OutcomeKind) (Status, error) {
	if current.Terminal() {
		return current, apperr.Conflict("order already in terminal status "+string(current), nil)
	}

	switch kind {
	case OutcomeFill:
		return Filled, nil
	case OutcomeAccepted:
		if current == OrderAccepted {
			return current, apperr.Conflict("order already accepted", nil)
		}
		return OrderAccepted, nil
	case OutcomeCancelReply:
		return Cancelled, nil
	case OutcomeRejectReply, OutcomeBrokerRefusal:
		return RejectedByBroker, nil
	case OutcomeTransportErr, OutcomeInternalErr:
		return ErrorSubmitting, nil
	case OutcomeUnrecognized:
		return SubmittedToBroker, nil
	default:
		return current, apperr.Internal("unrecognized outcome kind "+string(kind), nil)
	}
}
