package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nitinkhare/tradegateway/internal/apperr"
)

// MemoryStore is an in-memory Store, guarded by a single mutex in the
// style of the paper-trading broker's order book: a map keyed by id
// plus a monotonic sequence for ordering ties. It is used by tests and
// by a local/dev gateway run with no database configured.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	seq    map[string]int64
	next   int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		seq:    make(map[string]int64),
	}
}

func (s *MemoryStore) Create(_ context.Context, signal json.RawMessage, params Params) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	now := time.Now().UTC()
	s.orders[id] = &Order{
		InternalID: id,
		ReceivedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
		Signal:     signal,
		Params:     params,
		Status:     PendingSubmission,
	}
	s.next++
	s.seq[id] = s.next
	return id, nil
}

func (s *MemoryStore) ApplyReply(_ context.Context, internalID string, outcome Outcome) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[internalID]
	if !ok {
		return nil, apperr.ErrNotFound
	}

	newStatus, err := nextStatus(order.Status, outcome.Kind)
	if err != nil {
		return order, err
	}

	if outcome.BrokerOrderID != "" {
		if order.BrokerOrderID != "" && order.BrokerOrderID != outcome.BrokerOrderID {
			return order, apperr.Conflict("broker_order_id already set to a different value", nil)
		}
		order.BrokerOrderID = outcome.BrokerOrderID
	}
	if outcome.BrokerTradeID != "" {
		order.BrokerTradeID = outcome.BrokerTradeID
	}
	if !outcome.FillPrice.IsZero() {
		order.FillPrice = outcome.FillPrice
	}
	if !outcome.FillQuantity.IsZero() {
		order.FillQuantity = outcome.FillQuantity
	}
	if outcome.ErrorMessage != "" {
		order.ErrorMessage = outcome.ErrorMessage
	}
	if outcome.RawReply != nil {
		order.BrokerReply = outcome.RawReply
	}
	order.Status = newStatus
	order.UpdatedAt = time.Now().UTC()
	return order, nil
}

func (s *MemoryStore) Get(_ context.Context, internalID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[internalID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return order, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Order, 0, len(s.orders))
	for id := range s.orders {
		out = append(out, s.orders[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return s.seq[out[i].InternalID] > s.seq[out[j].InternalID]
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Close() {}
