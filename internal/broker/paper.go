// paper.go implements a local, no-network Broker for development and
// tests: the same mutex-guarded map structure the original paper
// trading simulator used, adapted to the store.Outcome contract every
// other broker produces. Orders fill immediately — there is no market
// data feed to price a market order against (spec.md's Non-goals
// exclude market-data streaming), so a market order's fill price is a
// fixed notional of 1 and a limit/stop order fills at its own price,
// matching the simplification the original simulator made.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradegateway/internal/store"
)

// PaperConfig configures the paper broker's starting cash balance.
type PaperConfig struct {
	InitialCapital float64 `json:"initial_capital"`
}

// PaperBroker simulates fills in-memory with no outbound network
// calls. It never rejects an order for insufficient funds; spec.md's
// broker abstraction models refusal as a broker concern, and a local
// dev broker has nothing meaningful to refuse against.
type PaperBroker struct {
	mu     sync.Mutex
	cash   decimal.Decimal
	nextID int
	orders map[string]store.Outcome
}

func init() {
	Registry["paper"] = NewPaperBroker
}

// NewPaperBroker creates a paper broker from JSON config. An empty or
// zero initial_capital defaults to 100000.
func NewPaperBroker(cfgJSON []byte) (Broker, error) {
	var cfg PaperConfig
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
			return nil, fmt.Errorf("paper broker: parse config: %w", err)
		}
	}
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = 100000
	}
	return &PaperBroker{
		cash:   decimal.NewFromFloat(cfg.InitialCapital),
		orders: make(map[string]store.Outcome),
	}, nil
}

func (pb *PaperBroker) Name() string { return "paper" }

func (pb *PaperBroker) CheckConnection(ctx context.Context) error { return nil }

func (pb *PaperBroker) GetAccountSummary(ctx context.Context) (AccountSummary, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	balance, _ := pb.cash.Float64()
	return AccountSummary{AccountID: "paper", Currency: "USD", Balance: balance}, nil
}

func (pb *PaperBroker) PlaceMarketOrder(ctx context.Context, instrument string, units decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error) {
	return pb.fill(instrument, units, decimal.NewFromInt(1)), nil
}

func (pb *PaperBroker) PlaceLimitOrder(ctx context.Context, instrument string, units decimal.Decimal, price decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error) {
	return pb.fill(instrument, units, price), nil
}

func (pb *PaperBroker) PlaceStopOrder(ctx context.Context, instrument string, units decimal.Decimal, price decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error) {
	return pb.fill(instrument, units, price), nil
}

func (pb *PaperBroker) fill(instrument string, units, price decimal.Decimal) store.Outcome {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.nextID++
	orderID := fmt.Sprintf("PAPER-%d", pb.nextID)
	cost := price.Mul(units)
	pb.cash = pb.cash.Sub(cost)

	reply, _ := json.Marshal(map[string]string{
		"paper_order_id": orderID,
		"instrument":     instrument,
	})
	outcome := store.Outcome{
		Kind:          store.OutcomeFill,
		BrokerOrderID: orderID,
		FillPrice:     price,
		FillQuantity:  units,
		RawReply:      reply,
	}
	pb.orders[orderID] = outcome
	return outcome
}

func (pb *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) (store.Outcome, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if _, ok := pb.orders[brokerOrderID]; !ok {
		return store.Outcome{Kind: store.OutcomeUnrecognized}, nil
	}
	reply, _ := json.Marshal(map[string]string{"paper_order_id": brokerOrderID, "status": "cancelled"})
	return store.Outcome{Kind: store.OutcomeCancelReply, BrokerOrderID: brokerOrderID, RawReply: reply}, nil
}

func (pb *PaperBroker) GetOrderStatus(ctx context.Context, brokerOrderID string) (store.Outcome, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	outcome, ok := pb.orders[brokerOrderID]
	if !ok {
		return store.Outcome{}, ErrUnimplemented
	}
	return outcome, nil
}
