// Package broker defines the capability interface over brokerages
// (spec §4.5). The HTTP surface holds exactly one implementation,
// chosen at startup by the configured broker.name. A broker
// implementation owns both per-broker request shaping and reply
// reconciliation: every call returns a store.Outcome already
// classified into the tagged variant the store understands, never a
// raw payload.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradegateway/internal/store"
)

// AccountSummary is opaque to the engine outside of diagnostics; each
// broker fills in what its account endpoint returns.
type AccountSummary struct {
	AccountID string
	Currency  string
	Balance   float64
	Raw       json.RawMessage
}

// ErrUnimplemented is returned by GetOrderStatus implementations that
// do not expose a standalone status lookup (spec §4.5 marks this
// capability optional).
var ErrUnimplemented = fmt.Errorf("broker: capability not implemented")

// Broker is the capability set every broker implementation satisfies.
type Broker interface {
	Name() string

	// CheckConnection succeeds iff GetAccountSummary succeeds.
	CheckConnection(ctx context.Context) error

	GetAccountSummary(ctx context.Context) (AccountSummary, error)

	PlaceMarketOrder(ctx context.Context, instrument string, units decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error)
	PlaceLimitOrder(ctx context.Context, instrument string, units decimal.Decimal, price decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error)
	PlaceStopOrder(ctx context.Context, instrument string, units decimal.Decimal, price decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error)
	CancelOrder(ctx context.Context, brokerOrderID string) (store.Outcome, error)

	// GetOrderStatus is optional; implementations without a standalone
	// lookup return ErrUnimplemented.
	GetOrderStatus(ctx context.Context, brokerOrderID string) (store.Outcome, error)
}

// Registry maps broker names to their factory functions. New broker
// implementations register themselves here from an init func.
var Registry = map[string]func(cfgJSON []byte) (Broker, error){}

// New instantiates the broker named by name using cfgJSON as its
// configuration. Fails fast if name is unset or unknown.
func New(name string, cfgJSON []byte) (Broker, error) {
	if name == "" {
		return nil, fmt.Errorf("broker: broker.name is not configured")
	}
	factory, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("broker: unknown broker %q, registered: %v", name, registeredNames())
	}
	return factory(cfgJSON)
}

func registeredNames() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	return names
}

// ReadTimeout (10s) and WriteTimeout (15s) are the broker HTTP
// timeouts. The Oanda and Alpaca clients apply WriteTimeout to every
// call, reads included; ReadTimeout is not used by either client.
const (
	ReadTimeout  = 10 * time.Second
	WriteTimeout = 15 * time.Second
)
