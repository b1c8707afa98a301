// Package signal validates a raw externally-originated trade signal
// and normalizes it into store.Params. It talks to neither the broker
// nor the store: Process is a pure function of the signal and the
// current configuration.
package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradegateway/internal/apperr"
	"github.com/nitinkhare/tradegateway/internal/config"
	"github.com/nitinkhare/tradegateway/internal/store"
)

// Raw is the decoded shape of an incoming signal, covering both the
// webhook and manual-entry endpoints. WebhookSecret is read for
// authentication by the HTTP surface and stripped before Process is
// ever called with the value that gets persisted.
type Raw struct {
	Instrument    string          `json:"instrument"`
	Action        string          `json:"action"`
	Quantity      json.Number     `json:"quantity,omitempty"`
	Type          string          `json:"type,omitempty"`
	Price         json.Number     `json:"price,omitempty"`
	StopLoss      json.Number     `json:"stop_loss,omitempty"`
	TakeProfit    json.Number     `json:"take_profit,omitempty"`
	WebhookSecret string          `json:"webhook_secret,omitempty"`
}

// Processor validates and normalizes raw signals against the
// configured allow-list, defaults, and per-instrument bounds.
type Processor struct {
	cfg *config.Manager
}

// New creates a Processor reading policy from cfg.
func New(cfg *config.Manager) *Processor {
	return &Processor{cfg: cfg}
}

// Process validates raw per spec §4.4's ordering — required fields,
// instrument allow-list, action, order type, price/SL/TP well-formed,
// quantity resolution, then per-instrument bounds — and returns the
// normalized params. The first failure aborts with a ClientError.
func (p *Processor) Process(raw Raw) (store.Params, error) {
	instrument := strings.ToUpper(strings.TrimSpace(raw.Instrument))
	action := strings.ToLower(strings.TrimSpace(raw.Action))

	if instrument == "" {
		return store.Params{}, apperr.Client("instrument field is missing or empty")
	}
	if action == "" {
		return store.Params{}, apperr.Client("action field is required")
	}

	if allowed := p.cfg.GetStringSlice("trading.allowed_instruments"); len(allowed) > 0 {
		if !contains(allowed, instrument) {
			return store.Params{}, apperr.Client("instrument %q is not in the allowed_instruments list", instrument)
		}
	}

	if action != "buy" && action != "sell" {
		return store.Params{}, apperr.Client("invalid action %q: must be \"buy\" or \"sell\"", action)
	}

	orderType := strings.ToUpper(strings.TrimSpace(raw.Type))
	if orderType == "" {
		orderType = strings.ToUpper(p.cfg.GetString("trading.defaults.order_type", string(store.Market)))
	}
	switch store.OrderType(orderType) {
	case store.Market, store.Limit, store.Stop:
	default:
		return store.Params{}, apperr.Client("invalid order type %q: must be MARKET, LIMIT, or STOP", orderType)
	}

	var price, stopLoss, takeProfit *decimal.Decimal
	if store.OrderType(orderType) != store.Market {
		d, err := requirePositive(raw.Price, "price")
		if err != nil {
			return store.Params{}, err
		}
		price = d
	} else if raw.Price != "" {
		d, err := requirePositive(raw.Price, "price")
		if err != nil {
			return store.Params{}, err
		}
		price = d
	}
	if raw.StopLoss != "" {
		d, err := requirePositive(raw.StopLoss, "stop_loss")
		if err != nil {
			return store.Params{}, err
		}
		stopLoss = d
	}
	if raw.TakeProfit != "" {
		d, err := requirePositive(raw.TakeProfit, "take_profit")
		if err != nil {
			return store.Params{}, err
		}
		takeProfit = d
	}

	quantity, err := p.resolveQuantity(raw.Quantity, instrument)
	if err != nil {
		return store.Params{}, err
	}

	if err := p.checkQuantityBounds(quantity, instrument); err != nil {
		return store.Params{}, err
	}

	units := quantity
	if action == "sell" {
		units = units.Neg()
	}

	return store.Params{
		Instrument: instrument,
		Units:      units,
		OrderType:  store.OrderType(orderType),
		Price:      price,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}, nil
}

func (p *Processor) resolveQuantity(fromSignal json.Number, instrument string) (decimal.Decimal, error) {
	if fromSignal != "" {
		q, err := decimal.NewFromString(fromSignal.String())
		if err != nil {
			return decimal.Zero, apperr.Client("invalid quantity %q", fromSignal.String())
		}
		if !q.IsPositive() {
			return decimal.Zero, apperr.Client("invalid quantity %s: must be a positive number", q.String())
		}
		return q, nil
	}

	instrKey := fmt.Sprintf("trading.instrument_settings.%s.default_quantity", instrument)
	if v := p.cfg.Get(instrKey, nil); v != nil {
		if q, ok := toDecimal(v); ok {
			return q, nil
		}
	}

	global := p.cfg.GetFloat("trading.defaults.quantity", 1)
	q := decimal.NewFromFloat(global)
	if !q.IsPositive() {
		return decimal.Zero, apperr.Client("configured default quantity %s is not a positive number", q.String())
	}
	return q, nil
}

func (p *Processor) checkQuantityBounds(quantity decimal.Decimal, instrument string) error {
	minKey := fmt.Sprintf("trading.instrument_settings.%s.min_quantity", instrument)
	maxKey := fmt.Sprintf("trading.instrument_settings.%s.max_quantity", instrument)

	if v := p.cfg.Get(minKey, nil); v != nil {
		if minQty, ok := toDecimal(v); ok && quantity.LessThan(minQty) {
			return apperr.Client("quantity %s for %s is below minimum allowed (%s)", quantity.String(), instrument, minQty.String())
		}
	}
	if v := p.cfg.Get(maxKey, nil); v != nil {
		if maxQty, ok := toDecimal(v); ok && quantity.GreaterThan(maxQty) {
			return apperr.Client("quantity %s for %s exceeds maximum allowed (%s)", quantity.String(), instrument, maxQty.String())
		}
	}
	return nil
}

func requirePositive(n json.Number, field string) (*decimal.Decimal, error) {
	if n == "" {
		return nil, apperr.Client("%s is required", field)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return nil, apperr.Client("invalid %s %q", field, n.String())
	}
	if !d.IsPositive() {
		return nil, apperr.Client("%s must be > 0", field)
	}
	return &d, nil
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
