// alpaca.go implements Broker against Alpaca's v2 REST API, following
// the same doRequest/classify shape as oanda.go.
//
// Alpaca v2:
//   - Orders: POST /v2/orders, DELETE /v2/orders/{id}
//   - Account: GET /v2/account
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradegateway/internal/store"
)

// AlpacaConfig holds Alpaca-specific API configuration.
type AlpacaConfig struct {
	APIKeyID        string `json:"api_key_id"`
	APISecretKey    string `json:"api_secret_key"`
	BaseURL         string `json:"base_url"`
	DefaultTimeInForce string `json:"default_time_in_force"`
}

// AlpacaBroker implements Broker for Alpaca's v2 API.
type AlpacaBroker struct {
	config AlpacaConfig
	client *http.Client
}

func init() {
	Registry["alpaca"] = NewAlpacaBroker
}

// NewAlpacaBroker creates a new Alpaca broker instance from JSON config.
func NewAlpacaBroker(cfgJSON []byte) (Broker, error) {
	var cfg AlpacaConfig
	if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
		return nil, fmt.Errorf("alpaca broker: parse config: %w", err)
	}
	if cfg.APIKeyID == "" || cfg.APISecretKey == "" {
		return nil, fmt.Errorf("alpaca broker: api_key_id and api_secret_key are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.alpaca.markets"
	}
	if cfg.DefaultTimeInForce == "" {
		cfg.DefaultTimeInForce = "gtc"
	}
	return &AlpacaBroker{
		config: cfg,
		client: &http.Client{Timeout: WriteTimeout},
	}, nil
}

func (a *AlpacaBroker) Name() string { return "alpaca" }

// --- wire types ---

type alpacaOrderReq struct {
	Symbol      string             `json:"symbol"`
	Qty         string             `json:"qty"`
	Side        string             `json:"side"`
	Type        string             `json:"type"`
	TimeInForce string             `json:"time_in_force"`
	LimitPrice  string             `json:"limit_price,omitempty"`
	StopPrice   string             `json:"stop_price,omitempty"`
	OrderClass  string             `json:"order_class,omitempty"`
	StopLoss    *alpacaBracketLeg  `json:"stop_loss,omitempty"`
	TakeProfit  *alpacaBracketLeg  `json:"take_profit,omitempty"`
}

type alpacaBracketLeg struct {
	StopPrice  string `json:"stop_price,omitempty"`
	LimitPrice string `json:"limit_price,omitempty"`
}

type alpacaOrderReply struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
	FilledAvgPrice string `json:"filled_avg_price"`
	FilledQty     string `json:"filled_qty"`
	Side          string `json:"side"`
	Message       string `json:"message"`
}

type alpacaAccountReply struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
	Equity   string `json:"equity"`
}

func (a *AlpacaBroker) doRequest(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	url := a.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("APCA-API-KEY-ID", a.config.APIKeyID)
	req.Header.Set("APCA-API-SECRET-KEY", a.config.APISecretKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, transportError{err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func (a *AlpacaBroker) CheckConnection(ctx context.Context) error {
	_, err := a.GetAccountSummary(ctx)
	return err
}

func (a *AlpacaBroker) GetAccountSummary(ctx context.Context) (AccountSummary, error) {
	status, body, err := a.doRequest(ctx, http.MethodGet, "/v2/account", nil)
	if err != nil {
		return AccountSummary{}, err
	}
	if status >= 400 {
		return AccountSummary{}, fmt.Errorf("alpaca broker: account summary failed (%d): %s", status, body)
	}
	var acct alpacaAccountReply
	if err := json.Unmarshal(body, &acct); err != nil {
		return AccountSummary{}, fmt.Errorf("alpaca broker: parse account: %w", err)
	}
	equity, _ := decimal.NewFromString(acct.Equity)
	return AccountSummary{
		AccountID: acct.ID,
		Currency:  acct.Currency,
		Balance:   equity.InexactFloat64(),
		Raw:       json.RawMessage(body),
	}, nil
}

func (a *AlpacaBroker) PlaceMarketOrder(ctx context.Context, instrument string, units decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error) {
	req := a.buildOrderReq(instrument, "market", units, nil, stopLoss, takeProfit, "day")
	return a.submitOrder(ctx, req)
}

func (a *AlpacaBroker) PlaceLimitOrder(ctx context.Context, instrument string, units decimal.Decimal, price decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error) {
	req := a.buildOrderReq(instrument, "limit", units, &price, stopLoss, takeProfit, a.config.DefaultTimeInForce)
	return a.submitOrder(ctx, req)
}

func (a *AlpacaBroker) PlaceStopOrder(ctx context.Context, instrument string, units decimal.Decimal, price decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error) {
	req := a.buildOrderReq(instrument, "stop", units, &price, stopLoss, takeProfit, a.config.DefaultTimeInForce)
	return a.submitOrder(ctx, req)
}

func (a *AlpacaBroker) buildOrderReq(instrument, orderType string, units decimal.Decimal, price *decimal.Decimal, stopLoss, takeProfit *decimal.Decimal, tif string) alpacaOrderReq {
	side := "buy"
	if units.IsNegative() {
		side = "sell"
	}
	req := alpacaOrderReq{
		Symbol:      instrument,
		Qty:         units.Abs().String(),
		Side:        side,
		Type:        orderType,
		TimeInForce: tif,
	}
	if price != nil {
		switch orderType {
		case "limit":
			req.LimitPrice = price.String()
		case "stop":
			req.StopPrice = price.String()
		}
	}
	if stopLoss != nil || takeProfit != nil {
		req.OrderClass = "bracket"
		if stopLoss != nil {
			req.StopLoss = &alpacaBracketLeg{StopPrice: stopLoss.String()}
		}
		if takeProfit != nil {
			req.TakeProfit = &alpacaBracketLeg{LimitPrice: takeProfit.String()}
		}
	}
	return req
}

func (a *AlpacaBroker) submitOrder(ctx context.Context, req alpacaOrderReq) (store.Outcome, error) {
	status, body, err := a.doRequest(ctx, http.MethodPost, "/v2/orders", req)
	if err != nil {
		return classifyTransportOrInternal(err, body), nil
	}
	return classifyAlpacaReply(status, body), nil
}

func (a *AlpacaBroker) CancelOrder(ctx context.Context, brokerOrderID string) (store.Outcome, error) {
	status, body, err := a.doRequest(ctx, http.MethodDelete, "/v2/orders/"+brokerOrderID, nil)
	if err != nil {
		return classifyTransportOrInternal(err, body), nil
	}
	// An empty 2xx means the cancel was accepted; Alpaca does not echo
	// an order body back, so spec §4.5 has the broker synthesize one.
	if status >= 200 && status < 300 {
		synthesized, _ := json.Marshal(map[string]string{
			"status":   "cancellation_requested",
			"order_id": brokerOrderID,
		})
		return store.Outcome{
			Kind:          store.OutcomeCancelReply,
			BrokerOrderID: brokerOrderID,
			RawReply:      synthesized,
		}, nil
	}
	return classifyAlpacaReply(status, body), nil
}

func (a *AlpacaBroker) GetOrderStatus(ctx context.Context, brokerOrderID string) (store.Outcome, error) {
	status, body, err := a.doRequest(ctx, http.MethodGet, "/v2/orders/"+brokerOrderID, nil)
	if err != nil {
		return classifyTransportOrInternal(err, body), nil
	}
	return classifyAlpacaReply(status, body), nil
}

// classifyAlpacaReply implements spec §4.5's reconciliation map for Alpaca.
func classifyAlpacaReply(status int, body []byte) store.Outcome {
	var reply alpacaOrderReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return store.Outcome{Kind: store.OutcomeUnrecognized, RawReply: body}
	}

	if reply.ID == "" || reply.ClientOrderID == "" {
		if status >= 400 {
			msg := reply.Message
			if msg == "" {
				msg = fmt.Sprintf("alpaca API error %d: %s", status, body)
			}
			return store.Outcome{Kind: store.OutcomeBrokerRefusal, ErrorMessage: msg, RawReply: body}
		}
		return store.Outcome{Kind: store.OutcomeUnrecognized, RawReply: body}
	}

	switch reply.Status {
	case "accepted", "new", "pending_new":
		return store.Outcome{Kind: store.OutcomeAccepted, BrokerOrderID: reply.ID, RawReply: body}
	case "filled":
		fillPrice, _ := decimal.NewFromString(reply.FilledAvgPrice)
		fillQty, _ := decimal.NewFromString(reply.FilledQty)
		if reply.Side == "sell" {
			fillQty = fillQty.Neg()
		}
		return store.Outcome{
			Kind:          store.OutcomeFill,
			BrokerOrderID: reply.ID,
			FillPrice:     fillPrice,
			FillQuantity:  fillQty,
			RawReply:      body,
		}
	case "canceled", "cancelled":
		return store.Outcome{Kind: store.OutcomeCancelReply, BrokerOrderID: reply.ID, RawReply: body}
	case "rejected":
		msg := reply.Message
		if msg == "" {
			msg = "order rejected"
		}
		return store.Outcome{Kind: store.OutcomeRejectReply, ErrorMessage: msg, RawReply: body}
	default:
		return store.Outcome{Kind: store.OutcomeUnrecognized, RawReply: body}
	}
}
