// oanda.go implements Broker against Oanda's v20 REST API with this
// request/response plumbing: a small config struct, a shared *http.Client, a doRequest helper classifying
// transport vs. HTTP-level failures, and wire-shaped request/response
// types kept private to this file.
//
// Oanda v20:
//   - Orders: POST /v3/accounts/{account}/orders, body {"order": {...}}
//   - Cancel: PUT /v3/accounts/{account}/orders/{id}/cancel
//   - Account summary: GET /v3/accounts/{account}/summary
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradegateway/internal/store"
)

// OandaConfig holds Oanda-specific API configuration.
type OandaConfig struct {
	APIKey           string `json:"api_key"`
	AccountID        string `json:"account_id"`
	BaseURL          string `json:"base_url"`
	DefaultTimeInForce string `json:"default_time_in_force"`
}

// OandaBroker implements Broker for Oanda's v20 API.
type OandaBroker struct {
	config OandaConfig
	client *http.Client
}

func init() {
	Registry["oanda"] = NewOandaBroker
}

// NewOandaBroker creates a new Oanda broker instance from JSON config.
func NewOandaBroker(cfgJSON []byte) (Broker, error) {
	var cfg OandaConfig
	if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
		return nil, fmt.Errorf("oanda broker: parse config: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oanda broker: api_key is required")
	}
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("oanda broker: account_id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-fxtrade.oanda.com"
	}
	if cfg.DefaultTimeInForce == "" {
		cfg.DefaultTimeInForce = "GTC"
	}
	return &OandaBroker{
		config: cfg,
		client: &http.Client{Timeout: WriteTimeout},
	}, nil
}

func (o *OandaBroker) Name() string { return "oanda" }

// --- wire types ---

type oandaOrderEnvelope struct {
	Order oandaOrderBody `json:"order"`
}

type oandaOrderBody struct {
	Type              string                `json:"type"`
	Instrument        string                `json:"instrument"`
	Units             string                `json:"units"`
	Price             string                `json:"price,omitempty"`
	TimeInForce       string                `json:"timeInForce"`
	StopLossOnFill    *oandaOnFill          `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill  *oandaOnFill          `json:"takeProfitOnFill,omitempty"`
}

type oandaOnFill struct {
	Price       string `json:"price"`
	TimeInForce string `json:"timeInForce"`
}

// oandaReply is the generic shape of every Oanda order-affecting
// response: at most one of these transaction fields is present, and
// which one is present tags the outcome per spec §4.5's reconciliation
// map.
type oandaReply struct {
	OrderCreateTransaction *oandaTransaction `json:"orderCreateTransaction,omitempty"`
	OrderFillTransaction   *oandaFillTx      `json:"orderFillTransaction,omitempty"`
	OrderCancelTransaction *oandaCancelTx    `json:"orderCancelTransaction,omitempty"`
	OrderRejectTransaction *oandaRejectTx    `json:"orderRejectTransaction,omitempty"`
	ErrorMessage           string            `json:"errorMessage,omitempty"`
}

type oandaTransaction struct {
	ID string `json:"id"`
}

type oandaFillTx struct {
	ID          string `json:"id"`
	OrderID     string `json:"orderID"`
	Price       string `json:"price"`
	Units       string `json:"units"`
	TradeOpened *struct {
		TradeID string `json:"tradeID"`
	} `json:"tradeOpened,omitempty"`
}

type oandaCancelTx struct {
	OrderID string `json:"orderID"`
	Reason  string `json:"reason"`
}

type oandaRejectTx struct {
	RejectReason string `json:"rejectReason"`
}

type oandaAccountSummary struct {
	Account struct {
		ID       string `json:"id"`
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
	} `json:"account"`
}

// --- HTTP helper ---

func (o *OandaBroker) doRequest(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	url := o.config.BaseURL + path

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
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	resp, err := o.client.Do(req)
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

// transportError marks a failure as connection/timeout-level so
// classifyTransportOrInternal can map it to store.OutcomeTransportErr.
type transportError struct{ err error }

func (t transportError) Error() string { return t.err.Error() }
func (t transportError) Unwrap() error  { return t.err }

func (o *OandaBroker) CheckConnection(ctx context.Context) error {
	_, err := o.GetAccountSummary(ctx)
	return err
}

func (o *OandaBroker) GetAccountSummary(ctx context.Context) (AccountSummary, error) {
	status, body, err := o.doRequest(ctx, http.MethodGet, fmt.Sprintf("/v3/accounts/%s/summary", o.config.AccountID), nil)
	if err != nil {
		return AccountSummary{}, err
	}
	if status >= 400 {
		return AccountSummary{}, fmt.Errorf("oanda broker: account summary failed (%d): %s", status, body)
	}
	var summary oandaAccountSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return AccountSummary{}, fmt.Errorf("oanda broker: parse account summary: %w", err)
	}
	balance, _ := decimal.NewFromString(summary.Account.Balance)
	return AccountSummary{
		AccountID: summary.Account.ID,
		Currency:  summary.Account.Currency,
		Balance:   balance.InexactFloat64(),
		Raw:       json.RawMessage(body),
	}, nil
}

func (o *OandaBroker) PlaceMarketOrder(ctx context.Context, instrument string, units decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error) {
	body := o.buildOrderBody("MARKET", instrument, units, nil, stopLoss, takeProfit, "FOK")
	return o.submitOrder(ctx, body)
}

func (o *OandaBroker) PlaceLimitOrder(ctx context.Context, instrument string, units decimal.Decimal, price decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error) {
	body := o.buildOrderBody("LIMIT", instrument, units, &price, stopLoss, takeProfit, o.config.DefaultTimeInForce)
	return o.submitOrder(ctx, body)
}

func (o *OandaBroker) PlaceStopOrder(ctx context.Context, instrument string, units decimal.Decimal, price decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (store.Outcome, error) {
	body := o.buildOrderBody("STOP", instrument, units, &price, stopLoss, takeProfit, o.config.DefaultTimeInForce)
	return o.submitOrder(ctx, body)
}

func (o *OandaBroker) buildOrderBody(orderType, instrument string, units decimal.Decimal, price *decimal.Decimal, stopLoss, takeProfit *decimal.Decimal, tif string) oandaOrderEnvelope {
	order := oandaOrderBody{
		Type:        orderType,
		Instrument:  instrument,
		Units:       units.String(),
		TimeInForce: tif,
	}
	if price != nil {
		order.Price = price.String()
	}
	if stopLoss != nil {
		order.StopLossOnFill = &oandaOnFill{Price: stopLoss.String(), TimeInForce: tif}
	}
	if takeProfit != nil {
		order.TakeProfitOnFill = &oandaOnFill{Price: takeProfit.String(), TimeInForce: tif}
	}
	return oandaOrderEnvelope{Order: order}
}

func (o *OandaBroker) submitOrder(ctx context.Context, body oandaOrderEnvelope) (store.Outcome, error) {
	status, respBody, err := o.doRequest(ctx, http.MethodPost, fmt.Sprintf("/v3/accounts/%s/orders", o.config.AccountID), body)
	if err != nil {
		return classifyTransportOrInternal(err, respBody), nil
	}
	return classifyOandaReply(status, respBody), nil
}

func (o *OandaBroker) CancelOrder(ctx context.Context, brokerOrderID string) (store.Outcome, error) {
	path := fmt.Sprintf("/v3/accounts/%s/orders/%s/cancel", o.config.AccountID, brokerOrderID)
	status, respBody, err := o.doRequest(ctx, http.MethodPut, path, nil)
	if err != nil {
		return classifyTransportOrInternal(err, respBody), nil
	}
	return classifyOandaReply(status, respBody), nil
}

func (o *OandaBroker) GetOrderStatus(ctx context.Context, brokerOrderID string) (store.Outcome, error) {
	return store.Outcome{}, ErrUnimplemented
}

// classifyOandaReply implements spec §4.5's reconciliation map and the
// broker-shaped-refusal vs. unrecognized-reply distinction.
func classifyOandaReply(status int, body []byte) store.Outcome {
	var reply oandaReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return store.Outcome{Kind: store.OutcomeUnrecognized, RawReply: body}
	}

	switch {
	case reply.OrderFillTransaction != nil:
		fillPrice, _ := decimal.NewFromString(reply.OrderFillTransaction.Price)
		fillQty, _ := decimal.NewFromString(reply.OrderFillTransaction.Units)
		tradeID := ""
		if reply.OrderFillTransaction.TradeOpened != nil {
			tradeID = reply.OrderFillTransaction.TradeOpened.TradeID
		}
		return store.Outcome{
			Kind:          store.OutcomeFill,
			BrokerOrderID: reply.OrderFillTransaction.OrderID,
			BrokerTradeID: tradeID,
			FillPrice:     fillPrice,
			FillQuantity:  fillQty,
			RawReply:      body,
		}
	case reply.OrderCreateTransaction != nil:
		return store.Outcome{
			Kind:          store.OutcomeAccepted,
			BrokerOrderID: reply.OrderCreateTransaction.ID,
			RawReply:      body,
		}
	case reply.OrderCancelTransaction != nil:
		return store.Outcome{
			Kind:          store.OutcomeCancelReply,
			BrokerOrderID: reply.OrderCancelTransaction.OrderID,
			ErrorMessage:  reply.OrderCancelTransaction.Reason,
			RawReply:      body,
		}
	case reply.OrderRejectTransaction != nil:
		return store.Outcome{
			Kind:         store.OutcomeRejectReply,
			ErrorMessage: reply.OrderRejectTransaction.RejectReason,
			RawReply:     body,
		}
	case status >= 400:
		msg := reply.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("oanda API error %d: %s", status, body)
		}
		return store.Outcome{Kind: store.OutcomeBrokerRefusal, ErrorMessage: msg, RawReply: body}
	default:
		return store.Outcome{Kind: store.OutcomeUnrecognized, RawReply: body}
	}
}

func classifyTransportOrInternal(err error, body []byte) store.Outcome {
	var te transportError
	if errors.As(err, &te) {
		return store.Outcome{Kind: store.OutcomeTransportErr, ErrorMessage: err.Error()}
	}
	return store.Outcome{Kind: store.OutcomeInternalErr, ErrorMessage: err.Error(), RawReply: body}
}
