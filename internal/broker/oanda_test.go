package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradegateway/internal/store"
)

func makeTestOandaBroker(t *testing.T, serverURL string) *OandaBroker {
	t.Helper()
	cfgJSON, _ := json.Marshal(OandaConfig{
		APIKey:    "test-key",
		AccountID: "001-001-1234567-001",
		BaseURL:   serverURL,
	})
	b, err := NewOandaBroker(cfgJSON)
	if err != nil {
		t.Fatalf("failed to create oanda broker: %v", err)
	}
	return b.(*OandaBroker)
}

// TestOandaBroker_PlaceMarketOrder_ImmediateFill mirrors scenario S1: a
// market buy that fills immediately.
func TestOandaBroker_PlaceMarketOrder_ImmediateFill(t *testing.T) {
	var received oandaOrderEnvelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/accounts/001-001-1234567-001/orders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(oandaReply{
			OrderFillTransaction: &oandaFillTx{
				ID:      "7001",
				OrderID: "7000",
				Price:   "1.08500",
				Units:   "1000",
				TradeOpened: &struct {
					TradeID string `json:"tradeID"`
				}{TradeID: "7002"},
			},
		})
	}))
	defer server.Close()

	b := makeTestOandaBroker(t, server.URL)
	outcome, err := b.PlaceMarketOrder(context.Background(), "EUR_USD", decimal.NewFromInt(1000), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != store.OutcomeFill {
		t.Fatalf("expected OutcomeFill, got %v", outcome.Kind)
	}
	if outcome.BrokerOrderID != "7000" || outcome.BrokerTradeID != "7002" {
		t.Errorf("unexpected ids: order=%s trade=%s", outcome.BrokerOrderID, outcome.BrokerTradeID)
	}
	if !outcome.FillPrice.Equal(decimal.RequireFromString("1.08500")) {
		t.Errorf("unexpected fill price: %s", outcome.FillPrice)
	}
	if !outcome.FillQuantity.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("unexpected fill quantity: %s", outcome.FillQuantity)
	}
	if received.Order.Type != "MARKET" || received.Order.TimeInForce != "FOK" {
		t.Errorf("unexpected order body: %+v", received.Order)
	}
}

// TestOandaBroker_PlaceLimitOrder_Accepted mirrors scenario S2: a limit
// sell with SL/TP that only reaches ORDER_ACCEPTED.
func TestOandaBroker_PlaceLimitOrder_Accepted(t *testing.T) {
	var received oandaOrderEnvelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(oandaReply{
			OrderCreateTransaction: &oandaTransaction{ID: "7010"},
		})
	}))
	defer server.Close()

	b := makeTestOandaBroker(t, server.URL)
	sl := decimal.RequireFromString("1.09000")
	tp := decimal.RequireFromString("1.07500")
	outcome, err := b.PlaceLimitOrder(context.Background(), "EUR_USD", decimal.NewFromInt(-500), decimal.RequireFromString("1.08000"), &sl, &tp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != store.OutcomeAccepted {
		t.Fatalf("expected OutcomeAccepted, got %v", outcome.Kind)
	}
	if outcome.BrokerOrderID != "7010" {
		t.Errorf("unexpected broker order id: %s", outcome.BrokerOrderID)
	}
	if received.Order.Type != "LIMIT" || received.Order.Price != "1.08" {
		t.Errorf("unexpected order body: %+v", received.Order)
	}
	if received.Order.StopLossOnFill == nil || received.Order.StopLossOnFill.Price != "1.09" {
		t.Errorf("unexpected stop_loss_on_fill: %+v", received.Order.StopLossOnFill)
	}
	if received.Order.TakeProfitOnFill == nil || received.Order.TakeProfitOnFill.Price != "1.075" {
		t.Errorf("unexpected take_profit_on_fill: %+v", received.Order.TakeProfitOnFill)
	}
}

// TestOandaBroker_PlaceOrder_RejectedByBroker mirrors scenario S4:
// insufficient margin.
func TestOandaBroker_PlaceOrder_RejectedByBroker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(oandaReply{
			OrderRejectTransaction: &oandaRejectTx{RejectReason: "INSUFFICIENT_MARGIN"},
		})
	}))
	defer server.Close()

	b := makeTestOandaBroker(t, server.URL)
	outcome, err := b.PlaceMarketOrder(context.Background(), "EUR_USD", decimal.NewFromInt(1000000), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != store.OutcomeRejectReply {
		t.Fatalf("expected OutcomeRejectReply, got %v", outcome.Kind)
	}
	if outcome.ErrorMessage != "INSUFFICIENT_MARGIN" {
		t.Errorf("unexpected error message: %s", outcome.ErrorMessage)
	}
}

// TestOandaBroker_CancelOrder mirrors scenario S5: cancelling a pending
// limit order.
func TestOandaBroker_CancelOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v3/accounts/001-001-1234567-001/orders/7010/cancel" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(oandaReply{
			OrderCancelTransaction: &oandaCancelTx{OrderID: "7010", Reason: "CLIENT_REQUEST"},
		})
	}))
	defer server.Close()

	b := makeTestOandaBroker(t, server.URL)
	outcome, err := b.CancelOrder(context.Background(), "7010")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != store.OutcomeCancelReply {
		t.Fatalf("expected OutcomeCancelReply, got %v", outcome.Kind)
	}
	if outcome.BrokerOrderID != "7010" {
		t.Errorf("unexpected broker order id: %s", outcome.BrokerOrderID)
	}
}

func TestOandaBroker_GetAccountSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/accounts/001-001-1234567-001/summary" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"account": map[string]string{
				"id":       "001-001-1234567-001",
				"currency": "USD",
				"balance":  "10000.00",
			},
		})
	}))
	defer server.Close()

	b := makeTestOandaBroker(t, server.URL)
	summary, err := b.GetAccountSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Currency != "USD" || summary.Balance != 10000.00 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestOandaBroker_CheckConnection_Fails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	b := makeTestOandaBroker(t, server.URL)
	if err := b.CheckConnection(context.Background()); err == nil {
		t.Fatal("expected error for unauthorized connection check")
	}
}

func TestOandaBroker_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	b := makeTestOandaBroker(t, server.URL)
	server.Close() // closed before the call, forcing a connection failure

	outcome, err := b.PlaceMarketOrder(context.Background(), "EUR_USD", decimal.NewFromInt(100), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error from submitOrder: %v", err)
	}
	if outcome.Kind != store.OutcomeTransportErr {
		t.Fatalf("expected OutcomeTransportErr, got %v", outcome.Kind)
	}
}

func TestOandaBroker_UnrecognizedReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"unexpectedField": "nonsense"}`))
	}))
	defer server.Close()

	b := makeTestOandaBroker(t, server.URL)
	outcome, err := b.PlaceMarketOrder(context.Background(), "EUR_USD", decimal.NewFromInt(100), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != store.OutcomeUnrecognized {
		t.Fatalf("expected OutcomeUnrecognized, got %v", outcome.Kind)
	}
}

func TestOandaBroker_GetOrderStatus_Unimplemented(t *testing.T) {
	b := makeTestOandaBroker(t, "http://example.invalid")
	_, err := b.GetOrderStatus(context.Background(), "7010")
	if err != ErrUnimplemented {
		t.Fatalf("expected ErrUnimplemented, got %v", err)
	}
}
