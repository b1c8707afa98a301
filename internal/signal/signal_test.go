package signal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nitinkhare/tradegateway/internal/config"
	"github.com/nitinkhare/tradegateway/internal/store"
)

func testProcessor(t *testing.T, configJSON string) *Processor {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}
	mgr := config.NewManager(nil)
	if err := mgr.Load(path, "", false); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return New(mgr)
}

func TestProcess_MarketBuyDefaultsQuantity(t *testing.T) {
	p := testProcessor(t, `{"trading":{"defaults":{"quantity":10}}}`)
	params, err := p.Process(Raw{Instrument: "eur_usd", Action: "buy"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if params.Instrument != "EUR_USD" {
		t.Errorf("expected uppercased instrument, got %s", params.Instrument)
	}
	if params.OrderType != store.Market {
		t.Errorf("expected MARKET, got %s", params.OrderType)
	}
	if !params.Units.Equal(params.Units.Abs()) {
		t.Errorf("expected positive units for buy")
	}
	if params.Units.String() != "10" {
		t.Errorf("expected units=10 from global default, got %s", params.Units)
	}
}

func TestProcess_SellNegatesUnits(t *testing.T) {
	p := testProcessor(t, `{}`)
	params, err := p.Process(Raw{Instrument: "EUR_USD", Action: "sell", Quantity: json.Number("50")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if params.Units.String() != "-50" {
		t.Errorf("expected units=-50, got %s", params.Units)
	}
}

func TestProcess_InstrumentNotAllowed(t *testing.T) {
	p := testProcessor(t, `{"trading":{"allowed_instruments":["EUR_USD"]}}`)
	_, err := p.Process(Raw{Instrument: "TSLA", Action: "buy", Quantity: json.Number("1")})
	if err == nil {
		t.Fatal("expected error for disallowed instrument")
	}
}

func TestProcess_InvalidAction(t *testing.T) {
	p := testProcessor(t, `{}`)
	_, err := p.Process(Raw{Instrument: "EUR_USD", Action: "hold", Quantity: json.Number("1")})
	if err == nil {
		t.Fatal("expected error for invalid action")
	}
}

func TestProcess_ZeroQuantityRejected(t *testing.T) {
	p := testProcessor(t, `{}`)
	_, err := p.Process(Raw{Instrument: "EUR_USD", Action: "buy", Quantity: json.Number("0")})
	if err == nil {
		t.Fatal("expected error for zero quantity")
	}
}

func TestProcess_NegativeQuantityRejected(t *testing.T) {
	p := testProcessor(t, `{}`)
	_, err := p.Process(Raw{Instrument: "EUR_USD", Action: "buy", Quantity: json.Number("-5")})
	if err == nil {
		t.Fatal("expected error for negative quantity")
	}
}

func TestProcess_LimitRequiresPrice(t *testing.T) {
	p := testProcessor(t, `{}`)
	_, err := p.Process(Raw{Instrument: "EUR_USD", Action: "buy", Quantity: json.Number("10"), Type: "limit"})
	if err == nil {
		t.Fatal("expected error: price required for LIMIT")
	}
}

func TestProcess_LimitWithPriceSucceeds(t *testing.T) {
	p := testProcessor(t, `{}`)
	params, err := p.Process(Raw{
		Instrument: "EUR_USD", Action: "sell", Quantity: json.Number("50"),
		Type: "limit", Price: json.Number("1.1000"),
		StopLoss: json.Number("1.1050"), TakeProfit: json.Number("1.0900"),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if params.OrderType != store.Limit {
		t.Errorf("expected LIMIT, got %s", params.OrderType)
	}
	if params.Price == nil || params.Price.String() != "1.1" {
		t.Errorf("expected price=1.1, got %v", params.Price)
	}
	if params.StopLoss == nil || params.StopLoss.String() != "1.105" {
		t.Errorf("expected stop_loss=1.105, got %v", params.StopLoss)
	}
	if params.TakeProfit == nil || params.TakeProfit.String() != "1.09" {
		t.Errorf("expected take_profit=1.09, got %v", params.TakeProfit)
	}
}

func TestProcess_InvalidOrderType(t *testing.T) {
	p := testProcessor(t, `{}`)
	_, err := p.Process(Raw{Instrument: "EUR_USD", Action: "buy", Quantity: json.Number("1"), Type: "bogus"})
	if err == nil {
		t.Fatal("expected error for invalid order type")
	}
}

func TestProcess_InstrumentSpecificDefaultQuantity(t *testing.T) {
	p := testProcessor(t, `{"trading":{"defaults":{"quantity":1},"instrument_settings":{"EUR_USD":{"default_quantity":150}}}}`)
	params, err := p.Process(Raw{Instrument: "EUR_USD", Action: "buy"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if params.Units.String() != "150" {
		t.Errorf("expected instrument-specific default 150, got %s", params.Units)
	}
}

func TestProcess_MinMaxQuantityBounds(t *testing.T) {
	p := testProcessor(t, `{"trading":{"instrument_settings":{"EUR_USD":{"min_quantity":10,"max_quantity":100}}}}`)

	if _, err := p.Process(Raw{Instrument: "EUR_USD", Action: "buy", Quantity: json.Number("5")}); err == nil {
		t.Error("expected error for quantity below minimum")
	}
	if _, err := p.Process(Raw{Instrument: "EUR_USD", Action: "buy", Quantity: json.Number("500")}); err == nil {
		t.Error("expected error for quantity above maximum")
	}
	if _, err := p.Process(Raw{Instrument: "EUR_USD", Action: "buy", Quantity: json.Number("50")}); err != nil {
		t.Errorf("expected quantity within bounds to succeed, got %v", err)
	}
}

func TestProcess_MissingInstrument(t *testing.T) {
	p := testProcessor(t, `{}`)
	_, err := p.Process(Raw{Action: "buy", Quantity: json.Number("1")})
	if err == nil {
		t.Fatal("expected error for missing instrument")
	}
}

func TestProcess_Deterministic(t *testing.T) {
	p := testProcessor(t, `{"trading":{"defaults":{"quantity":10}}}`)
	raw := Raw{Instrument: "EUR_USD", Action: "buy"}

	a, err := p.Process(raw)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	b, err := p.Process(raw)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if a.Units.String() != b.Units.String() || a.Instrument != b.Instrument || a.OrderType != b.OrderType {
		t.Error("expected deterministic output for identical input and config")
	}
}
