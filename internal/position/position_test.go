package position

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradegateway/internal/store"
)

func fillOrder(t *testing.T, s store.Store, instrument string, qty int64) {
	t.Helper()
	id, err := s.Create(context.Background(), json.RawMessage(`{}`), store.Params{
		Instrument: instrument,
		Units:      decimal.NewFromInt(qty),
		OrderType:  store.Market,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = s.ApplyReply(context.Background(), id, store.Outcome{
		Kind:          store.OutcomeFill,
		BrokerOrderID: id,
		FillPrice:     decimal.NewFromInt(1),
		FillQuantity:  decimal.NewFromInt(qty),
	})
	if err != nil {
		t.Fatalf("ApplyReply: %v", err)
	}
}

func acceptOnlyOrder(t *testing.T, s store.Store, instrument string, qty int64) {
	t.Helper()
	id, err := s.Create(context.Background(), json.RawMessage(`{}`), store.Params{
		Instrument: instrument,
		Units:      decimal.NewFromInt(qty),
		OrderType:  store.Market,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.ApplyReply(context.Background(), id, store.Outcome{Kind: store.OutcomeAccepted, BrokerOrderID: id}); err != nil {
		t.Fatalf("ApplyReply: %v", err)
	}
}

// TestPositions_S6 reproduces spec scenario S6: a mix of fills across
// three instruments plus one non-FILLED order, checking the exact
// expected net positions and that non-FILLED / zero-net instruments
// are excluded.
func TestPositions_S6(t *testing.T) {
	s := store.NewMemoryStore()
	fillOrder(t, s, "EUR_USD", 100)
	fillOrder(t, s, "EUR_USD", 50)
	fillOrder(t, s, "EUR_USD", -75)
	fillOrder(t, s, "USD_JPY", -500)
	fillOrder(t, s, "USD_JPY", -1000)
	fillOrder(t, s, "GBP_USD", 200)
	fillOrder(t, s, "GBP_USD", -200)
	acceptOnlyOrder(t, s, "AUD_USD", 1000)

	v := New(s)
	positions, err := v.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}

	want := map[string]decimal.Decimal{
		"EUR_USD": decimal.NewFromInt(75),
		"USD_JPY": decimal.NewFromInt(-1500),
	}
	if len(positions) != len(want) {
		t.Fatalf("expected %d instruments, got %d: %v", len(want), len(positions), positions)
	}
	for instrument, qty := range want {
		got, ok := positions[instrument]
		if !ok || !got.Equal(qty) {
			t.Errorf("%s: expected %v, got %v (present=%v)", instrument, qty, got, ok)
		}
	}
	if _, ok := positions["GBP_USD"]; ok {
		t.Error("GBP_USD should be absent (net zero)")
	}
	if _, ok := positions["AUD_USD"]; ok {
		t.Error("AUD_USD should be absent (not FILLED)")
	}
}

func TestPosition_MatchesPositionsEntry(t *testing.T) {
	s := store.NewMemoryStore()
	fillOrder(t, s, "EUR_USD", 100)
	fillOrder(t, s, "EUR_USD", 50)

	v := New(s)
	got, err := v.Position(context.Background(), "EUR_USD")
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected 150, got %v", got)
	}

	positions, err := v.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if !positions["EUR_USD"].Equal(got) {
		t.Errorf("invariant 4 violated: position(X) != positions()[X]")
	}
}

func TestPosition_EmptyWhenNoFills(t *testing.T) {
	s := store.NewMemoryStore()
	v := New(s)
	got, err := v.Position(context.Background(), "EUR_USD")
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero, got %v", got)
	}
}
