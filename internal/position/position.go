// Package position derives net positions from the order store. It
// holds no state of its own: position is purely the sum of
// fill_quantity over FILLED orders, grouped by instrument, recomputed
// on every query.
package position

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradegateway/internal/store"
)

// View reads through a Store to answer position queries.
type View struct {
	store store.Store
}

// New creates a View backed by s.
func New(s store.Store) *View {
	return &View{store: s}
}

// Position sums fill_quantity over FILLED orders matching instrument.
// Returns zero if no such orders exist, or if the store read fails.
func (v *View) Position(ctx context.Context, instrument string) (decimal.Decimal, error) {
	orders, err := v.store.ListAll(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, o := range orders {
		if o.Status == store.Filled && o.Params.Instrument == instrument {
			total = total.Add(o.FillQuantity)
		}
	}
	return total, nil
}

// Positions returns every instrument with a non-zero net position.
func (v *View) Positions(ctx context.Context) (map[string]decimal.Decimal, error) {
	orders, err := v.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]decimal.Decimal)
	for _, o := range orders {
		if o.Status != store.Filled {
			continue
		}
		totals[o.Params.Instrument] = totals[o.Params.Instrument].Add(o.FillQuantity)
	}
	for instrument, qty := range totals {
		if qty.IsZero() {
			delete(totals, instrument)
		}
	}
	return totals, nil
}
