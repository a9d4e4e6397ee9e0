package invoicing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"VersotechFeeEngine/internal/model"

	"github.com/shopspring/decimal"
)

// FXRates converts fee amounts into the invoice currency.
type FXRates interface {
	// Rate returns how many units of to one unit of from buys on the day.
	Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error)
}

// StaticRates is a fixed rate table keyed "FROM/TO". The inverse pair is
// derived when only one direction is configured.
type StaticRates map[string]decimal.Decimal

// ParseRates builds a StaticRates table from a services.yaml block such as
// {"EUR/USD": "1.08"}.
func ParseRates(raw map[string]interface{}) (StaticRates, error) {
	rates := StaticRates{}
	for pair, v := range raw {
		d, err := decimal.NewFromString(strings.TrimSpace(fmt.Sprint(v)))
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("fx rate %s: invalid value %v", pair, v)
		}
		rates[strings.ToUpper(strings.TrimSpace(pair))] = d
	}
	return rates, nil
}

func (r StaticRates) Rate(_ context.Context, from, to string, _ time.Time) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if d, ok := r[from+"/"+to]; ok {
		return d, nil
	}
	if d, ok := r[to+"/"+from]; ok && d.IsPositive() {
		return decimal.NewFromInt(1).DivRound(d, 10), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s/%s", model.ErrMissingFXRate, from, to)
}
