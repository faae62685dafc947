package source

import (
	"context"
	"time"

	"saturn/internal/domain"
)

// Compile-time interface check.
var _ Client = (*Simulator)(nil)

// Simulator implements Client with deterministic synthetic data. It exists
// for tests and dry runs: no network, no credentials, stable output for a
// given symbol and date.
type Simulator struct {
	// BasePrice is the synthetic underlying price. Defaults to 100.
	BasePrice float64
	// StrikeStep is the spacing of the synthetic strike ladder. Defaults to 5.
	StrikeStep float64
}

// NewSimulator creates a Simulator with default pricing.
func NewSimulator() *Simulator {
	return &Simulator{BasePrice: 100, StrikeStep: 5}
}

// Name returns "simulator".
func (s *Simulator) Name() string { return "simulator" }

// FetchChainSnapshot synthesizes a chain of weekly expirations and a strike
// ladder around the base price, then applies the selection policy exactly as
// the real client does.
func (s *Simulator) FetchChainSnapshot(ctx context.Context, symbol string, asOf time.Time, policy SnapshotPolicy) ([]domain.OptionQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, TransientErr("simulator", err)
	}

	collected := time.Now()
	var quotes []domain.OptionQuote
	for _, exp := range s.expirations(asOf, policy.ExpirationWindowDays) {
		for _, strike := range s.strikes() {
			for _, typ := range []domain.OptionType{domain.Call, domain.Put} {
				quotes = append(quotes, domain.OptionQuote{
					Symbol:            symbol,
					SnapshotTime:      asOf,
					Expiration:        exp,
					Strike:            strike,
					Type:              typ,
					Bid:               s.premium(strike, typ) - 0.05,
					Ask:               s.premium(strike, typ) + 0.05,
					Last:              s.premium(strike, typ),
					Volume:            100,
					OpenInterest:      1000,
					ImpliedVolatility: 0.25,
					Delta:             0.5,
					Gamma:             0.02,
					Theta:             -0.03,
					Vega:              0.10,
					CollectedAt:       collected,
				})
			}
		}
	}
	return selectQuotes(quotes, asOf, s.BasePrice, policy), nil
}

// FetchHistoricalBars synthesizes one bar per weekday in [start, end] for a
// small set of contracts within the policy's strike band.
func (s *Simulator) FetchHistoricalBars(ctx context.Context, symbol string, start, end time.Time, policy ArchivePolicy) ([]domain.OptionBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, TransientErr("simulator", err)
	}

	lo, hi := strikeBand(s.BasePrice, policy)
	exp := domain.Date(end).AddDate(0, 0, 30)
	archiveDate := time.Now()

	var bars []domain.OptionBar
	for d := domain.Date(start); !d.After(domain.Date(end)); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		for _, strike := range s.strikes() {
			if hi > 0 && (strike < lo || strike > hi) {
				continue
			}
			for _, typ := range []domain.OptionType{domain.Call, domain.Put} {
				p := s.premium(strike, typ)
				bars = append(bars, domain.OptionBar{
					Symbol:      symbol,
					Date:        d,
					Expiration:  exp,
					Strike:      strike,
					Type:        typ,
					Open:        p,
					High:        p + 0.10,
					Low:         p - 0.10,
					Close:       p + 0.02,
					Volume:      500,
					ArchiveDate: archiveDate,
				})
			}
		}
	}
	return bars, nil
}

func (s *Simulator) expirations(asOf time.Time, windowDays int) []time.Time {
	// Weekly Friday expirations inside the window.
	var exps []time.Time
	d := domain.Date(asOf)
	horizon := d.AddDate(0, 0, windowDays)
	for ; !d.After(horizon); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Friday {
			exps = append(exps, d)
		}
	}
	return exps
}

func (s *Simulator) strikes() []float64 {
	base := s.BasePrice
	step := s.StrikeStep
	ladder := make([]float64, 0, 21)
	for i := -10; i <= 10; i++ {
		ladder = append(ladder, base+float64(i)*step)
	}
	return ladder
}

func (s *Simulator) premium(strike float64, typ domain.OptionType) float64 {
	intrinsic := s.BasePrice - strike
	if typ == domain.Put {
		intrinsic = -intrinsic
	}
	if intrinsic < 0 {
		intrinsic = 0
	}
	return intrinsic + 1.50 // flat synthetic time value
}
