package source

import (
	"sort"
	"time"

	"saturn/internal/domain"
)

// SnapshotPolicy bounds which contracts a chain snapshot includes. The
// snapshot window is deliberately narrow: a handful of near expirations and
// strikes around the money.
type SnapshotPolicy struct {
	ExpirationWindowDays int // forward window for expirations
	MaxExpirations       int // keep only the first N expirations in the window
	StrikeCount          int // strikes kept on each side of the reference strike
}

// DefaultSnapshotPolicy mirrors the collector defaults: expirations within
// 60 days capped to 2, ±5 strikes.
func DefaultSnapshotPolicy() SnapshotPolicy {
	return SnapshotPolicy{ExpirationWindowDays: 60, MaxExpirations: 2, StrikeCount: 5}
}

// ArchivePolicy bounds which contracts historical archival covers. Wider
// than the snapshot policy: a year of expirations and a percentage strike
// band.
type ArchivePolicy struct {
	ExpirationWindowDays int     // forward window for expirations
	StrikeBandPct        float64 // band around the underlying price, e.g. 0.20
}

// DefaultArchivePolicy mirrors the archiver defaults: expirations within one
// year, strikes within ±20% of the underlying.
func DefaultArchivePolicy() ArchivePolicy {
	return ArchivePolicy{ExpirationWindowDays: 365, StrikeBandPct: 0.20}
}

// selectQuotes applies a SnapshotPolicy to a full chain: keep quotes whose
// expiration falls within the forward window (capped to the nearest
// MaxExpirations distinct expirations), and whose strike is one of the
// StrikeCount strikes on either side of the reference strike. The reference
// strike is the one nearest the underlying price, falling back to the middle
// of the strike ladder when the price is unknown (zero).
func selectQuotes(quotes []domain.OptionQuote, asOf time.Time, underlying float64, policy SnapshotPolicy) []domain.OptionQuote {
	if len(quotes) == 0 {
		return nil
	}

	horizon := domain.Date(asOf).AddDate(0, 0, policy.ExpirationWindowDays)

	var inWindow []domain.OptionQuote
	for _, q := range quotes {
		if q.Expiration.Before(domain.Date(asOf)) || q.Expiration.After(horizon) {
			continue
		}
		inWindow = append(inWindow, q)
	}
	if len(inWindow) == 0 {
		return nil
	}

	// Nearest N distinct expirations.
	expSet := make(map[int64]struct{})
	for _, q := range inWindow {
		expSet[q.Expiration.UnixMilli()] = struct{}{}
	}
	exps := make([]int64, 0, len(expSet))
	for e := range expSet {
		exps = append(exps, e)
	}
	sort.Slice(exps, func(i, j int) bool { return exps[i] < exps[j] })
	if policy.MaxExpirations > 0 && len(exps) > policy.MaxExpirations {
		exps = exps[:policy.MaxExpirations]
	}
	keepExp := make(map[int64]struct{}, len(exps))
	for _, e := range exps {
		keepExp[e] = struct{}{}
	}

	// Strike ladder across the kept expirations.
	strikeSet := make(map[float64]struct{})
	for _, q := range inWindow {
		if _, ok := keepExp[q.Expiration.UnixMilli()]; ok {
			strikeSet[q.Strike] = struct{}{}
		}
	}
	strikes := make([]float64, 0, len(strikeSet))
	for s := range strikeSet {
		strikes = append(strikes, s)
	}
	sort.Float64s(strikes)

	ref := len(strikes) / 2 // ladder midpoint when the underlying is unknown
	if underlying > 0 {
		best := 0
		for i, s := range strikes {
			if abs(s-underlying) < abs(strikes[best]-underlying) {
				best = i
			}
		}
		ref = best
	}

	lo := ref - policy.StrikeCount
	if lo < 0 {
		lo = 0
	}
	hi := ref + policy.StrikeCount
	if hi > len(strikes)-1 {
		hi = len(strikes) - 1
	}
	keepStrike := make(map[float64]struct{}, hi-lo+1)
	for _, s := range strikes[lo : hi+1] {
		keepStrike[s] = struct{}{}
	}

	var out []domain.OptionQuote
	for _, q := range inWindow {
		if _, ok := keepExp[q.Expiration.UnixMilli()]; !ok {
			continue
		}
		if _, ok := keepStrike[q.Strike]; !ok {
			continue
		}
		out = append(out, q)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Expiration.Equal(b.Expiration) {
			return a.Expiration.Before(b.Expiration)
		}
		if a.Strike != b.Strike {
			return a.Strike < b.Strike
		}
		return a.Type < b.Type
	})
	return out
}

// strikeBand returns the [low, high] strike bounds for an archive policy
// around the underlying price. A zero underlying disables the band.
func strikeBand(underlying float64, policy ArchivePolicy) (float64, float64) {
	if underlying <= 0 || policy.StrikeBandPct <= 0 {
		return 0, 0
	}
	return underlying * (1 - policy.StrikeBandPct), underlying * (1 + policy.StrikeBandPct)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
