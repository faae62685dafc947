package source

import (
	"fmt"
	"strconv"
	"time"

	"saturn/internal/domain"
)

// Contract is the decoded form of an OCC option symbol.
type Contract struct {
	Underlying string
	Expiration time.Time // date, midnight UTC
	Strike     float64
	Type       domain.OptionType
}

// ParseOCC decodes an OCC-format option symbol such as "AAPL250718C00190000"
// into its parts: root symbol, YYMMDD expiration, C/P flag, and strike price
// times 1000 in eight digits.
func ParseOCC(symbol string) (Contract, error) {
	// Shortest legal symbol: 1-char root + 6 date + 1 type + 8 strike.
	if len(symbol) < 16 {
		return Contract{}, fmt.Errorf("occ symbol %q too short", symbol)
	}

	strikePart := symbol[len(symbol)-8:]
	typePart := symbol[len(symbol)-9]
	datePart := symbol[len(symbol)-15 : len(symbol)-9]
	root := symbol[:len(symbol)-15]

	var typ domain.OptionType
	switch typePart {
	case 'C':
		typ = domain.Call
	case 'P':
		typ = domain.Put
	default:
		return Contract{}, fmt.Errorf("occ symbol %q: bad call/put flag %q", symbol, string(typePart))
	}

	exp, err := time.Parse("060102", datePart)
	if err != nil {
		return Contract{}, fmt.Errorf("occ symbol %q: bad expiration: %w", symbol, err)
	}

	milli, err := strconv.ParseInt(strikePart, 10, 64)
	if err != nil {
		return Contract{}, fmt.Errorf("occ symbol %q: bad strike: %w", symbol, err)
	}

	return Contract{
		Underlying: root,
		Expiration: time.Date(exp.Year(), exp.Month(), exp.Day(), 0, 0, 0, 0, time.UTC),
		Strike:     float64(milli) / 1000,
		Type:       typ,
	}, nil
}

// FormatOCC encodes a contract back into its OCC symbol.
func FormatOCC(c Contract) string {
	cp := "C"
	if c.Type == domain.Put {
		cp = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", c.Underlying, c.Expiration.Format("060102"), cp, int64(c.Strike*1000+0.5))
}
