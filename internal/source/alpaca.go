package source

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/time/rate"

	"saturn/internal/domain"
)

// Compile-time interface check.
var _ Client = (*AlpacaClient)(nil)

// multiBarBatch is the number of OCC symbols requested per bars call.
const multiBarBatch = 200

// AlpacaClient implements Client against the Alpaca option market-data API.
type AlpacaClient struct {
	client  *marketdata.Client
	limiter *rate.Limiter
}

// NewAlpacaClient creates an AlpacaClient with the given credentials. The
// request timeout applies to every HTTP call; ratePerMin paces API usage.
func NewAlpacaClient(apiKey, apiSecret, dataURL string, timeout time.Duration, ratePerMin int) *AlpacaClient {
	opts := marketdata.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	if ratePerMin <= 0 {
		ratePerMin = 200
	}

	return &AlpacaClient{
		client:  marketdata.NewClient(opts),
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), 1),
	}
}

// Name returns "alpaca".
func (c *AlpacaClient) Name() string { return "alpaca" }

// FetchChainSnapshot fetches the current option chain for symbol and applies
// the snapshot selection policy locally.
func (c *AlpacaClient) FetchChainSnapshot(ctx context.Context, symbol string, asOf time.Time, policy SnapshotPolicy) ([]domain.OptionQuote, error) {
	underlying, err := c.underlyingPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, TransientErr("RateLimit", err)
	}

	today := domain.Date(asOf)
	chain, err := c.client.GetOptionChain(symbol, marketdata.GetOptionChainRequest{
		ExpirationDateGte: civil.DateOf(today),
		ExpirationDateLte: civil.DateOf(today.AddDate(0, 0, policy.ExpirationWindowDays)),
	})
	if err != nil {
		return nil, classify("GetOptionChain", err)
	}

	collected := time.Now()
	quotes := make([]domain.OptionQuote, 0, len(chain))
	for occ, snap := range chain {
		contract, perr := ParseOCC(occ)
		if perr != nil {
			// Unparseable keys indicate API drift; skip the row.
			continue
		}

		q := domain.OptionQuote{
			Symbol:            symbol,
			SnapshotTime:      asOf,
			Expiration:        contract.Expiration,
			Strike:            contract.Strike,
			Type:              contract.Type,
			ImpliedVolatility: snap.ImpliedVolatility,
			CollectedAt:       collected,
		}
		if snap.LatestQuote != nil {
			q.Bid = snap.LatestQuote.BidPrice
			q.Ask = snap.LatestQuote.AskPrice
		}
		if snap.LatestTrade != nil {
			q.Last = snap.LatestTrade.Price
			q.Volume = int64(snap.LatestTrade.Size)
		}
		if snap.Greeks != nil {
			q.Delta = snap.Greeks.Delta
			q.Gamma = snap.Greeks.Gamma
			q.Theta = snap.Greeks.Theta
			q.Vega = snap.Greeks.Vega
		}
		quotes = append(quotes, q)
	}

	return selectQuotes(quotes, asOf, underlying, policy), nil
}

// FetchHistoricalBars enumerates currently listed contracts through the chain
// endpoint, then pulls daily bars per contract for [start, end].
func (c *AlpacaClient) FetchHistoricalBars(ctx context.Context, symbol string, start, end time.Time, policy ArchivePolicy) ([]domain.OptionBar, error) {
	underlying, err := c.underlyingPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, TransientErr("RateLimit", err)
	}

	req := marketdata.GetOptionChainRequest{
		ExpirationDateGte: civil.DateOf(domain.Date(start)),
		ExpirationDateLte: civil.DateOf(domain.Date(end).AddDate(0, 0, policy.ExpirationWindowDays)),
	}
	if lo, hi := strikeBand(underlying, policy); hi > 0 {
		req.StrikePriceGte = lo
		req.StrikePriceLte = hi
	}

	chain, err := c.client.GetOptionChain(symbol, req)
	if err != nil {
		return nil, classify("GetOptionChain", err)
	}

	occSymbols := make([]string, 0, len(chain))
	for occ := range chain {
		if _, perr := ParseOCC(occ); perr == nil {
			occSymbols = append(occSymbols, occ)
		}
	}
	if len(occSymbols) == 0 {
		return nil, nil
	}

	archiveDate := time.Now()
	startDate := domain.Date(start)
	endDate := domain.Date(end)

	var bars []domain.OptionBar
	for i := 0; i < len(occSymbols); i += multiBarBatch {
		batch := occSymbols[i:min(i+multiBarBatch, len(occSymbols))]

		if ctx.Err() != nil {
			return nil, TransientErr("GetOptionBars", ctx.Err())
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, TransientErr("RateLimit", err)
		}

		multiBars, err := c.client.GetMultiOptionBars(batch, marketdata.GetOptionBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     startDate,
			End:       endDate.AddDate(0, 0, 1), // End is exclusive of the final day's close
		})
		if err != nil {
			return nil, classify("GetOptionBars", err)
		}

		for occ, contractBars := range multiBars {
			contract, perr := ParseOCC(occ)
			if perr != nil {
				continue
			}
			for _, ab := range contractBars {
				d := domain.Date(ab.Timestamp)
				if d.Before(startDate) || d.After(endDate) {
					// Defense against API drift: never pass rows outside
					// the requested range downstream.
					continue
				}
				bars = append(bars, domain.OptionBar{
					Symbol:      symbol,
					Date:        d,
					Expiration:  contract.Expiration,
					Strike:      contract.Strike,
					Type:        contract.Type,
					Open:        ab.Open,
					High:        ab.High,
					Low:         ab.Low,
					Close:       ab.Close,
					Volume:      int64(ab.Volume),
					ArchiveDate: archiveDate,
				})
			}
		}
	}

	return bars, nil
}

// underlyingPrice returns the latest trade price for the underlying equity.
func (c *AlpacaClient) underlyingPrice(ctx context.Context, symbol string) (float64, error) {
	if ctx.Err() != nil {
		return 0, TransientErr("GetLatestTrade", ctx.Err())
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, TransientErr("RateLimit", err)
	}

	trade, err := c.client.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return 0, classify("GetLatestTrade", err)
	}
	if trade == nil {
		return 0, nil
	}
	return trade.Price, nil
}

// classify maps a provider error to a FetchError kind. Timeouts, rate limits,
// and 5xx responses are transient; client mistakes (bad symbol, bad request,
// auth) are permanent.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return TransientErr(op, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "temporar"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return TransientErr(op, err)
	case strings.Contains(msg, "400"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "404"),
		strings.Contains(msg, "422"),
		strings.Contains(msg, "invalid"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "unauthorized"):
		return PermanentErr(op, err)
	}

	return TransientErr(op, fmt.Errorf("unclassified: %w", err))
}
