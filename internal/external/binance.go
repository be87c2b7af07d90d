package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultBinanceURL = "https://api.binance.com"
	tickerPath        = "/api/v3/ticker/24hr"

	maxTimeout   = 30 * time.Second
	maxBodyBytes = 1 << 20
)

type BinanceOptions struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerMinute int
	Now           func() time.Time
}

// BinanceClient fetches 24h ticker snapshots from the public Binance REST API.
type BinanceClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

func NewBinanceClient(opts BinanceOptions) *BinanceClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBinanceURL
	}
	if opts.Timeout <= 0 || opts.Timeout > maxTimeout {
		opts.Timeout = maxTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	limit := rate.Inf
	if opts.RatePerMinute > 0 {
		limit = rate.Limit(float64(opts.RatePerMinute) / 60)
	}

	return &BinanceClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		now:        opts.Now,
	}
}

type tickerPayload struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	PriceChange        decimal.Decimal `json:"priceChange"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	Volume             decimal.Decimal `json:"volume"`
	HighPrice          decimal.Decimal `json:"highPrice"`
	LowPrice           decimal.Decimal `json:"lowPrice"`
}

// FetchQuote performs a single GET for pair. Every failure is an *UpstreamError.
func (c *BinanceClient) FetchQuote(ctx context.Context, pair string) (models.Quote, error) {
	pair = strings.ToUpper(strings.TrimSpace(pair))

	ctx, cancel := context.WithTimeout(ctx, c.httpClient.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return models.Quote{}, timeoutError(pair, fmt.Errorf("rate limit wait: %w", err))
	}

	endpoint := c.baseURL + tickerPath + "?" + url.Values{"symbol": {pair}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Quote{}, &UpstreamError{Kind: KindUnreachable, Pair: pair, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Quote{}, transportError(pair, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Quote{}, statusError(pair, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var data tickerPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&data); err != nil {
		if ctx.Err() != nil {
			return models.Quote{}, timeoutError(pair, err)
		}
		return models.Quote{}, parseError(pair, fmt.Errorf("decode: %w", err))
	}

	// Prices are kept at cent precision, so a sub-cent quote would read as 0.
	price := data.LastPrice.Round(2)
	if !price.IsPositive() {
		return models.Quote{}, parseError(pair, fmt.Errorf("invalid last price: %s", data.LastPrice))
	}

	symbol := data.Symbol
	if symbol == "" {
		symbol = pair
	}

	return models.Quote{
		Symbol:           symbol,
		Price:            price,
		Change24h:        data.PriceChange.Round(2),
		ChangePercent24h: data.PriceChangePercent.Round(2),
		Volume24h:        data.Volume.Round(2),
		High24h:          data.HighPrice.Round(2),
		Low24h:           data.LowPrice.Round(2),
		ObservedAt:       c.now(),
		Source:           models.SourceUpstream,
	}, nil
}
