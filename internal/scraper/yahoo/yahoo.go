// Package yahoo implements a fetcher for Yahoo Finance daily OHLC data using
// the v8 chart API with cookie + crumb authentication. NSE symbols are queried
// with the ".NS" suffix while records keep the bare symbol.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meet-minimalist/nsedata/internal/market"
	"github.com/meet-minimalist/nsedata/internal/scraper"
)

const (
	defaultChartEndpoint = "https://query2.finance.yahoo.com/v8/finance/chart"
	defaultCookieURL     = "https://fc.yahoo.com"
	defaultCrumbURL      = "https://query1.finance.yahoo.com/v1/test/getcrumb"
	chunkDays            = 1250
	userAgent            = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

type Client struct {
	workers       int
	client        *http.Client
	chartEndpoint string
	cookieURL     string
	crumbURL      string
	symbolSuffix  string

	mu    sync.Mutex
	crumb string
}

func New(opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		workers:       3,
		client:        &http.Client{Jar: jar, Timeout: 30 * time.Second},
		chartEndpoint: defaultChartEndpoint,
		cookieURL:     defaultCookieURL,
		crumbURL:      defaultCrumbURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Client)

// WithWorkers sets the worker concurrency for parallel chunk fetching.
func WithWorkers(n int) Option {
	return func(c *Client) { c.workers = n }
}

// WithClient sets the HTTP client. The client should have a cookie jar.
func WithClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithChartEndpoint overrides the default chart API endpoint.
func WithChartEndpoint(ep string) Option {
	return func(c *Client) { c.chartEndpoint = ep }
}

// WithCookieURL overrides the URL used to obtain the session cookie.
func WithCookieURL(u string) Option {
	return func(c *Client) { c.cookieURL = u }
}

// WithCrumbURL overrides the URL used to obtain the crumb token.
func WithCrumbURL(u string) Option {
	return func(c *Client) { c.crumbURL = u }
}

// WithSymbolSuffix appends an exchange suffix (e.g. ".NS") to request symbols.
func WithSymbolSuffix(suffix string) Option {
	return func(c *Client) { c.symbolSuffix = suffix }
}

func (c *Client) Source() string { return "yahoo" }

// chartResponse is the Yahoo Finance v8 chart API response. Yahoo uses null
// for missing data points, hence the []any value arrays.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []any `json:"open"`
					High   []any `json:"high"`
					Low    []any `json:"low"`
					Close  []any `json:"close"`
					Volume []any `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchRange fetches daily OHLCV records for the given symbol and inclusive
// date range.
func (c *Client) FetchRange(ctx context.Context, symbol string, from, to time.Time) ([]market.DailyRecord, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("date range cannot be empty")
	}
	if from.After(to) {
		return nil, fmt.Errorf("start date cannot be after end date")
	}

	// Ensure we have a valid crumb before starting parallel fetches.
	if err := c.ensureCrumb(ctx); err != nil {
		return nil, fmt.Errorf("yahoo auth: %w", err)
	}

	chunks := scraper.SplitDateRange(from, to, chunkDays)
	results := make([][]market.DailyRecord, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, ch := range chunks {
		i, ch := i, ch
		g.Go(func() error {
			records, err := c.fetchChart(gctx, symbol, ch.From, ch.To)
			if err != nil {
				return fmt.Errorf("yahoo %s [%s, %s]: %w", symbol,
					ch.From.Format(time.DateOnly), ch.To.Format(time.DateOnly), err)
			}
			results[i] = records
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []market.DailyRecord
	for _, records := range results {
		all = append(all, records...)
	}

	// Each chunk starts without a prior bar, so stitch the previous close
	// across the whole range. The first record of the range has no prior
	// bar and keeps PrevClose zero.
	for i := 1; i < len(all); i++ {
		all[i].PrevClose = all[i-1].Close
	}
	return all, nil
}

// ensureCrumb fetches a session cookie and crumb token if not already cached.
func (c *Client) ensureCrumb(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.crumb != "" {
		return nil
	}

	cookieReq, err := http.NewRequestWithContext(ctx, "GET", c.cookieURL, nil)
	if err != nil {
		return fmt.Errorf("build cookie request: %w", err)
	}
	cookieReq.Header.Set("User-Agent", userAgent)

	cookieRes, err := c.client.Do(cookieReq)
	if err != nil {
		return fmt.Errorf("fetch cookie: %w", err)
	}
	_ = cookieRes.Body.Close()

	crumbReq, err := http.NewRequestWithContext(ctx, "GET", c.crumbURL, nil)
	if err != nil {
		return fmt.Errorf("build crumb request: %w", err)
	}
	crumbReq.Header.Set("User-Agent", userAgent)

	crumbRes, err := c.client.Do(crumbReq)
	if err != nil {
		return fmt.Errorf("fetch crumb: %w", err)
	}
	defer func() { _ = crumbRes.Body.Close() }()

	if crumbRes.StatusCode != http.StatusOK {
		return fmt.Errorf("crumb endpoint returned HTTP %d", crumbRes.StatusCode)
	}

	body, err := io.ReadAll(crumbRes.Body)
	if err != nil {
		return fmt.Errorf("read crumb: %w", err)
	}

	crumb := strings.TrimSpace(string(body))
	if crumb == "" {
		return fmt.Errorf("empty crumb received")
	}

	c.crumb = crumb
	return nil
}

// fetchChart fetches chart data for a single date range chunk.
func (c *Client) fetchChart(ctx context.Context, symbol string, from, to time.Time) ([]market.DailyRecord, error) {
	c.mu.Lock()
	crumb := c.crumb
	c.mu.Unlock()

	reqURL := fmt.Sprintf("%s/%s?period1=%s&period2=%s&interval=1d&events=div%%2Csplits&crumb=%s",
		c.chartEndpoint,
		symbol+c.symbolSuffix,
		strconv.FormatInt(from.Unix(), 10),
		// period2 is exclusive; extend by a day to keep the range inclusive.
		strconv.FormatInt(to.AddDate(0, 0, 1).Unix(), 10),
		crumb,
	)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		// Invalidate crumb on auth errors so the next fetch retries auth.
		if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
			c.mu.Lock()
			c.crumb = ""
			c.mu.Unlock()
		}
		return nil, fmt.Errorf("yahoo returned HTTP %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse yahoo response: %w", err)
	}

	if resp.Chart.Error != nil {
		// "no data found" style errors mean an empty range, not a failure.
		if strings.EqualFold(resp.Chart.Error.Code, "Not Found") {
			return nil, nil
		}
		return nil, fmt.Errorf("yahoo chart error: %s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}

	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}

	quote := result.Indicators.Quote[0]
	records := make([]market.DailyRecord, 0, len(result.Timestamp))
	for i := range result.Timestamp {
		closeVal, ok := toFloat64(at(quote.Close, i))
		if !ok {
			continue
		}
		openVal, _ := toFloat64(at(quote.Open, i))
		highVal, _ := toFloat64(at(quote.High, i))
		lowVal, _ := toFloat64(at(quote.Low, i))
		volVal, _ := toFloat64(at(quote.Volume, i))

		records = append(records, market.DailyRecord{
			Date:      market.Day(time.Unix(result.Timestamp[i], 0).UTC()),
			Symbol:    symbol,
			Series:    "EQ",
			Open:      openVal,
			High:      highVal,
			Low:       lowVal,
			Last:      closeVal,
			Close:     closeVal,
			TradedQty: int64(volVal),
			Turnover:  closeVal * volVal,
		})
	}

	slog.Info("retrieved yahoo data", "symbol", symbol,
		"from", from.Format(time.DateOnly), "to", to.Format(time.DateOnly),
		"count", len(records))

	return records, nil
}

func at(vals []any, i int) any {
	if i >= len(vals) {
		return nil
	}
	return vals[i]
}

// toFloat64 converts a JSON number (float64 or json.Number) to float64.
// Returns false for nil values.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
