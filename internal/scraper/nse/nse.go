// Package nse implements a fetcher for NSE security-wise price, volume and
// deliverable-position data. The endpoint serves CSV and requires a warmed-up
// session cookie; requests longer than a year are split into year chunks.
package nse

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meet-minimalist/nsedata/internal/market"
	"github.com/meet-minimalist/nsedata/internal/scraper"
)

const (
	defaultAPIBase   = "https://www.nseindia.com"
	defaultOriginURL = "https://nsewebsite-staging.nseindia.com/report-detail/eq_security"
	historicalPath   = "/api/historicalOR/generateSecurityWiseHistoricalData"
	metaInfoPath     = "/api/equity-meta-info"
	indexPath        = "/api/equity-stockIndices"

	requestDateFormat  = "02-01-2006"
	responseDateFormat = "02-Jan-2006"
	chunkDays          = 365
	userAgent          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"
)

// IndexNames maps short identifiers to the index names NSE expects.
var IndexNames = map[string]string{
	"nifty50":                "NIFTY 50",
	"nifty_next_50":          "NIFTY NEXT 50",
	"nifty100":               "NIFTY 100",
	"nifty200":               "NIFTY 200",
	"nifty500":               "NIFTY 500",
	"nifty_midcap_50":        "NIFTY MIDCAP 50",
	"nifty_midcap_100":       "NIFTY MIDCAP 100",
	"nifty_midcap_150":       "NIFTY MIDCAP 150",
	"nifty_smallcap_50":      "NIFTY SMLCAP 50",
	"nifty_smallcap_100":     "NIFTY SMLCAP 100",
	"nifty_smallcap_250":     "NIFTY SMLCAP 250",
	"nifty_mid_smallcap_400": "NIFTY MIDSML 400",
	"nifty_microcap_250":     "NIFTY MICROCAP250",
}

// ResolveIndex translates a short identifier to an NSE index name. Names that
// are not short identifiers pass through unchanged.
func ResolveIndex(name string) string {
	if full, ok := IndexNames[strings.ToLower(name)]; ok {
		return full
	}
	return name
}

// Client fetches historical data from NSE. It owns an HTTP session with a
// cookie jar; constructed explicitly and passed to the orchestrator, never a
// package-level singleton.
type Client struct {
	workers   int
	client    *http.Client
	apiBase   string
	originURL string

	mu     sync.Mutex
	warmed bool
}

func New(opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		workers: 3,
		client: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		apiBase:   defaultAPIBase,
		originURL: defaultOriginURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Client)

// WithWorkers sets the concurrency for parallel year-chunk fetching.
func WithWorkers(n int) Option {
	return func(c *Client) { c.workers = n }
}

// WithClient sets the HTTP client. The client should have a cookie jar.
func WithClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithAPIBase overrides the default API base URL.
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = base }
}

// WithOriginURL overrides the URL used to obtain session cookies.
func WithOriginURL(u string) Option {
	return func(c *Client) { c.originURL = u }
}

func (c *Client) Source() string { return "nse" }

// FetchRange fetches daily records for the inclusive date range. An empty
// result with nil error means no trading data in the range.
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

	if err := c.ensureSession(ctx); err != nil {
		return nil, fmt.Errorf("nse session: %w", err)
	}

	chunks := scraper.SplitDateRange(from, to, chunkDays)
	results := make([][]market.DailyRecord, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, ch := range chunks {
		i, ch := i, ch
		g.Go(func() error {
			records, err := c.fetchChunk(gctx, symbol, ch.From, ch.To)
			if err != nil {
				return fmt.Errorf("nse %s [%s, %s]: %w", symbol,
					ch.From.Format(requestDateFormat), ch.To.Format(requestDateFormat), err)
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
	sort.Slice(all, func(i, j int) bool { return all[i].Date.Before(all[j].Date) })

	slog.Info("retrieved nse data", "symbol", symbol,
		"from", from.Format(time.DateOnly), "to", to.Format(time.DateOnly),
		"count", len(all))
	return all, nil
}

// ensureSession performs the cookie warm-up GET NSE requires before API calls.
func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.warmed {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.originURL, nil)
	if err != nil {
		return fmt.Errorf("build warm-up request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("warm-up fetch: %w", err)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("warm-up returned HTTP %d", res.StatusCode)
	}

	c.warmed = true
	return nil
}

func (c *Client) invalidateSession() {
	c.mu.Lock()
	c.warmed = false
	c.mu.Unlock()
}

func (c *Client) fetchChunk(ctx context.Context, symbol string, from, to time.Time) ([]market.DailyRecord, error) {
	params := url.Values{}
	params.Set("from", from.Format(requestDateFormat))
	params.Set("to", to.Format(requestDateFormat))
	params.Set("symbol", symbol)
	params.Set("type", "priceVolumeDeliverable")
	params.Set("series", "ALL")
	params.Set("csv", "true")

	body, err := c.get(ctx, c.apiBase+historicalPath+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	return parseCSV(symbol, body)
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", c.apiBase+"/")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
			c.invalidateSession()
		}
		return nil, fmt.Errorf("nse returned HTTP %d", res.StatusCode)
	}

	return io.ReadAll(res.Body)
}

// ListingDate resolves a symbol's exchange listing date. Failures are logged
// and reported as absent; callers fall back to the configured epoch.
func (c *Client) ListingDate(ctx context.Context, symbol string) (time.Time, bool) {
	if err := c.ensureSession(ctx); err != nil {
		slog.Warn("nse session for listing date", "symbol", symbol, "error", err)
		return time.Time{}, false
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.get(ctx, c.apiBase+metaInfoPath+"?"+params.Encode())
	if err != nil {
		slog.Warn("fetch listing date", "symbol", symbol, "error", err)
		return time.Time{}, false
	}

	var meta struct {
		ListingDate string `json:"listingDate"`
	}
	if err := json.Unmarshal(body, &meta); err != nil || meta.ListingDate == "" {
		return time.Time{}, false
	}

	d, err := time.Parse(time.DateOnly, meta.ListingDate)
	if err != nil {
		return time.Time{}, false
	}
	return market.Day(d), true
}

// IndexConstituents returns the symbols in an NSE index, e.g. "NIFTY 50".
func (c *Client) IndexConstituents(ctx context.Context, index string) ([]string, error) {
	index = ResolveIndex(index)

	if err := c.ensureSession(ctx); err != nil {
		return nil, fmt.Errorf("nse session: %w", err)
	}

	params := url.Values{}
	params.Set("index", index)

	body, err := c.get(ctx, c.apiBase+indexPath+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetch index %s: %w", index, err)
	}

	var resp struct {
		Data []struct {
			Symbol string `json:"symbol"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse index response: %w", err)
	}

	symbols := make([]string, 0, len(resp.Data))
	for _, entry := range resp.Data {
		// The first entry is the index itself, not a constituent.
		if entry.Symbol == "" || entry.Symbol == index {
			continue
		}
		symbols = append(symbols, entry.Symbol)
	}

	slog.Info("fetched index constituents", "index", index, "count", len(symbols))
	return symbols, nil
}

// parseCSV decodes the historical-data CSV body into daily records. The feed
// quotes numbers with thousands separators and uses "-" for absent values.
func parseCSV(symbol string, body []byte) ([]market.DailyRecord, error) {
	text := strings.ReplaceAll(string(body), "\x82", "")
	text = strings.ReplaceAll(text, "₹", "Rs")
	text = strings.TrimPrefix(text, "\ufeff")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	r := csv.NewReader(strings.NewReader(text))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[normalizeHeader(name)] = i
	}
	dateIdx, ok := cols["date"]
	if !ok {
		return nil, fmt.Errorf("csv response has no date column")
	}

	records := make([]market.DailyRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if dateIdx >= len(row) {
			continue
		}
		d, err := time.Parse(responseDateFormat, strings.TrimSpace(row[dateIdx]))
		if err != nil {
			continue
		}

		rec := market.DailyRecord{
			Date:           market.Day(d),
			Symbol:         field(row, cols, "symbol"),
			Series:         field(row, cols, "series"),
			PrevClose:      numField(row, cols, "prevclose"),
			Open:           numField(row, cols, "openprice"),
			High:           numField(row, cols, "highprice"),
			Low:            numField(row, cols, "lowprice"),
			Last:           numField(row, cols, "lastprice"),
			Close:          numField(row, cols, "closeprice"),
			Average:        numField(row, cols, "averageprice"),
			TradedQty:      int64(numField(row, cols, "totaltradedquantity")),
			Turnover:       numField(row, cols, "turnoverrs", "turnover"),
			Trades:         int64(numField(row, cols, "nooftrades")),
			DeliverableQty: int64(numField(row, cols, "deliverableqty")),
			DeliverablePct: numField(row, cols, "dlyqttotradedqty"),
		}
		if rec.Symbol == "" {
			rec.Symbol = symbol
		}
		records = append(records, rec)
	}

	return records, nil
}

func normalizeHeader(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func field(row []string, cols map[string]int, key string) string {
	i, ok := cols[key]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func numField(row []string, cols map[string]int, keys ...string) float64 {
	for _, key := range keys {
		raw := field(row, cols, key)
		if raw == "" || raw == "-" {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			continue
		}
		return v
	}
	return 0
}
