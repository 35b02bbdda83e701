package nse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const sampleCSV = `"Date ","symbol","Series","Prev Close","Open Price","High Price","Low Price","Last Price","Close Price","Average Price","Total Traded Quantity","Turnover ₹","No. of Trades","Deliverable Qty","% Dly Qt to Traded Qty"
"02-Jan-2024","ABC","EQ","100.50","101.00","103.25","100.10","102.00","102.50","101.75","1,23,456","1,25,61,728.50","4,321","61,728","50.00"
"03-Jan-2024","ABC","EQ","102.50","102.75","104.00","102.00","103.50","103.75","103.10","98,765","1,01,83,672.75","3,210","-","42.10"
`

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(WithAPIBase(srv.URL), WithOriginURL(srv.URL+"/warmup"))
}

func TestFetchRange_ParsesCSV(t *testing.T) {
	var warmups atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/warmup"):
			warmups.Add(1)
		case r.URL.Path == historicalPath:
			if got := r.URL.Query().Get("symbol"); got != "ABC" {
				t.Errorf("symbol param = %q, want ABC", got)
			}
			if got := r.URL.Query().Get("from"); got != "01-01-2024" {
				t.Errorf("from param = %q, want 01-01-2024", got)
			}
			_, _ = w.Write([]byte(sampleCSV))
		default:
			http.NotFound(w, r)
		}
	}))

	records, err := client.FetchRange(context.Background(),
		"ABC",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if warmups.Load() == 0 {
		t.Error("expected a session warm-up request")
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	first := records[0]
	if !first.Date.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v, want 2024-01-02", first.Date)
	}
	if first.Close != 102.50 {
		t.Errorf("close = %v, want 102.50", first.Close)
	}
	if first.TradedQty != 123456 {
		t.Errorf("traded qty = %d, want 123456 (comma separators stripped)", first.TradedQty)
	}
	if first.DeliverableQty != 61728 {
		t.Errorf("deliverable qty = %d, want 61728", first.DeliverableQty)
	}

	// "-" placeholder parses as zero, not an error.
	if records[1].DeliverableQty != 0 {
		t.Errorf("placeholder deliverable qty = %d, want 0", records[1].DeliverableQty)
	}
}

func TestFetchRange_EmptyBodyMeansNoData(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == historicalPath {
			_, _ = w.Write([]byte("\n"))
		}
	}))

	records, err := client.FetchRange(context.Background(),
		"ABC",
		time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("empty range must not be an error, got: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}
}

func TestFetchRange_RejectedWarmupIsError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/warmup") {
			http.Error(w, "blocked", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(sampleCSV))
	}))

	_, err := client.FetchRange(context.Background(),
		"ABC",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	)
	if err == nil {
		t.Fatal("expected error when the session warm-up is rejected")
	}
	if !strings.Contains(err.Error(), "warm-up") {
		t.Errorf("error %q does not name the warm-up", err)
	}
}

func TestFetchRange_ServerErrorIsError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == historicalPath {
			http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
		}
	}))

	_, err := client.FetchRange(context.Background(),
		"ABC",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	)
	if err == nil {
		t.Fatal("expected error for HTTP 504")
	}
}

func TestFetchRange_ChunksLongRanges(t *testing.T) {
	var calls atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == historicalPath {
			calls.Add(1)
			_, _ = w.Write([]byte("\n"))
		}
	}))

	_, err := client.FetchRange(context.Background(),
		"ABC",
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 6, 30, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("got %d chunk requests for a 2.5 year range, want 3", got)
	}
}

func TestListingDate(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == metaInfoPath {
			_, _ = w.Write([]byte(`{"symbol":"ABC","listingDate":"2010-11-08"}`))
		}
	}))

	d, ok := client.ListingDate(context.Background(), "ABC")
	if !ok {
		t.Fatal("expected listing date")
	}
	if want := time.Date(2010, 11, 8, 0, 0, 0, 0, time.UTC); !d.Equal(want) {
		t.Errorf("listing date = %v, want %v", d, want)
	}
}

func TestListingDate_FailureIsAbsentNotFatal(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == metaInfoPath {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}
	}))

	if _, ok := client.ListingDate(context.Background(), "ABC"); ok {
		t.Fatal("expected absent listing date on server error")
	}
}

func TestIndexConstituents_SkipsIndexRow(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == indexPath {
			if got := r.URL.Query().Get("index"); got != "NIFTY 50" {
				t.Errorf("index param = %q, want NIFTY 50", got)
			}
			_, _ = w.Write([]byte(`{"data":[{"symbol":"NIFTY 50"},{"symbol":"RELIANCE"},{"symbol":"TCS"}]}`))
		}
	}))

	symbols, err := client.IndexConstituents(context.Background(), "nifty50")
	if err != nil {
		t.Fatal(err)
	}
	if len(symbols) != 2 || symbols[0] != "RELIANCE" || symbols[1] != "TCS" {
		t.Errorf("symbols = %v, want [RELIANCE TCS]", symbols)
	}
}

func TestResolveIndex(t *testing.T) {
	if got := ResolveIndex("nifty_midcap_100"); got != "NIFTY MIDCAP 100" {
		t.Errorf("got %q", got)
	}
	if got := ResolveIndex("NIFTY 50"); got != "NIFTY 50" {
		t.Errorf("full names must pass through, got %q", got)
	}
}
