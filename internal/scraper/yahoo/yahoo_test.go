package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func testClient(t *testing.T, chart http.HandlerFunc) *Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/cookie", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "A3", Value: "test"})
	})
	mux.HandleFunc("/crumb", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("test-crumb"))
	})
	mux.HandleFunc("/chart/", chart)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return New(
		WithChartEndpoint(srv.URL+"/chart"),
		WithCookieURL(srv.URL+"/cookie"),
		WithCrumbURL(srv.URL+"/crumb"),
		WithSymbolSuffix(".NS"),
	)
}

func chartBody(ts []int64, open, high, low, closes, vol []any) string {
	j := func(vals []any) string {
		parts := make([]string, len(vals))
		for i, v := range vals {
			if v == nil {
				parts[i] = "null"
			} else {
				parts[i] = fmt.Sprintf("%v", v)
			}
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	tparts := make([]string, len(ts))
	for i, v := range ts {
		tparts[i] = fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf(`{"chart":{"result":[{"timestamp":[%s],"indicators":{"quote":[{"open":%s,"high":%s,"low":%s,"close":%s,"volume":%s}]}}],"error":null}}`,
		strings.Join(tparts, ","), j(open), j(high), j(low), j(closes), j(vol))
}

func TestFetchRange_ParsesOHLCV(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/RELIANCE.NS") {
			t.Errorf("path = %s, want .NS suffixed symbol", r.URL.Path)
		}
		if got := r.URL.Query().Get("crumb"); got != "test-crumb" {
			t.Errorf("crumb = %q, want test-crumb", got)
		}
		_, _ = w.Write([]byte(chartBody(
			[]int64{d1.Unix(), d2.Unix()},
			[]any{100.0, 102.0},
			[]any{103.0, 104.0},
			[]any{99.0, 101.0},
			[]any{102.0, 103.5},
			[]any{50000.0, 60000.0},
		)))
	})

	records, err := client.FetchRange(context.Background(), "RELIANCE",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	first := records[0]
	if first.Symbol != "RELIANCE" {
		t.Errorf("symbol = %q, want bare symbol without suffix", first.Symbol)
	}
	if !first.Date.Equal(d1) {
		t.Errorf("date = %v, want %v", first.Date, d1)
	}
	if first.Open != 100 || first.High != 103 || first.Low != 99 || first.Close != 102 {
		t.Errorf("ohlc = %v/%v/%v/%v", first.Open, first.High, first.Low, first.Close)
	}
	if first.TradedQty != 50000 {
		t.Errorf("volume = %d, want 50000", first.TradedQty)
	}
	if records[1].PrevClose != 102 {
		t.Errorf("prev close = %v, want prior day close 102", records[1].PrevClose)
	}
}

func TestFetchRange_StitchesPrevCloseAcrossChunks(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1300) // two chunks at 1250 days each

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		period1, err := strconv.ParseInt(r.URL.Query().Get("period1"), 10, 64)
		if err != nil {
			t.Errorf("period1 param: %v", err)
		}
		// One bar per chunk, at the chunk's start date.
		closeVal := 100.0
		if period1 > from.Unix() {
			closeVal = 200.0
		}
		_, _ = w.Write([]byte(chartBody(
			[]int64{period1},
			[]any{closeVal},
			[]any{closeVal},
			[]any{closeVal},
			[]any{closeVal},
			[]any{1000.0},
		)))
	})

	records, err := client.FetchRange(context.Background(), "RELIANCE", from, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[1].PrevClose != 100 {
		t.Errorf("prev close at chunk boundary = %v, want prior chunk's close 100", records[1].PrevClose)
	}
}

func TestFetchRange_NullBarsSkipped(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chartBody(
			[]int64{d1.Unix(), d2.Unix()},
			[]any{100.0, nil},
			[]any{103.0, nil},
			[]any{99.0, nil},
			[]any{102.0, nil},
			[]any{50000.0, nil},
		)))
	})

	records, err := client.FetchRange(context.Background(), "RELIANCE",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (null close skipped)", len(records))
	}
}

func TestFetchRange_ChartErrorIsError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Unauthorized","description":"Invalid crumb"}}}`))
	})

	_, err := client.FetchRange(context.Background(), "RELIANCE",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("expected error for chart error response")
	}
}

func TestFetchRange_NotFoundMeansEmpty(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	})

	records, err := client.FetchRange(context.Background(), "RELIANCE",
		time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("no-data response must not be an error, got: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}
}
