package marketws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"candleflow/internal/domain/models"
	drepo "candleflow/internal/domain/repository"
	xhttp "candleflow/pkg/http"
	applogger "candleflow/pkg/logger"
)

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func TestRESTHistoryFetch(t *testing.T) {
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	var gotQuery map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/candle" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = map[string]string{
			"symbol":     r.URL.Query().Get("symbol"),
			"resolution": r.URL.Query().Get("resolution"),
			"token":      r.URL.Query().Get("token"),
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"s": "ok",
			"t": []int64{start.Unix(), start.Add(time.Minute).Unix(), start.Add(2 * time.Minute).Unix()},
			"o": []float64{100, 101, 102},
			"h": []float64{101, 102, 103},
			"l": []float64{99, 100, 101},
			"c": []float64{101, 102, 102.5},
			"v": []float64{10, 11, 12},
		})
	}))
	defer srv.Close()

	h := NewRESTHistory("secret", srv.URL, xhttp.NewClient(), testLogger(t))
	candles, err := h.FetchHistorical(context.Background(), "BINANCE:BTCUSDT", models.TF1m, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if gotQuery["symbol"] != "BINANCE:BTCUSDT" || gotQuery["resolution"] != "1" || gotQuery["token"] != "secret" {
		t.Fatalf("unexpected query %+v", gotQuery)
	}
	// trimmed to the most recent count, ascending
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[0].OpenTime.Equal(start.Add(time.Minute)) || !candles[1].OpenTime.Equal(start.Add(2*time.Minute)) {
		t.Fatalf("unexpected window %v %v", candles[0].OpenTime, candles[1].OpenTime)
	}
	for i, c := range candles {
		if !c.Closed {
			t.Fatalf("candle %d not marked closed", i)
		}
		if err := c.Validate(); err != nil {
			t.Fatalf("candle %d invalid: %v", i, err)
		}
	}
}

func TestRESTHistoryErrorStatuses(t *testing.T) {
	cases := []struct {
		name string
		body interface{}
	}{
		{"no_data status", map[string]interface{}{"s": "no_data"}},
		{"ragged payload", map[string]interface{}{
			"s": "ok",
			"t": []int64{1}, "o": []float64{1, 2}, "h": []float64{1},
			"l": []float64{1}, "c": []float64{1}, "v": []float64{1},
		}},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(tc.body)
		}))
		h := NewRESTHistory("k", srv.URL, xhttp.NewClient(), testLogger(t))
		if _, err := h.FetchHistorical(context.Background(), "BTC", models.TF1m, 5); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		srv.Close()
	}
}

func TestResolutionFor(t *testing.T) {
	cases := map[models.Timeframe]string{
		models.TF1s:  "1",
		models.TF1m:  "1",
		models.TF5m:  "5",
		models.TF15m: "15",
		models.TF1h:  "60",
	}
	for tf, want := range cases {
		if got := resolutionFor(tf); got != want {
			t.Fatalf("%s: resolution %q, want %q", tf, got, want)
		}
	}
}

type stubHistory struct {
	candles []*models.Candle
	err     error
	calls   int
}

func (s *stubHistory) FetchHistorical(context.Context, string, models.Timeframe, int) ([]*models.Candle, error) {
	s.calls++
	return s.candles, s.err
}

func TestChainHistoryFallsBack(t *testing.T) {
	want := []*models.Candle{models.CandleFromFloats("BTC", models.TF1m, time.Now().UTC(), 1, 1, 1, 1, 1)}
	primary := &stubHistory{err: fmt.Errorf("exchange down")}
	fallback := &stubHistory{candles: want}

	chain := NewChainHistory(testLogger(t), primary, nil, fallback)
	got, err := chain.FetchHistorical(context.Background(), "BTC", models.TF1m, 1)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(got) != 1 || primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("unexpected fallback behavior: %d candles, primary=%d fallback=%d",
			len(got), primary.calls, fallback.calls)
	}
}

func TestChainHistoryStopsAtFirstResult(t *testing.T) {
	first := &stubHistory{candles: []*models.Candle{
		models.CandleFromFloats("BTC", models.TF1m, time.Now().UTC(), 1, 1, 1, 1, 1),
	}}
	second := &stubHistory{}

	chain := NewChainHistory(testLogger(t), first, second)
	if _, err := chain.FetchHistorical(context.Background(), "BTC", models.TF1m, 1); err != nil {
		t.Fatalf("chain: %v", err)
	}
	if second.calls != 0 {
		t.Fatal("chain called the fallback despite a primary result")
	}
}

func TestChainHistoryAllFail(t *testing.T) {
	chain := NewChainHistory(testLogger(t), &stubHistory{err: fmt.Errorf("a")}, &stubHistory{err: fmt.Errorf("b")})
	if _, err := chain.FetchHistorical(context.Background(), "BTC", models.TF1m, 1); err == nil {
		t.Fatal("expected error when every provider fails")
	}

	empty := NewChainHistory(testLogger(t))
	if _, err := empty.FetchHistorical(context.Background(), "BTC", models.TF1m, 1); err == nil {
		t.Fatal("expected error from an empty chain")
	}
}

var _ drepo.HistoryProvider = (*stubHistory)(nil)
