package marketws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"candleflow/internal/domain/models"
	drepo "candleflow/internal/domain/repository"
	xhttp "candleflow/pkg/http"
	applogger "candleflow/pkg/logger"
)

// RESTHistory fetches historical candles over the exchange REST API. It is
// the primary HistoryProvider used during warm-up.
type RESTHistory struct {
	apiKey  string
	baseURL string
	client  *xhttp.Client
	log     *applogger.Logger
}

// NewRESTHistory creates a REST-backed history provider.
func NewRESTHistory(apiKey, baseURL string, client *xhttp.Client, log *applogger.Logger) *RESTHistory {
	return &RESTHistory{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		log:     log,
	}
}

// candleResponse is the exchange's columnar candle payload.
type candleResponse struct {
	Status string    `json:"s"`
	Time   []int64   `json:"t"` // period start, unix seconds
	Open   []float64 `json:"o"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Close  []float64 `json:"c"`
	Volume []float64 `json:"v"`
}

// FetchHistorical returns the most recent count closed candles, ascending
// by open time.
func (h *RESTHistory) FetchHistorical(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]*models.Candle, error) {
	to := time.Now().UTC().Truncate(tf.Duration())
	from := to.Add(-time.Duration(count+1) * tf.Duration())

	var resp candleResponse
	err := h.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    h.baseURL + "/candle",
		QueryParams: map[string][]string{
			"symbol":     {symbol},
			"resolution": {resolutionFor(tf)},
			"from":       {strconv.FormatInt(from.Unix(), 10)},
			"to":         {strconv.FormatInt(to.Unix(), 10)},
			"token":      {h.apiKey},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s %s: %w", symbol, tf, err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("fetch candles %s %s: status %q", symbol, tf, resp.Status)
	}

	n := len(resp.Time)
	if len(resp.Open) != n || len(resp.High) != n || len(resp.Low) != n || len(resp.Close) != n || len(resp.Volume) != n {
		return nil, fmt.Errorf("fetch candles %s %s: ragged columnar payload", symbol, tf)
	}

	out := make([]*models.Candle, 0, n)
	for i := 0; i < n; i++ {
		c := models.CandleFromFloats(
			symbol, tf,
			time.Unix(resp.Time[i], 0).UTC(),
			resp.Open[i], resp.High[i], resp.Low[i], resp.Close[i], resp.Volume[i],
		)
		c.Closed = true
		out = append(out, c)
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	h.log.Debug("history fetched",
		applogger.String("symbol", symbol),
		applogger.String("tf", tf.String()),
		applogger.Int("rows", len(out)),
	)
	return out, nil
}

func resolutionFor(tf models.Timeframe) string {
	d := tf.Duration()
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "60"
		}
		return strconv.Itoa(int(d / time.Minute))
	case d >= time.Minute:
		return strconv.Itoa(int(d / time.Minute))
	default:
		return "1"
	}
}

// ChainHistory tries each provider in order and returns the first
// non-empty result. Lets the engine fall back to the local archive when
// the exchange API is down.
type ChainHistory struct {
	providers []drepo.HistoryProvider
	log       *applogger.Logger
}

// NewChainHistory builds a fallback chain. Nil providers are skipped.
func NewChainHistory(log *applogger.Logger, providers ...drepo.HistoryProvider) *ChainHistory {
	filtered := make([]drepo.HistoryProvider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			filtered = append(filtered, p)
		}
	}
	return &ChainHistory{providers: filtered, log: log}
}

func (h *ChainHistory) FetchHistorical(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]*models.Candle, error) {
	var lastErr error
	for _, p := range h.providers {
		candles, err := p.FetchHistorical(ctx, symbol, tf, count)
		if err != nil {
			lastErr = err
			h.log.Warn("history provider failed, trying next",
				applogger.String("symbol", symbol),
				applogger.String("tf", tf.String()),
				applogger.Error(err),
			)
			continue
		}
		if len(candles) > 0 {
			return candles, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("no history available for %s %s", symbol, tf)
}

var _ drepo.HistoryProvider = (*RESTHistory)(nil)
var _ drepo.HistoryProvider = (*ChainHistory)(nil)
