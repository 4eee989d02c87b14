package models

import "time"

// Requests for candle HTTP endpoints. Defined in domain for consistency
// and reuse.

type CandlesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	TF     string `query:"tf" json:"tf" default:"1m"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}

type LatestCandleRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	TF     string `query:"tf" json:"tf" default:"1m"`
}

// CandleDTO is the JSON shape of a candle. Prices travel as strings so
// clients never see float rounding.
type CandleDTO struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	OpenTime   int64  `json:"open_time"`
	Open       string `json:"open"`
	High       string `json:"high"`
	Low        string `json:"low"`
	Close      string `json:"close"`
	Volume     string `json:"volume"`
	VWAP       string `json:"vwap"`
	TradeCount int    `json:"trade_count"`
	Closed     bool   `json:"closed"`
}

// NewCandleDTO converts a candle for the wire.
func NewCandleDTO(c *Candle) CandleDTO {
	return CandleDTO{
		Symbol:     c.Symbol,
		Timeframe:  c.Timeframe.String(),
		OpenTime:   c.OpenTime.UnixMilli(),
		Open:       c.Open.String(),
		High:       c.High.String(),
		Low:        c.Low.String(),
		Close:      c.Close.String(),
		Volume:     c.Volume.String(),
		VWAP:       c.VWAP.String(),
		TradeCount: c.TradeCount,
		Closed:     c.Closed,
	}
}

// WarmupStateDTO is the JSON shape of per-series warm-up progress.
type WarmupStateDTO struct {
	Timeframe string `json:"timeframe"`
	Required  int    `json:"required"`
	Received  int    `json:"received"`
	Completed bool   `json:"completed"`
}

// NewWarmupStateDTO converts warm-up progress for the wire.
func NewWarmupStateDTO(s WarmupState) WarmupStateDTO {
	return WarmupStateDTO{
		Timeframe: s.Series.Timeframe.String(),
		Required:  s.RequiredCount,
		Received:  s.ReceivedCount,
		Completed: s.Completed,
	}
}

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status       string                 `json:"status"`
	Uptime       string                 `json:"uptime"`
	Timestamp    time.Time              `json:"timestamp"`
	Symbols      map[string]string      `json:"symbols"`
	RecentErrors interface{}            `json:"recent_errors,omitempty"`
	Checks       map[string]interface{} `json:"checks,omitempty"`
}
