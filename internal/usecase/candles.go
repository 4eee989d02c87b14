package usecase

import (
	"context"
	"fmt"
	"time"

	"candleflow/internal/domain/models"
	domrepo "candleflow/internal/domain/repository"
	"candleflow/internal/engine"
)

// CandlesUseCase serves candle reads: the in-memory ring buffers answer
// recent lookbacks, the durable archive answers older ranges.
type CandlesUseCase struct {
	eng     *engine.AggregationEngine
	archive domrepo.CandleStorage // optional
}

func NewCandlesUseCase(eng *engine.AggregationEngine, archive domrepo.CandleStorage) *CandlesUseCase {
	return &CandlesUseCase{eng: eng, archive: archive}
}

type GetCandlesParams struct {
	Symbol    string
	Timeframe models.Timeframe
	From      time.Time
	To        time.Time
	Limit     int
}

type GetCandlesResult struct {
	Symbol    string
	Timeframe string
	Count     int
	Candles   []*models.Candle
}

// GetCandles returns closed candles for a series, ascending by open time.
// A zero From/To means "most recent Limit candles" straight from the
// buffer.
func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.Limit <= 0 {
		p.Limit = 500
	}
	if p.Limit > 10000 {
		p.Limit = 10000
	}

	var candles []*models.Candle
	if p.From.IsZero() && p.To.IsZero() {
		candles = uc.eng.Lookback(p.Symbol, p.Timeframe, p.Limit)
	} else {
		if p.From.After(p.To) {
			return nil, fmt.Errorf("from must be <= to")
		}
		candles = uc.rangeFromBuffer(p)
		if candles == nil && uc.archive != nil {
			var err error
			candles, err = uc.archive.Query(ctx, p.Symbol, p.Timeframe, p.From, p.To, p.Limit)
			if err != nil {
				return nil, fmt.Errorf("query archive: %w", err)
			}
		}
	}
	if len(candles) > p.Limit {
		candles = candles[len(candles)-p.Limit:]
	}

	return &GetCandlesResult{
		Symbol:    p.Symbol,
		Timeframe: p.Timeframe.String(),
		Count:     len(candles),
		Candles:   candles,
	}, nil
}

// rangeFromBuffer returns the requested range if the buffer fully covers
// it, nil otherwise so the caller can fall back to the archive.
func (uc *CandlesUseCase) rangeFromBuffer(p GetCandlesParams) []*models.Candle {
	all := uc.eng.Lookback(p.Symbol, p.Timeframe, uc.eng.Store().Len(p.Symbol, p.Timeframe))
	if len(all) == 0 {
		return nil
	}
	if all[0].OpenTime.After(p.From) {
		// buffer starts after the requested range begins
		return nil
	}
	out := make([]*models.Candle, 0, len(all))
	for _, c := range all {
		if c.OpenTime.Before(p.From) || c.OpenTime.After(p.To) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Latest returns the most recent closed candle for a series, or nil.
func (uc *CandlesUseCase) Latest(symbol string, tf models.Timeframe) *models.Candle {
	return uc.eng.Latest(symbol, tf)
}

// WarmupStatus reports per-timeframe warm-up progress for a symbol.
func (uc *CandlesUseCase) WarmupStatus(symbol string) (models.SymbolPhase, []models.WarmupState) {
	return uc.eng.Phase(symbol), uc.eng.WarmupStates(symbol)
}
