package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"candleflow/internal/domain/models"
	domrepo "candleflow/internal/domain/repository"
	pkgch "candleflow/pkg/clickhouse"
	applogger "candleflow/pkg/logger"
)

// ClickHouseCandleStore persists closed candles into a single MergeTree
// table keyed by (symbol, timeframe, open_time). It implements both
// CandleStorage and HistoryProvider, so an archived series can seed its
// own warm-up after a restart.
type ClickHouseCandleStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

// NewClickHouseCandleStore creates a candle store on an existing client.
func NewClickHouseCandleStore(ch *pkgch.Client, table string) *ClickHouseCandleStore {
	if table == "" {
		table = "candleflow.candles"
	}
	return &ClickHouseCandleStore{db: ch.DB(), table: table}
}

// SetLogger injects a structured logger.
func (s *ClickHouseCandleStore) SetLogger(l *applogger.Logger) { s.l = l }

// Init ensures the candle table exists (idempotent).
func (s *ClickHouseCandleStore) Init(ctx context.Context) error {
	stmts := []string{
		"CREATE DATABASE IF NOT EXISTS candleflow",
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            symbol      LowCardinality(String),
            timeframe   LowCardinality(String),
            open_time   DateTime64(3, 'UTC'),
            open        Float64,
            high        Float64,
            low         Float64,
            close       Float64,
            volume      Float64,
            vwap        Float64,
            trade_count UInt32
        )
        ENGINE = ReplacingMergeTree
        PARTITION BY toYYYYMM(open_time)
        ORDER BY (symbol, timeframe, open_time)
    `, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init candle schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseCandleStore) Store(ctx context.Context, c *models.Candle) error {
	return s.StoreBatch(ctx, []*models.Candle{c})
}

func (s *ClickHouseCandleStore) StoreBatch(ctx context.Context, candles []*models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	// Multi-row VALUES insert to reduce round-trips.
	const chunkSize = 2000
	for start := 0; start < len(candles); start += chunkSize {
		end := start + chunkSize
		if end > len(candles) {
			end = len(candles)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*10)
		for _, c := range candles[start:end] {
			if c == nil || c.Symbol == "" || !c.Closed {
				continue
			}
			open, _ := c.Open.Float64()
			high, _ := c.High.Float64()
			low, _ := c.Low.Float64()
			cls, _ := c.Close.Float64()
			vol, _ := c.Volume.Float64()
			vwap, _ := c.VWAP.Float64()
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				c.Symbol,
				c.Timeframe.String(),
				c.OpenTime,
				open,
				high,
				low,
				cls,
				vol,
				vwap,
				uint32(c.TradeCount),
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf(
			"INSERT INTO %s (symbol, timeframe, open_time, open, high, low, close, volume, vwap, trade_count) VALUES %s",
			s.table, strings.Join(values, ","),
		)
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse store_batch error",
					applogger.String("table", s.table),
					applogger.Int("rows", len(values)),
					applogger.Error(err),
				)
			}
			return fmt.Errorf("store candles: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseCandleStore) Query(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time, limit int) ([]*models.Candle, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT symbol, open_time, open, high, low, close, volume, vwap, trade_count
        FROM %s
        WHERE symbol = ? AND timeframe = ? AND open_time >= ? AND open_time <= ?
        ORDER BY open_time ASC
        LIMIT ?
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, tf.String(), from, to, limit)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse query_candles error",
				applogger.String("table", s.table),
				applogger.String("symbol", symbol),
				applogger.String("tf", tf.String()),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	out, err := s.scanCandles(rows, tf)
	if err != nil {
		return nil, err
	}
	if s.l != nil {
		s.l.Debug("clickhouse query_candles ok",
			applogger.String("symbol", symbol),
			applogger.String("tf", tf.String()),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

// FetchHistorical returns the most recent count closed candles, ascending
// by open time. Implements HistoryProvider for restart warm-up.
func (s *ClickHouseCandleStore) FetchHistorical(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]*models.Candle, error) {
	q := fmt.Sprintf(`
        SELECT symbol, open_time, open, high, low, close, volume, vwap, trade_count
        FROM %s
        WHERE symbol = ? AND timeframe = ?
        ORDER BY open_time DESC
        LIMIT ?
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, tf.String(), count)
	if err != nil {
		return nil, fmt.Errorf("fetch historical: %w", err)
	}
	defer rows.Close()

	out, err := s.scanCandles(rows, tf)
	if err != nil {
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *ClickHouseCandleStore) scanCandles(rows *sql.Rows, tf models.Timeframe) ([]*models.Candle, error) {
	out := make([]*models.Candle, 0, 256)
	for rows.Next() {
		var (
			symbol                             string
			openTime                           time.Time
			open, high, low, cls, volume, vwap float64
			tradeCount                         uint32
		)
		if err := rows.Scan(&symbol, &openTime, &open, &high, &low, &cls, &volume, &vwap, &tradeCount); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c := models.CandleFromFloats(symbol, tf, openTime.UTC(), open, high, low, cls, volume)
		c.VWAP = models.DecimalFromFloat(vwap)
		c.TradeCount = int(tradeCount)
		c.Closed = true
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ClickHouseCandleStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseCandleStore) Close() error {
	return nil // pool owned by pkg client
}

var _ domrepo.CandleStorage = (*ClickHouseCandleStore)(nil)
var _ domrepo.HistoryProvider = (*ClickHouseCandleStore)(nil)
