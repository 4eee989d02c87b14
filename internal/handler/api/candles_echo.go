package api

import (
	"encoding/json"
	"net/http"
	"time"

	models "candleflow/internal/domain/models"
	"candleflow/internal/service/ratelimit"
	"candleflow/internal/usecase"
	pkgcache "candleflow/pkg/cache"
	xhttp "candleflow/pkg/http"
	xlogger "candleflow/pkg/logger"

	"github.com/labstack/echo/v4"
)

// CandlesEchoHandler serves candle reads and warm-up status over Echo.
type CandlesEchoHandler struct {
	logger  *xlogger.Logger
	candles *usecase.CandlesUseCase
	cache   pkgcache.Service
	rl      *ratelimit.Limiter
}

func NewCandlesEchoHandler(logger *xlogger.Logger, candles *usecase.CandlesUseCase) *CandlesEchoHandler {
	return &CandlesEchoHandler{logger: logger, candles: candles, rl: ratelimit.New()}
}

// SetCache enables short-TTL response caching.
func (h *CandlesEchoHandler) SetCache(c pkgcache.Service) { h.cache = c }

func (h *CandlesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/candles", h.Candles)
	g.GET("/candles/latest", h.Latest)
	g.GET("/warmup/:symbol", h.Warmup)
}

func (h *CandlesEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := models.ParseTimeframe(req.TF)
	if err != nil {
		return xhttp.BadRequestResponse(c, xhttp.BadRequestErrorf("bad timeframe %q", req.TF))
	}
	if !h.rl.Allow(c.RealIP()+":candles", 10, 5) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limited")
	}

	params := usecase.GetCandlesParams{
		Symbol:    req.Symbol,
		Timeframe: tf,
		Limit:     req.Limit,
	}
	if t, ok := xhttp.ParseTime(req.From); ok {
		params.From = t
	}
	if t, ok := xhttp.ParseTime(req.To); ok {
		params.To = t
	}

	res, err := h.candles.GetCandles(c.Request().Context(), params)
	if err != nil {
		h.logger.Error("candles usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	dtos := make([]models.CandleDTO, len(res.Candles))
	for i, cd := range res.Candles {
		dtos[i] = models.NewCandleDTO(cd)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=1")
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbol":    res.Symbol,
		"timeframe": res.Timeframe,
		"count":     res.Count,
		"candles":   dtos,
	})
}

func (h *CandlesEchoHandler) Latest(c echo.Context) error {
	req := &models.LatestCandleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := models.ParseTimeframe(req.TF)
	if err != nil {
		return xhttp.BadRequestResponse(c, xhttp.BadRequestErrorf("bad timeframe %q", req.TF))
	}

	cacheKey := pkgcache.GenerateKeyWithParams("latest", req.Symbol, tf.String())
	if h.cache != nil {
		var raw string
		if h.cache.Get(c.Request().Context(), cacheKey, &raw) == nil {
			var dto models.CandleDTO
			if json.Unmarshal([]byte(raw), &dto) == nil {
				return xhttp.SuccessResponse(c, dto)
			}
		}
	}

	latest := h.candles.Latest(req.Symbol, tf)
	if latest == nil {
		return xhttp.NotFoundResponse(c, xhttp.NotFoundErrorf("no closed candle for %s %s", req.Symbol, tf))
	}
	dto := models.NewCandleDTO(latest)
	if h.cache != nil {
		if b, merr := json.Marshal(dto); merr == nil {
			_ = h.cache.Set(c.Request().Context(), cacheKey, string(b), time.Second)
		}
	}
	return xhttp.SuccessResponse(c, dto)
}

func (h *CandlesEchoHandler) Warmup(c echo.Context) error {
	symbol := c.Param("symbol")
	if symbol == "" {
		return xhttp.BadRequestResponse(c, xhttp.BadRequestError("symbol required"))
	}

	phase, states := h.candles.WarmupStatus(symbol)
	dtos := make([]models.WarmupStateDTO, len(states))
	for i, s := range states {
		dtos[i] = models.NewWarmupStateDTO(s)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbol":     symbol,
		"phase":      phase.String(),
		"timeframes": dtos,
	})
}
