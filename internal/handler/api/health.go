package api

import (
	"context"
	"net/http"
	"time"

	models "candleflow/internal/domain/models"
	xlogger "candleflow/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PhaseSource reports per-symbol lifecycle, implemented by the engine.
type PhaseSource interface {
	Phase(symbol string) models.SymbolPhase
}

// HealthChecker is any dependency that can be pinged.
type HealthChecker func(ctx context.Context) error

// HealthHandler serves /health: overall status, per-symbol phase, recent
// aggregated errors, and dependency checks.
type HealthHandler struct {
	logger  *xlogger.Logger
	phases  PhaseSource
	symbols []string
	checks  map[string]HealthChecker
	started time.Time
}

func NewHealthHandler(logger *xlogger.Logger, phases PhaseSource, symbols []string) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		phases:  phases,
		symbols: symbols,
		checks:  make(map[string]HealthChecker),
		started: time.Now(),
	}
}

// AddCheck registers a named dependency ping.
func (h *HealthHandler) AddCheck(name string, fn HealthChecker) {
	if fn != nil {
		h.checks[name] = fn
	}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
}

func (h *HealthHandler) Health(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Symbols:   make(map[string]string, len(h.symbols)),
		Checks:    make(map[string]interface{}, len(h.checks)),
	}

	for _, sym := range h.symbols {
		phase := h.phases.Phase(sym)
		status.Symbols[sym] = phase.String()
		if phase != models.PhaseLive {
			status.Status = "degraded"
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status.Checks[name] = err.Error()
			status.Status = "degraded"
		} else {
			status.Checks[name] = "ok"
		}
	}

	if col := h.logger.Collector(); col != nil {
		status.RecentErrors = col.Recent()
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
