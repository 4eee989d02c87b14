package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"candleflow/internal/alerts"
	"candleflow/internal/bus"
	"candleflow/internal/engine"
	"candleflow/internal/usecase"
	pkgch "candleflow/pkg/clickhouse"
	"candleflow/pkg/config"
	xhttp "candleflow/pkg/http"
	pkgkafka "candleflow/pkg/kafka"
	applogger "candleflow/pkg/logger"

	"github.com/labstack/echo/v4"
)

// App encapsulates the entire application lifecycle: aggregation engine,
// heartbeat, tick collector, optional Kafka consumer, archiver, alerts,
// and the HTTP API.
type App struct {
	cfg       *config.Config
	log       *applogger.Logger
	bus       *bus.Bus
	eng       *engine.AggregationEngine
	heartbeat *bus.HeartbeatMonitor
	collector *usecase.TickCollector
	consumer  *pkgkafka.Consumer
	kh        pkgkafka.MessageHandler
	archiver  *usecase.CandleArchiver
	alerts    *alerts.Service
	chClient  *pkgch.Client

	httpServer *xhttp.Server
	handlers   []xhttp.Handler

	TickProc *usecase.TickProcessor
}

// New creates a new App instance with all dependencies. consumer, kh,
// archiver, alerts and chClient may be nil when the corresponding
// subsystem is disabled.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	b *bus.Bus,
	eng *engine.AggregationEngine,
	heartbeat *bus.HeartbeatMonitor,
	collector *usecase.TickCollector,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	archiver *usecase.CandleArchiver,
	alertsSvc *alerts.Service,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		bus:       b,
		eng:       eng,
		heartbeat: heartbeat,
		collector: collector,
		consumer:  consumer,
		kh:        kh,
		archiver:  archiver,
		alerts:    alertsSvc,
		chClient:  chClient,
	}
}

// AddHTTPHandler registers an HTTP handler with the server.
func (a *App) AddHTTPHandler(h xhttp.Handler) {
	if h != nil {
		a.handlers = append(a.handlers, h)
	}
}

type multiHandler []xhttp.Handler

func (m multiHandler) RegisterRoutes(e *echo.Echo) {
	for _, h := range m {
		h.RegisterRoutes(e)
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(multiHandler(a.handlers),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	// Engine first so warm-up begins before live ticks arrive.
	a.eng.Start(ctx)
	a.log.Info("engine started",
		applogger.Strings("symbols", a.cfg.Market.Symbols),
		applogger.String("base_tf", a.cfg.Aggregation.BaseTimeframe),
	)

	if a.heartbeat != nil {
		a.heartbeat.Start(ctx)
	}
	if a.archiver != nil {
		if err := a.archiver.Start(a.bus); err != nil {
			a.log.Error("archiver start error", applogger.Error(err))
		}
	}
	if a.alerts != nil {
		if err := a.alerts.Start(); err != nil {
			a.log.Error("alerts start error", applogger.Error(err))
		}
	}

	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				a.log.Error("collector error", applogger.Error(err))
			}
		}()
		a.log.Info("collector started", applogger.Strings("symbols", a.cfg.Market.Symbols))
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services, sources before sinks.
func (a *App) shutdown(ctx context.Context) error {
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// Engine flushes its queues, then the archiver drains its last batch.
	a.eng.Stop()
	if a.heartbeat != nil {
		a.heartbeat.Stop()
	}
	if a.alerts != nil {
		a.alerts.Stop()
	}
	if a.archiver != nil {
		a.archiver.Stop(a.bus)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.TickProc != nil {
		a.TickProc.Close()
	}

	a.log.Info("shutdown complete")
	return nil
}
