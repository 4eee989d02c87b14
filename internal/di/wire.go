//go:build wireinject
// +build wireinject

package di

import (
	"candleflow/pkg/config"
	"candleflow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideBus,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisClient,
		ProvideSnapshotCache,

		// Repositories
		ProvideCandleStorage,
		ProvideCandlePublisher,
		ProvideMarketStream,
		ProvideHistoryProvider,

		// Engine
		ProvideEngineConfig,
		ProvideEngine,
		ProvideHeartbeat,

		// Use cases
		ProvideTickProcessor,
		ProvideTickCollector,
		ProvideKafkaTicksHandler,
		ProvideArchiver,
		ProvideAlerts,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
