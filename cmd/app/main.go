package main

import (
	"flag"
	"log"
	"os"

	"candleflow/internal/di"
	"candleflow/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s symbols=%v base_tf=%s derived=%v",
		cfg.Environment, cfg.Market.Symbols, cfg.Aggregation.BaseTimeframe, cfg.Aggregation.DerivedTimeframes)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
