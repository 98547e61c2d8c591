package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "marketdatad"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-venue perpetuals market-data aggregator",
		Version: version,
		Long: `marketdatad ingests order-book and trade streams from the Hyperliquid,
Aster, Lighter and Avantis perpetuals venues, maintains per-venue order books
and OHLCV candles, and publishes a cross-venue consolidated book with
best-execution routing.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the aggregation pipeline until terminated",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to a YAML config file (defaults baked in if omitted)")
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics/health listen address")

	healthzCmd := &cobra.Command{
		Use:   "healthz",
		Short: "Query a running instance's /healthz endpoint",
		RunE:  runHealthz,
	}
	healthzCmd.Flags().String("addr", "http://localhost:9090", "Base address of a running marketdatad instance")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthzCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
