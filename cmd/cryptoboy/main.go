// Command cryptoboy runs the services of the sentiment trading pipeline.
// Each subcommand is one long-running service; they communicate only through
// the broker and the cache, so any subset can run on any host.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voidcat/cryptoboy/internal/broker"
	"github.com/voidcat/cryptoboy/internal/config"
	"github.com/voidcat/cryptoboy/internal/metrics"
	"github.com/voidcat/cryptoboy/internal/telemetry"
)

const (
	appName = "cryptoboy"
	version = "v1.4.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Real-time crypto sentiment trading pipeline",
		Version: version,
		Long: `Cryptoboy ingests crypto news and market candles, scores article
sentiment through an oracle cascade, caches fresh signals per trading pair
and merges them with technical indicators into entry/exit decisions.

Each subcommand is an independent service connected through the broker.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newPollNewsCmd(),
		newStreamMarketCmd(),
		newAnalyzeCmd(),
		newCacheSignalsCmd(),
		newTradeCmd(),
		newStatusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap performs the startup sequence shared by every service: logging,
// fail-fast config validation and the metrics endpoint. Config failure exits
// with status 1 before any network connection is opened.
func bootstrap(service string) (*config.Settings, *metrics.Server) {
	telemetry.SetupLogging(service)

	settings, err := config.Load(service)
	if err != nil {
		log.Error().Err(err).Str("service", service).Msg("configuration invalid")
		os.Exit(1)
	}

	srv := metrics.NewServer(service, settings.MetricsAddr)
	srv.Start()
	return settings, srv
}

// fatal logs a startup failure and exits with status 1.
func fatal(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}

// serviceContext is cancelled on SIGINT or SIGTERM.
func serviceContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// connectBroker dials the broker with the service's identity.
func connectBroker(ctx context.Context, settings *config.Settings, service string) *broker.Client {
	client, err := broker.Connect(ctx, broker.Options{
		URL:  settings.BrokerURL(),
		Name: appName + "-" + service,
	})
	if err != nil {
		fatal(err, "broker unreachable")
	}
	return client
}

// shutdown stops the metrics server with a bounded grace period.
func shutdown(srv *metrics.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown failed")
	}
}
