package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voidcat/cryptoboy/internal/cache"
	"github.com/voidcat/cryptoboy/internal/config"
	"github.com/voidcat/cryptoboy/internal/schema"
	"github.com/voidcat/cryptoboy/internal/strategy"
)

func newTradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trade",
		Short: "Join candles with cached sentiment and emit entry/exit decisions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, srv := bootstrap("strategy")
			defer shutdown(srv)

			pipeline, err := config.LoadPipelineConfig()
			if err != nil {
				fatal(err, "pipeline config invalid")
			}

			ctx, cancel := serviceContext()
			defer cancel()

			store, err := cache.New(ctx, cache.Options{Addr: settings.CacheAddr()})
			if err != nil {
				fatal(err, "cache unreachable")
			}
			defer store.Close()

			bus := connectBroker(ctx, settings, "strategy")
			defer bus.Close()

			if settings.DryRun {
				log.Info().Msg("dry run: decisions are logged, no orders are placed")
			}

			s := strategy.New(store, settings.SentimentStaleness, pipeline.Strategy)
			err = bus.Consume(ctx, schema.QueueRawMarketData, "strategy", 10, s.Handler())
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info().Msg("strategy exited cleanly")
			return nil
		},
	}
}
