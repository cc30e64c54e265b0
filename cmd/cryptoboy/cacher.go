package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voidcat/cryptoboy/internal/archive"
	"github.com/voidcat/cryptoboy/internal/cache"
	"github.com/voidcat/cryptoboy/internal/cacher"
	"github.com/voidcat/cryptoboy/internal/schema"
)

func newCacheSignalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cache-signals",
		Short: "Materialize sentiment signals into the cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, srv := bootstrap("signal-cacher")
			defer shutdown(srv)

			ctx, cancel := serviceContext()
			defer cancel()

			// The cache is load-bearing here: if it cannot be reached the
			// service must not consume, or signals would be acked and lost.
			store, err := cache.New(ctx, cache.Options{Addr: settings.CacheAddr()})
			if err != nil {
				fatal(err, "cache unreachable")
			}
			defer store.Close()

			var archiver cacher.Archiver
			if settings.ArchiveDSN != "" {
				archiveStore, err := archive.Open(ctx, settings.ArchiveDSN)
				if err != nil {
					log.Warn().Err(err).Msg("signal archive unavailable, continuing without it")
				} else {
					defer archiveStore.Close()
					archiver = archiveStore
				}
			}

			bus := connectBroker(ctx, settings, "signal-cacher")
			defer bus.Close()

			c := cacher.New(store, archiver, settings.SignalCacheTTL)
			err = bus.Consume(ctx, schema.QueueSentimentSignals, "signal-cacher", 10, c.Handler())
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info().Msg("signal cacher exited cleanly")
			return nil
		},
	}
}
