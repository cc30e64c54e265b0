package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voidcat/cryptoboy/internal/archive"
	"github.com/voidcat/cryptoboy/internal/cache"
	"github.com/voidcat/cryptoboy/internal/schema"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depths, cached signals and archive counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, srv := bootstrap("status")
			defer shutdown(srv)

			ctx, cancel := serviceContext()
			defer cancel()

			bus := connectBroker(ctx, settings, "status")
			defer bus.Close()

			for _, queue := range []string{
				schema.QueueRawNews,
				schema.QueueRawMarketData,
				schema.QueueSentimentSignals,
			} {
				depth, err := bus.QueueDepth(queue)
				if err != nil {
					fmt.Printf("%-28s unavailable (%v)\n", queue, err)
					continue
				}
				fmt.Printf("%-28s %d messages\n", queue, depth)
			}

			store, err := cache.New(ctx, cache.Options{Addr: settings.CacheAddr(), MaxRetries: 1})
			if err != nil {
				fmt.Printf("cache: unreachable (%v)\n", err)
				return nil
			}
			defer store.Close()

			keys, err := store.Keys(ctx, cache.SignalKeyPrefix+"*")
			if err != nil {
				return err
			}
			fmt.Printf("\ncached signals: %d\n", len(keys))
			for _, key := range keys {
				fields, err := store.HGetAll(ctx, key)
				if err != nil {
					continue
				}
				fmt.Printf("  %-24s score=%s label=%s at=%s\n",
					key, fields["score"], fields["label"], fields["timestamp"])
			}

			if settings.ArchiveDSN != "" {
				archiveStore, err := archive.Open(ctx, settings.ArchiveDSN)
				if err != nil {
					fmt.Printf("\narchive: unreachable (%v)\n", err)
					return nil
				}
				defer archiveStore.Close()

				counts, err := archiveStore.CountByPair(ctx)
				if err != nil {
					return err
				}
				fmt.Println("\narchived signals:")
				for pair, n := range counts {
					fmt.Printf("  %-12s %d\n", pair, n)
				}
			}
			return nil
		},
	}
}
