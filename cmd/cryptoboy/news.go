package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voidcat/cryptoboy/internal/config"
	"github.com/voidcat/cryptoboy/internal/news"
)

func newPollNewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll-news",
		Short: "Poll RSS feeds and publish articles onto raw_news_data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, srv := bootstrap("news-poller")
			defer shutdown(srv)

			pipeline, err := config.LoadPipelineConfig()
			if err != nil {
				fatal(err, "pipeline config invalid")
			}

			ctx, cancel := serviceContext()
			defer cancel()

			bus := connectBroker(ctx, settings, "news-poller")
			defer bus.Close()

			poller := news.NewPoller(bus, pipeline.Feeds, settings.NewsPollInterval)
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info().Msg("news poller exited cleanly")
			return nil
		},
	}
}
