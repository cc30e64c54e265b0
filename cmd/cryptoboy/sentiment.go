package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voidcat/cryptoboy/internal/config"
	"github.com/voidcat/cryptoboy/internal/schema"
	"github.com/voidcat/cryptoboy/internal/sentiment"
)

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Score news sentiment and fan signals out per pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, srv := bootstrap("sentiment-processor")
			defer shutdown(srv)

			pipeline, err := config.LoadPipelineConfig()
			if err != nil {
				fatal(err, "pipeline config invalid")
			}
			if !schema.AllowedModels[settings.OracleModel] {
				log.Error().Str("model", settings.OracleModel).Msg("ORACLE_MODEL is not whitelisted")
				return errors.New("invalid oracle model")
			}

			ctx, cancel := serviceContext()
			defer cancel()

			bus := connectBroker(ctx, settings, "sentiment-processor")
			defer bus.Close()

			matcher := sentiment.NewPairMatcher(settings.Pairs, pipeline.PairKeywords, settings.FanoutAllOnGeneral)
			oracle := sentiment.NewHTTPOracle(settings.OracleURL, settings.OracleModel)
			processor := sentiment.NewProcessor(bus, oracle, matcher)

			// Prefetch 1: inference dominates the latency, so there is no
			// point holding a backlog of unacked articles.
			err = bus.Consume(ctx, schema.QueueRawNews, "sentiment-processor", 1, processor.Handler())
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info().Msg("sentiment processor exited cleanly")
			return nil
		},
	}
}
