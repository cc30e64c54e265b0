package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voidcat/cryptoboy/internal/market"
)

func newStreamMarketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stream-market",
		Short: "Stream exchange candles onto raw_market_data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, srv := bootstrap("market-streamer")
			defer shutdown(srv)

			ctx, cancel := serviceContext()
			defer cancel()

			bus := connectBroker(ctx, settings, "market-streamer")

			exchange := market.NewBinanceExchange(settings.ExchangeWSURL)
			streamer := market.NewStreamer(bus, exchange, settings.Pairs, settings.CandleTimeframe)

			err := streamer.Run(ctx)

			// Streams close before the broker so no candle is read that
			// can no longer be published.
			bus.Close()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info().Msg("market streamer exited cleanly")
			return nil
		},
	}
}
