package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineConfig holds the tunables that live in a YAML file rather than the
// environment: feed URLs, per-pair keyword lists and strategy parameters.
// Everything has a usable default so the file is optional.
type PipelineConfig struct {
	Feeds map[string]string `yaml:"feeds"`

	// PairKeywords maps a trading pair to the vocabulary that matches news
	// articles to it. Unlisted pairs fall back to their base currency symbol.
	PairKeywords map[string][]string `yaml:"pair_keywords"`

	Strategy StrategyConfig `yaml:"strategy"`
}

// StrategyConfig holds the thresholds of the entry/exit rules.
type StrategyConfig struct {
	SentimentBuyThreshold  float64 `yaml:"sentiment_buy_threshold"`
	SentimentSellThreshold float64 `yaml:"sentiment_sell_threshold"`
	RSILow                 float64 `yaml:"rsi_low"`
	RSIHigh                float64 `yaml:"rsi_high"`
	WarmupCandles          int     `yaml:"warmup_candles"`
	JoinToleranceHours     int     `yaml:"join_tolerance_hours"`
}

// DefaultFeeds are polled when the YAML file does not override them.
var DefaultFeeds = map[string]string{
	"coindesk":         "https://www.coindesk.com/arc/outboundfeeds/rss/",
	"cointelegraph":    "https://cointelegraph.com/rss",
	"theblock":         "https://www.theblock.co/rss.xml",
	"decrypt":          "https://decrypt.co/feed",
	"bitcoin_magazine": "https://bitcoinmagazine.com/.rss/full/",
}

// DefaultPairKeywords covers the majors; any other configured pair matches on
// its lowercased base symbol.
var DefaultPairKeywords = map[string][]string{
	"BTC/USDT": {"bitcoin", "btc"},
	"ETH/USDT": {"ethereum", "eth", "ether"},
	"SOL/USDT": {"solana", "sol"},
	"XRP/USDT": {"ripple", "xrp"},
	"ADA/USDT": {"cardano", "ada"},
	"BNB/USDT": {"binance coin", "bnb"},
}

// DefaultPipelineConfig returns the built-in tunables.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Feeds:        DefaultFeeds,
		PairKeywords: DefaultPairKeywords,
		Strategy: StrategyConfig{
			SentimentBuyThreshold:  0.3,
			SentimentSellThreshold: -0.3,
			RSILow:                 30,
			RSIHigh:                70,
			WarmupCandles:          50,
			JoinToleranceHours:     6,
		},
	}
}

// LoadPipelineConfig reads the YAML file named by CRYPTOBOY_CONFIG, merging it
// over the defaults. A missing variable or file yields the defaults.
func LoadPipelineConfig() (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()

	path := os.Getenv("CRYPTOBOY_CONFIG")
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var file PipelineConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if len(file.Feeds) > 0 {
		cfg.Feeds = file.Feeds
	}
	for pair, kws := range file.PairKeywords {
		cfg.PairKeywords[pair] = kws
	}
	if file.Strategy.SentimentBuyThreshold != 0 {
		cfg.Strategy.SentimentBuyThreshold = file.Strategy.SentimentBuyThreshold
	}
	if file.Strategy.SentimentSellThreshold != 0 {
		cfg.Strategy.SentimentSellThreshold = file.Strategy.SentimentSellThreshold
	}
	if file.Strategy.RSILow != 0 {
		cfg.Strategy.RSILow = file.Strategy.RSILow
	}
	if file.Strategy.RSIHigh != 0 {
		cfg.Strategy.RSIHigh = file.Strategy.RSIHigh
	}
	if file.Strategy.WarmupCandles != 0 {
		cfg.Strategy.WarmupCandles = file.Strategy.WarmupCandles
	}
	if file.Strategy.JoinToleranceHours != 0 {
		cfg.Strategy.JoinToleranceHours = file.Strategy.JoinToleranceHours
	}
	return cfg, nil
}
