// Package config validates service configuration before any network
// connection is opened. Validation is fail-fast: a missing or malformed
// variable stops the process with a non-zero status.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/voidcat/cryptoboy/internal/schema"
)

// VarSpec declares one environment variable: whether it is required, its
// default, and how to validate its value. The table is evaluated in a single
// pass; no reflection involved.
type VarSpec struct {
	Name        string
	Description string
	Default     string
	Required    bool
	Secret      bool
	// WaivedBy names a VAR=value condition under which a required variable
	// becomes optional (e.g. exchange credentials under DRY_RUN=true).
	WaivedBy string
	Validate func(string) error
}

// ConfigError reports a failed validation pass. It is the only error class
// that terminates a service at startup alongside FatalStartupError conditions.
type ConfigError struct {
	Service string
	Issues  []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %d invalid variable(s): %s",
		e.Service, len(e.Issues), strings.Join(e.Issues, "; "))
}

func nonEmpty(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func validPort(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("must be a port number (1-65535)")
	}
	return nil
}

func minLen(n int) func(string) error {
	return func(v string) error {
		if len(v) < n {
			return fmt.Errorf("must be at least %d characters", n)
		}
		return nil
	}
}

func validHTTPURL(v string) error {
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("must be an http(s) URL")
	}
	return nil
}

func positiveInt(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func nonNegativeInt(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

var brokerVars = []VarSpec{
	{Name: "BROKER_HOST", Description: "message broker hostname", Default: "localhost", Validate: nonEmpty},
	{Name: "BROKER_PORT", Description: "message broker port", Default: "4222", Validate: validPort},
	{Name: "BROKER_USER", Description: "message broker username", Required: true, Validate: nonEmpty},
	{Name: "BROKER_PASS", Description: "message broker password", Required: true, Secret: true, Validate: minLen(8)},
}

var cacheVars = []VarSpec{
	{Name: "CACHE_HOST", Description: "cache hostname", Default: "localhost", Validate: nonEmpty},
	{Name: "CACHE_PORT", Description: "cache port", Default: "6379", Validate: validPort},
}

var oracleVars = []VarSpec{
	{Name: "ORACLE_URL", Description: "sentiment oracle endpoint", Default: "http://localhost:11434", Validate: validHTTPURL},
	{Name: "ORACLE_MODEL", Description: "sentiment oracle model name", Default: "finbert", Validate: nonEmpty},
}

var exchangeVars = []VarSpec{
	{Name: "EXCHANGE_API_KEY", Description: "exchange API key", Required: true, Secret: true,
		WaivedBy: "DRY_RUN=true", Validate: minLen(20)},
	{Name: "EXCHANGE_API_SECRET", Description: "exchange API secret", Required: true, Secret: true,
		WaivedBy: "DRY_RUN=true", Validate: minLen(20)},
}

var pipelineVars = []VarSpec{
	{Name: "TRADING_PAIRS", Description: "comma-separated trading pairs", Default: "BTC/USDT,ETH/USDT,BNB/USDT", Validate: nonEmpty},
	{Name: "CANDLE_TIMEFRAME", Description: "candle timeframe", Default: "1m", Validate: nonEmpty},
	{Name: "NEWS_POLL_INTERVAL", Description: "seconds between poll cycles", Default: "300", Validate: positiveInt},
	{Name: "SIGNAL_CACHE_TTL", Description: "cache TTL seconds (0 = no expiry)", Default: "0", Validate: nonNegativeInt},
	{Name: "SENTIMENT_STALE_HOURS", Description: "signal staleness threshold in hours", Default: "4", Validate: positiveInt},
}

// ProfileFor returns the variable table a service must satisfy. Broker
// credentials are required everywhere; the rest depends on what the service
// touches.
func ProfileFor(service string) []VarSpec {
	specs := append([]VarSpec{}, brokerVars...)
	specs = append(specs, pipelineVars...)
	switch service {
	case "signal-cacher":
		specs = append(specs, cacheVars...)
	case "strategy":
		specs = append(specs, cacheVars...)
	case "sentiment-processor":
		specs = append(specs, oracleVars...)
	case "market-streamer":
		specs = append(specs, exchangeVars...)
	}
	return specs
}

func waived(condition string) bool {
	parts := strings.SplitN(condition, "=", 2)
	if len(parts) != 2 {
		return false
	}
	return strings.EqualFold(os.Getenv(strings.TrimSpace(parts[0])), parts[1])
}

// ValidateEnv evaluates a service's profile in one pass. On success every
// variable with a default is materialized into the environment so later
// lookups observe the effective value.
func ValidateEnv(service string) error {
	// Optional .env for local runs; silently absent in containers.
	_ = godotenv.Load()

	var issues []string
	for _, spec := range ProfileFor(service) {
		value, set := os.LookupEnv(spec.Name)

		if !set || value == "" {
			if spec.Required && !(spec.WaivedBy != "" && waived(spec.WaivedBy)) {
				issues = append(issues, fmt.Sprintf("%s: required but not set (%s)", spec.Name, spec.Description))
				continue
			}
			if spec.Default != "" {
				value = spec.Default
				os.Setenv(spec.Name, value)
			} else {
				log.Debug().Str("var", spec.Name).Msg("optional variable not set")
				continue
			}
		}

		if spec.Validate != nil {
			if err := spec.Validate(value); err != nil {
				issues = append(issues, fmt.Sprintf("%s: %v", spec.Name, err))
				continue
			}
		}

		display := value
		if spec.Secret {
			display = "********"
		}
		log.Debug().Str("var", spec.Name).Str("value", display).Msg("config ok")
	}

	if len(issues) > 0 {
		return &ConfigError{Service: service, Issues: issues}
	}
	return nil
}

// Settings is the typed view of the validated environment.
type Settings struct {
	BrokerHost string
	BrokerPort int
	BrokerUser string
	BrokerPass string

	CacheHost string
	CachePort int

	OracleURL   string
	OracleModel string

	Pairs              []string
	CandleTimeframe    string
	NewsPollInterval   time.Duration
	SignalCacheTTL     time.Duration
	SentimentStaleness time.Duration
	FanoutAllOnGeneral bool
	DryRun             bool
	ExchangeAPIKey     string
	ExchangeAPISecret  string
	ExchangeWSURL      string
	ArchiveDSN         string
	MetricsAddr        string
}

// Load validates the environment for a service and builds its Settings.
func Load(service string) (*Settings, error) {
	if err := ValidateEnv(service); err != nil {
		return nil, err
	}

	pairs, err := ParsePairs(os.Getenv("TRADING_PAIRS"))
	if err != nil {
		return nil, &ConfigError{Service: service, Issues: []string{"TRADING_PAIRS: " + err.Error()}}
	}

	brokerPort, _ := strconv.Atoi(os.Getenv("BROKER_PORT"))
	cachePort, _ := strconv.Atoi(envOr("CACHE_PORT", "6379"))
	pollSecs, _ := strconv.Atoi(os.Getenv("NEWS_POLL_INTERVAL"))
	ttlSecs, _ := strconv.Atoi(os.Getenv("SIGNAL_CACHE_TTL"))
	staleHours, _ := strconv.Atoi(os.Getenv("SENTIMENT_STALE_HOURS"))

	return &Settings{
		BrokerHost:         os.Getenv("BROKER_HOST"),
		BrokerPort:         brokerPort,
		BrokerUser:         os.Getenv("BROKER_USER"),
		BrokerPass:         os.Getenv("BROKER_PASS"),
		CacheHost:          envOr("CACHE_HOST", "localhost"),
		CachePort:          cachePort,
		OracleURL:          envOr("ORACLE_URL", "http://localhost:11434"),
		OracleModel:        envOr("ORACLE_MODEL", "finbert"),
		Pairs:              pairs,
		CandleTimeframe:    os.Getenv("CANDLE_TIMEFRAME"),
		NewsPollInterval:   time.Duration(pollSecs) * time.Second,
		SignalCacheTTL:     time.Duration(ttlSecs) * time.Second,
		SentimentStaleness: time.Duration(staleHours) * time.Hour,
		FanoutAllOnGeneral: strings.EqualFold(os.Getenv("SENTIMENT_FANOUT_ALL"), "true"),
		DryRun:             strings.EqualFold(os.Getenv("DRY_RUN"), "true"),
		ExchangeAPIKey:     os.Getenv("EXCHANGE_API_KEY"),
		ExchangeAPISecret:  os.Getenv("EXCHANGE_API_SECRET"),
		ExchangeWSURL:      envOr("EXCHANGE_WS_URL", "wss://stream.binance.com:9443/ws"),
		ArchiveDSN:         os.Getenv("ARCHIVE_DSN"),
		MetricsAddr:        envOr("METRICS_ADDR", ":9100"),
	}, nil
}

// BrokerURL assembles the NATS connection URL with credentials.
func (s *Settings) BrokerURL() string {
	return fmt.Sprintf("nats://%s:%s@%s:%d", s.BrokerUser, url.QueryEscape(s.BrokerPass), s.BrokerHost, s.BrokerPort)
}

// CacheAddr is the host:port of the cache.
func (s *Settings) CacheAddr() string {
	return fmt.Sprintf("%s:%d", s.CacheHost, s.CachePort)
}

// ParsePairs splits a comma-separated pair list, skipping entries that do
// not match the BASE/QUOTE pattern with a warning. An empty result is an
// error: a pipeline with no valid pair must refuse to start.
func ParsePairs(raw string) ([]string, error) {
	var pairs []string
	for _, entry := range strings.Split(raw, ",") {
		p := strings.ToUpper(strings.TrimSpace(entry))
		if p == "" {
			continue
		}
		if !schema.PairPattern.MatchString(p) {
			log.Warn().Str("pair", entry).Msg("skipping invalid trading pair")
			continue
		}
		pairs = append(pairs, p)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no valid trading pairs configured")
	}
	return pairs, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
