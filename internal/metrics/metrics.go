// Package metrics exposes the pipeline's prometheus instrumentation and the
// per-service health endpoint.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// MessagesPublished counts successful queue publishes per queue.
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoboy_messages_published_total",
		Help: "Messages published to the broker, by queue.",
	}, []string{"queue"})

	// MessagesConsumed counts consumed messages by queue and outcome
	// (ok, requeued, quarantined).
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoboy_messages_consumed_total",
		Help: "Messages consumed from the broker, by queue and outcome.",
	}, []string{"queue", "outcome"})

	// ArticlesPublished counts articles the poller put on the wire, by source.
	ArticlesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoboy_articles_published_total",
		Help: "News articles published, by source.",
	}, []string{"source"})

	// CandlesPublished counts candles the streamer put on the wire, by pair.
	CandlesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoboy_candles_published_total",
		Help: "Market candles published, by pair.",
	}, []string{"pair"})

	// SignalsPublished counts sentiment signals, by pair and model.
	SignalsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoboy_signals_published_total",
		Help: "Sentiment signals published, by pair and model.",
	}, []string{"pair", "model"})

	// OracleFallbacks counts cascade steps taken when the primary oracle fails.
	OracleFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoboy_oracle_fallbacks_total",
		Help: "Oracle cascade fallbacks, by stage (keywords, neutral).",
	}, []string{"stage"})

	// OracleLatency observes primary oracle inference latency.
	OracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cryptoboy_oracle_latency_seconds",
		Help:    "Primary oracle inference latency.",
		Buckets: prometheus.DefBuckets,
	})

	// CacheUpdates counts cache writes, by kind (signal, history, state).
	CacheUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoboy_cache_updates_total",
		Help: "Cache writes, by kind.",
	}, []string{"kind"})

	// Errors counts contained per-message errors, by component.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoboy_errors_total",
		Help: "Contained processing errors, by component.",
	}, []string{"component"})

	// BrokerConnected reports broker connectivity (1 connected, 0 not).
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptoboy_broker_connected",
		Help: "Whether the broker connection is currently established.",
	})
)

// Server serves /metrics and /health for one service process.
type Server struct {
	srv     *http.Server
	service string
	started time.Time
}

// NewServer builds the HTTP server on the given listen address.
func NewServer(service, addr string) *Server {
	s := &Server{service: service, started: time.Now()}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.srv = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Str("addr", s.srv.Addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"service":        s.service,
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}
