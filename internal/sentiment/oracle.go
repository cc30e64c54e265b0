// Package sentiment turns raw news into per-pair sentiment signals. Scoring
// runs through an oracle cascade: a financial LLM endpoint first, a
// deterministic keyword scorer when that fails, and a neutral default when
// both do. The pipeline never stops on oracle failure.
package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/voidcat/cryptoboy/internal/metrics"
)

// Oracle maps text to a sentiment score in [-1, +1].
type Oracle interface {
	Score(ctx context.Context, text string) (float64, error)
	Name() string
}

const scorePrompt = `You are a cryptocurrency market sentiment analyzer. Analyze the following news text and return ONLY a single number between -1.0 and 1.0 representing the sentiment:

-1.0 = Very bearish (extremely negative for crypto prices)
 0.0 = Neutral
 1.0 = Very bullish (extremely positive for crypto prices)

Text: %q

Return only the number, no explanation:`

// HTTPOracle scores text against an LLM inference endpoint speaking the
// Ollama generate protocol. A circuit breaker stops hammering a dead
// endpoint; while open, every call fails fast into the cascade's next stage.
type HTTPOracle struct {
	endpoint string
	model    string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// NewHTTPOracle builds the primary oracle for the given endpoint and model.
func NewHTTPOracle(endpoint, model string) *HTTPOracle {
	return &HTTPOracle{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "sentiment-oracle",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("oracle circuit breaker state changed")
			},
		}),
	}
}

// Name is the model identifier stamped onto signals scored by this oracle.
func (o *HTTPOracle) Name() string { return o.model }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Score runs one inference and parses the returned number, clamped to
// [-1, +1].
func (o *HTTPOracle) Score(ctx context.Context, text string) (float64, error) {
	start := time.Now()
	result, err := o.breaker.Execute(func() (any, error) {
		return o.infer(ctx, text)
	})
	metrics.OracleLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("oracle %s: %w", o.model, err)
	}
	return result.(float64), nil
}

func (o *HTTPOracle) infer(ctx context.Context, text string) (float64, error) {
	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: fmt.Sprintf(scorePrompt, text),
		Stream: false,
		Options: map[string]any{
			"temperature": 0.3,
			"num_predict": 10,
		},
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}

	score, err := ParseScore(parsed.Response)
	if err != nil {
		return 0, err
	}
	return score, nil
}

// ParseScore extracts the first numeric token from an oracle response,
// tolerating common prefixes, and clamps it to [-1, +1].
func ParseScore(response string) (float64, error) {
	text := strings.TrimSpace(response)
	for _, prefix := range []string{"score:", "sentiment:", "answer:"} {
		if strings.HasPrefix(strings.ToLower(text), prefix) {
			text = strings.TrimSpace(text[len(prefix):])
		}
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty oracle response")
	}
	score, err := strconv.ParseFloat(strings.TrimRight(fields[0], "."), 64)
	if err != nil || math.IsNaN(score) {
		return 0, fmt.Errorf("unparseable oracle response %q", response)
	}
	return Clamp(score), nil
}

// Clamp restricts a score to [-1, +1].
func Clamp(score float64) float64 {
	return math.Max(-1.0, math.Min(1.0, score))
}
