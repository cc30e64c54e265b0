package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validNews() *RawNewsMessage {
	return &RawNewsMessage{
		Timestamp: time.Now().UTC(),
		ArticleID: "abc123",
		Source:    "coindesk",
		Title:     "Bitcoin surges to new highs",
		URL:       "https://coindesk.com/markets/bitcoin-surges",
		Content:   "Bitcoin reached a new all-time high today as institutional demand grew.",
		FetchedAt: time.Now().UTC(),
	}
}

func TestRawNewsMessage_Valid(t *testing.T) {
	require.NoError(t, validNews().Validate())
}

func TestRawNewsMessage_SourceDomainAgreement(t *testing.T) {
	m := validNews()
	m.URL = "https://evil.example/x"
	err := m.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "url", verr.Field)
}

func TestRawNewsMessage_UnknownSource(t *testing.T) {
	m := validNews()
	m.Source = "totally-legit-news"
	assert.Error(t, m.Validate())
}

func TestRawNewsMessage_SourceLowercased(t *testing.T) {
	m := validNews()
	m.Source = "CoinDesk"
	require.NoError(t, m.Validate())
	assert.Equal(t, "coindesk", m.Source)
}

func TestRawNewsMessage_SchemeRequired(t *testing.T) {
	m := validNews()
	m.URL = "ftp://coindesk.com/x"
	assert.Error(t, m.Validate())
}

func TestRawNewsMessage_ContentBounds(t *testing.T) {
	m := validNews()
	m.Content = "too short"
	assert.Error(t, m.Validate())
}

func validCandle() *RawMarketDataMessage {
	return &RawMarketDataMessage{
		Timestamp:   time.Now().UTC(),
		TimestampMS: time.Now().UnixMilli(),
		Pair:        "BTC/USDT",
		Timeframe:   "1m",
		Open:        100,
		High:        110,
		Low:         95,
		Close:       105,
		Volume:      1234.5,
	}
}

func TestRawMarketDataMessage_Valid(t *testing.T) {
	require.NoError(t, validCandle().Validate())
}

func TestRawMarketDataMessage_OHLCInvariants(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*RawMarketDataMessage)
		wantErr bool
	}{
		{"high below open", func(m *RawMarketDataMessage) { m.Open = 100; m.High = 90; m.Low = 80; m.Close = 85 }, true},
		{"high below close", func(m *RawMarketDataMessage) { m.Close = 120 }, true},
		{"low above close", func(m *RawMarketDataMessage) { m.Low = 106 }, true},
		{"negative volume", func(m *RawMarketDataMessage) { m.Volume = -1 }, true},
		{"flat candle", func(m *RawMarketDataMessage) { m.Open = 100; m.High = 100; m.Low = 100; m.Close = 100 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validCandle()
			tc.mutate(m)
			err := m.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRawMarketDataMessage_SanityBounds(t *testing.T) {
	m := validCandle()
	m.Open, m.High, m.Low, m.Close = 2e6, 2e6, 2e6, 2e6
	assert.Error(t, m.Validate())

	m = validCandle()
	m.Low = 1e-9
	assert.Error(t, m.Validate())
}

func TestRawMarketDataMessage_PairPattern(t *testing.T) {
	for pair, ok := range map[string]bool{
		"BTC/USDT":  true,
		"ETH/USD":   true,
		"btc/usdt":  false,
		"BTCUSDT":   false,
		"BT/USDT":   false,
		"BTCXZY/US": false,
		"":          false,
	} {
		m := validCandle()
		m.Pair = pair
		if ok {
			assert.NoError(t, m.Validate(), pair)
		} else {
			assert.Error(t, m.Validate(), pair)
		}
	}
}

func validSignal() *SentimentSignalMessage {
	return &SentimentSignalMessage{
		Timestamp:  time.Now().UTC(),
		ArticleID:  "abc123",
		Pair:       "BTC/USDT",
		Score:      0.8,
		Label:      "very_bullish",
		Headline:   "Bitcoin surges to new highs",
		Source:     "coindesk",
		Model:      "finbert",
		AnalyzedAt: time.Now().UTC(),
	}
}

func TestSentimentSignalMessage_Valid(t *testing.T) {
	require.NoError(t, validSignal().Validate())
}

func TestSentimentSignalMessage_ScoreRange(t *testing.T) {
	m := validSignal()
	m.Score = 1.5
	assert.Error(t, m.Validate())
	m.Score = -1.0
	assert.NoError(t, m.Validate())
}

func TestSentimentSignalMessage_ModelWhitelist(t *testing.T) {
	m := validSignal()
	m.Model = "gpt-17-turbo"
	assert.Error(t, m.Validate())

	m = validSignal()
	m.Model = ModelFallbackKeywords
	assert.NoError(t, m.Validate())
}

func TestSentimentSignalMessage_ConfidenceBounds(t *testing.T) {
	m := validSignal()
	c := 1.5
	m.Confidence = &c
	assert.Error(t, m.Validate())
}

func TestDecode_InvalidJSON(t *testing.T) {
	var m RawNewsMessage
	assert.Error(t, Decode([]byte("{not json"), &m))
}

func TestDecode_ValidPayload(t *testing.T) {
	payload := []byte(`{
		"timestamp": "2025-11-20T08:00:00Z",
		"article_id": "deadbeef",
		"source": "coindesk",
		"title": "Bitcoin surges to new highs",
		"url": "https://coindesk.com/x",
		"content": "Bitcoin reached a new all-time high today...",
		"fetched_at": "2025-11-20T08:00:05Z"
	}`)
	var m RawNewsMessage
	require.NoError(t, Decode(payload, &m))
	assert.Equal(t, "coindesk", m.Source)
}

func TestDecode_SchemaViolation(t *testing.T) {
	payload := []byte(`{
		"timestamp": "2025-11-20T08:00:00Z",
		"source": "coindesk",
		"title": "Bitcoin surges",
		"url": "https://evil.example/x",
		"content": "Bitcoin reached a new all-time high today..."
	}`)
	var m RawNewsMessage
	var verr *ValidationError
	assert.ErrorAs(t, Decode(payload, &m), &verr)
}
