package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetJSON_NoTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewFromClient(db)

	mock.ExpectSet("k", []byte(`{"a":1}`), 0).SetVal("OK")
	require.NoError(t, c.SetJSON(context.Background(), "k", map[string]int{"a": 1}, 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetJSON_WithTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewFromClient(db)

	mock.ExpectSet("k", []byte(`"v"`), time.Minute).SetVal("OK")
	require.NoError(t, c.SetJSON(context.Background(), "k", "v", time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJSON_MissAndHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewFromClient(db)

	mock.ExpectGet("missing").RedisNil()
	var out map[string]int
	found, err := c.GetJSON(context.Background(), "missing", &out)
	require.NoError(t, err)
	assert.False(t, found)

	mock.ExpectGet("hit").SetVal(`{"a":2}`)
	found, err = c.GetJSON(context.Background(), "hit", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, out["a"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHSetJSON_CoercesFields(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewFromClient(db)

	// Fields arrive sorted by name, coerced to strings.
	mock.ExpectHSet("sentiment:BTC/USDT",
		"fallback", "false",
		"label", "very_bullish",
		"score", "0.8",
		"tags", `["a","b"]`,
	).SetVal(4)

	err := c.HSetJSON(context.Background(), "sentiment:BTC/USDT", map[string]any{
		"score":    0.8,
		"label":    "very_bullish",
		"fallback": false,
		"tags":     []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLPushTrim_BoundsHistory(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewFromClient(db)

	mock.ExpectLPush("sentiment_history:BTC/USDT", "entry").SetVal(101)
	mock.ExpectLTrim("sentiment_history:BTC/USDT", 0, HistoryLimit-1).SetVal("OK")

	require.NoError(t, c.LPushTrim(context.Background(), "sentiment_history:BTC/USDT", "entry", HistoryLimit))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpire_ZeroIsNoop(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewFromClient(db)

	require.NoError(t, c.Expire(context.Background(), "k", 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "sentiment:BTC/USDT", SignalKey("BTC/USDT"))
	assert.Equal(t, "sentiment_history:BTC/USDT", HistoryKey("BTC/USDT"))
	assert.Equal(t, "strategy_state:BTC/USDT", StateKey("BTC/USDT"))
}
