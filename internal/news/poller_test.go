package news

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidcat/cryptoboy/internal/schema"
)

type recordingBus struct {
	published []*schema.RawNewsMessage
	err       error
}

func (b *recordingBus) Publish(_ context.Context, queue string, v any) error {
	if b.err != nil {
		return b.err
	}
	if queue != schema.QueueRawNews {
		panic("unexpected queue " + queue)
	}
	b.published = append(b.published, v.(*schema.RawNewsMessage))
	return nil
}

func feedItem(title, link string) *gofeed.Item {
	ts := time.Date(2025, 11, 20, 8, 0, 0, 0, time.UTC)
	return &gofeed.Item{
		Title:           title,
		Link:            link,
		Description:     "Bitcoin extended its rally overnight on institutional inflows into spot products.",
		PublishedParsed: &ts,
	}
}

func TestArticleID_StableAndDistinct(t *testing.T) {
	a := ArticleID("Bitcoin surges", "https://coindesk.com/a")
	assert.Equal(t, a, ArticleID("Bitcoin surges", "https://coindesk.com/a"))
	assert.NotEqual(t, a, ArticleID("Bitcoin surges", "https://coindesk.com/b"))
	assert.NotEqual(t, a, ArticleID("Bitcoin dips", "https://coindesk.com/a"))
	assert.Len(t, a, 32)
}

func TestRelevant(t *testing.T) {
	assert.True(t, Relevant("Bitcoin hits new high"))
	assert.True(t, Relevant("DeFi protocol launches on Solana"))
	assert.False(t, Relevant("Quarterly earnings beat expectations"))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "Bitcoin up 5% today",
		StripHTML(`<p>Bitcoin <b>up</b>   5% today</p>`))
	assert.Equal(t, "plain text", StripHTML("plain text"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "abcde", Truncate("abcdefgh", 5))
}

func TestBuildMessage(t *testing.T) {
	item := feedItem("Bitcoin surges past resistance", "https://coindesk.com/markets/btc")
	msg := buildMessage("coindesk", "id1", item)
	require.NotNil(t, msg)
	assert.Equal(t, "coindesk", msg.Source)
	assert.Equal(t, "id1", msg.ArticleID)
	assert.Equal(t, item.Link, msg.URL)
	assert.NoError(t, msg.Validate())

	// Off-topic items are dropped before they reach the queue.
	offTopic := feedItem("New smartphone released", "https://coindesk.com/tech/phone")
	offTopic.Description = "A phone maker announced a device today with a bigger screen."
	assert.Nil(t, buildMessage("coindesk", "id2", offTopic))

	// Items violating the source whitelist never publish.
	foreign := feedItem("Bitcoin surges", "https://evil.example/btc")
	assert.Nil(t, buildMessage("coindesk", "id3", foreign))
}

func TestPoller_DedupAndPublishOrdering(t *testing.T) {
	bus := &recordingBus{}
	p := NewPoller(bus, nil, time.Minute)

	item := feedItem("Bitcoin surges past resistance", "https://coindesk.com/markets/btc")
	id := ArticleID(item.Title, item.Link)

	msg := buildMessage("coindesk", id, item)
	require.NotNil(t, msg)
	require.NoError(t, bus.Publish(context.Background(), schema.QueueRawNews, msg))
	p.markSeen(id)

	_, dup := p.seen[id]
	assert.True(t, dup)
	assert.Len(t, bus.published, 1)
}

func TestPoller_SeenSetIsBounded(t *testing.T) {
	p := NewPoller(&recordingBus{}, nil, time.Minute)
	for i := 0; i < seenHighWater+1; i++ {
		p.markSeen(fmt.Sprintf("article-%d", i))
	}
	assert.Equal(t, seenLowWater, len(p.seen))
	assert.Equal(t, seenLowWater, len(p.seenOrder))

	// The oldest entries were pruned, the newest kept.
	_, oldest := p.seen["article-0"]
	assert.False(t, oldest)
	_, newest := p.seen[fmt.Sprintf("article-%d", seenHighWater)]
	assert.True(t, newest)
}

func TestPoller_UnpublishedItemsStayUnseen(t *testing.T) {
	bus := &recordingBus{err: fmt.Errorf("broker down")}
	p := NewPoller(bus, nil, time.Minute)

	item := feedItem("Bitcoin surges past resistance", "https://coindesk.com/markets/btc")
	id := ArticleID(item.Title, item.Link)
	msg := buildMessage("coindesk", id, item)
	require.NotNil(t, msg)

	err := bus.Publish(context.Background(), schema.QueueRawNews, msg)
	require.Error(t, err)
	// markSeen was not called on failure, so the next cycle retries.
	_, dup := p.seen[id]
	assert.False(t, dup)
}
