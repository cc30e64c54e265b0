// Package broker is the pipeline's message-queue client. Streams are durable,
// publishes are persisted, and consumers ack explicitly so a crashed service
// never loses an in-flight message.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/voidcat/cryptoboy/internal/metrics"
)

// Header names stamped on every published message.
const (
	HeaderMsgID       = "Cryptoboy-Msg-Id"
	HeaderPublishedAt = "Cryptoboy-Published-At"
)

// Options configures the broker connection.
type Options struct {
	URL        string
	Name       string
	MaxRetries int
	RetryDelay time.Duration
}

// StreamOpts bounds a durable stream. Zero values mean unbounded.
type StreamOpts struct {
	// MaxMsgs caps the stream length; the oldest surplus is discarded so
	// producers are never blocked by a slow consumer.
	MaxMsgs int64
	// MaxAge expires messages after the given duration.
	MaxAge time.Duration
}

// Client owns one connection and one JetStream context per process.
type Client struct {
	nc   *nats.Conn
	js   nats.JetStreamContext
	opts Options

	mu      sync.Mutex
	streams map[string]bool
	subs    []*nats.Subscription
}

// Connect dials the broker with bounded linear-backoff retries (default 5
// attempts, 5s apart) and a heartbeat ping.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 5 * time.Second
	}

	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.PingInterval(2 * time.Minute),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			metrics.BrokerConnected.Set(0)
			log.Warn().Err(err).Msg("broker disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			metrics.BrokerConnected.Set(1)
			log.Info().Str("url", nc.ConnectedUrl()).Msg("broker reconnected")
		}),
	}

	var nc *nats.Conn
	var err error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		nc, err = nats.Connect(opts.URL, natsOpts...)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("max", opts.MaxRetries).Msg("broker connection failed")
		if attempt < opts.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("broker: could not connect after %d attempts: %w", opts.MaxRetries, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("broker: jetstream context: %w", err)
	}

	metrics.BrokerConnected.Set(1)
	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to broker")
	return &Client{nc: nc, js: js, opts: opts, streams: make(map[string]bool)}, nil
}

// StreamName derives the stream identifier for a queue. JetStream stream
// names may not contain dots or spaces; queue names here are snake_case
// already, uppercased for visibility in broker tooling.
func StreamName(queue string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", " ", "_").Replace(queue))
}

// EnsureStream idempotently declares the durable stream backing a queue.
// File storage survives broker restarts; DiscardOld keeps bounded queues
// dropping the oldest surplus.
func (c *Client) EnsureStream(queue string, opts StreamOpts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streams[queue] {
		return nil
	}

	cfg := &nats.StreamConfig{
		Name:     StreamName(queue),
		Subjects: []string{queue},
		Storage:  nats.FileStorage,
		Discard:  nats.DiscardOld,
		MaxMsgs:  opts.MaxMsgs,
		MaxAge:   opts.MaxAge,
	}

	if _, err := c.js.AddStream(cfg); err != nil {
		if _, uerr := c.js.UpdateStream(cfg); uerr != nil {
			return fmt.Errorf("broker: declare stream %s: %w", queue, err)
		}
	}

	c.streams[queue] = true
	log.Info().Str("queue", queue).Msg("queue declared")
	return nil
}

// current snapshots the connection and JetStream context under the lock.
// Callers hold the snapshot for the duration of one operation so a
// concurrent reconnect never swaps the pair out from under them.
func (c *Client) current() (*nats.Conn, nats.JetStreamContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc, c.js
}

// ensureConnection reopens the connection if it was closed. Invoked before
// every publish and consumer setup. The redial runs under the lock so
// concurrent callers after an outage share one fresh connection instead of
// each dialing their own.
func (c *Client) ensureConnection(ctx context.Context) error {
	nc, _ := c.current()
	if nc != nil && nc.IsConnected() {
		return nil
	}
	if nc != nil && !nc.IsClosed() {
		// The library is reconnecting on its own; wait briefly.
		deadline := time.Now().Add(c.opts.RetryDelay)
		for time.Now().Before(deadline) {
			if nc.IsConnected() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have already reconnected while we waited.
	if c.nc != nil && c.nc.IsConnected() {
		return nil
	}
	log.Info().Msg("broker connection closed, reconnecting")
	fresh, err := Connect(ctx, c.opts)
	if err != nil {
		return err
	}
	if c.nc != nil && !c.nc.IsClosed() {
		c.nc.Close()
	}
	c.nc, c.js = fresh.nc, fresh.js
	c.streams = make(map[string]bool)
	return nil
}

// Publish JSON-serializes v and writes it to the queue's stream. The write is
// persisted before the call returns. The target stream is declared lazily.
func (c *Client) Publish(ctx context.Context, queue string, v any) error {
	if err := c.ensureConnection(ctx); err != nil {
		return err
	}
	if err := c.EnsureStream(queue, StreamOpts{}); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broker: marshal for %s: %w", queue, err)
	}

	msg := nats.NewMsg(queue)
	msg.Data = data
	msg.Header.Set(HeaderMsgID, uuid.NewString())
	msg.Header.Set(HeaderPublishedAt, time.Now().UTC().Format(time.RFC3339Nano))

	_, js := c.current()
	if _, err := js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("broker: publish to %s: %w", queue, err)
	}
	metrics.MessagesPublished.WithLabelValues(queue).Inc()
	log.Debug().Str("queue", queue).Int("bytes", len(data)).Msg("published message")
	return nil
}

// Consume attaches a durable consumer to a queue. prefetch bounds the number
// of unacknowledged deliveries in flight; acks are always explicit. The
// handler's outcome decides between ack, redelivery and quarantine. Blocks
// until ctx is cancelled.
func (c *Client) Consume(ctx context.Context, queue, durable string, prefetch int, handler MsgHandler) error {
	if err := c.ensureConnection(ctx); err != nil {
		return err
	}
	if err := c.EnsureStream(queue, StreamOpts{}); err != nil {
		return err
	}
	if prefetch <= 0 {
		prefetch = 1
	}

	_, js := c.current()
	sub, err := js.Subscribe(queue, func(m *nats.Msg) {
		outcome := handler(ctx, m.Data)
		switch outcome {
		case Ack:
			if err := m.Ack(); err != nil {
				log.Warn().Err(err).Str("queue", queue).Msg("ack failed")
			}
			metrics.MessagesConsumed.WithLabelValues(queue, "ok").Inc()
		case Requeue:
			if err := m.Nak(); err != nil {
				log.Warn().Err(err).Str("queue", queue).Msg("nak failed")
			}
			metrics.MessagesConsumed.WithLabelValues(queue, "requeued").Inc()
		case Quarantine:
			if err := m.Term(); err != nil {
				log.Warn().Err(err).Str("queue", queue).Msg("term failed")
			}
			metrics.MessagesConsumed.WithLabelValues(queue, "quarantined").Inc()
		}
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxAckPending(prefetch),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", queue, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	log.Info().Str("queue", queue).Str("durable", durable).Int("prefetch", prefetch).Msg("consuming")
	<-ctx.Done()
	return nil
}

// QueueDepth reports the number of messages currently in a queue's stream.
func (c *Client) QueueDepth(queue string) (uint64, error) {
	_, js := c.current()
	info, err := js.StreamInfo(StreamName(queue))
	if err != nil {
		return 0, fmt.Errorf("broker: stream info %s: %w", queue, err)
	}
	return info.State.Msgs, nil
}

// Close drains active subscriptions so in-flight callbacks finish and acks
// are delivered, then closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Err(err).Msg("subscription drain failed")
		}
	}
	nc, _ := c.current()
	if nc != nil {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	metrics.BrokerConnected.Set(0)
	log.Info().Msg("broker connection closed")
}
