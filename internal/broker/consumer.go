package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Outcome tells the consume loop what to do with a delivered message.
type Outcome int

const (
	// Ack acknowledges the message; it will not be redelivered.
	Ack Outcome = iota
	// Requeue negatively acknowledges the message for redelivery. Reserved
	// for transient failures that a retry can heal.
	Requeue
	// Quarantine terminates the message without redelivery. Used for poison
	// pills: payloads that can never become processable.
	Quarantine
)

// MsgHandler processes one raw delivery and reports its outcome.
type MsgHandler func(ctx context.Context, data []byte) Outcome

// ErrTransient marks a handler failure as retryable. Handlers wrap cache or
// broker hiccups with it; everything else is treated as a poison pill so the
// queue never loops on a malformed input.
var ErrTransient = errors.New("transient failure")

// Decoder is satisfied by the schema payload types.
type Decoder interface {
	Validate() error
}

// Safe wraps a typed handler with JSON decoding and schema validation.
// Undecodable or invalid payloads are quarantined. Handler errors wrapped in
// ErrTransient requeue; any other handler error quarantines.
func Safe[T Decoder](queue string, alloc func() T, handle func(context.Context, T) error) MsgHandler {
	return func(ctx context.Context, data []byte) Outcome {
		msg := alloc()
		if err := decodeInto(data, msg); err != nil {
			log.Warn().Err(err).Str("queue", queue).Msg("rejecting invalid message")
			return Quarantine
		}
		if err := handle(ctx, msg); err != nil {
			if errors.Is(err, ErrTransient) {
				log.Warn().Err(err).Str("queue", queue).Msg("transient failure, requeueing")
				return Requeue
			}
			log.Error().Err(err).Str("queue", queue).Msg("processing failed, quarantining message")
			return Quarantine
		}
		return Ack
	}
}

func decodeInto(data []byte, v Decoder) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return v.Validate()
}
