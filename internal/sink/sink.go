// Package sink delivers finalized daily sessions to an external consumer.
// Delivery is confirm-then-clear: the caller only resets its local session
// after Save returns nil.
package sink

import (
	"context"

	"codeberg.org/mutker/treadlink/internal/errors"
	"codeberg.org/mutker/treadlink/internal/session"
)

type Sink interface {
	Save(ctx context.Context, s *session.DailySession) error
	Close()
}

// New builds the sink named by kind: "none", "http" or "mqtt".
func New(kind, url, broker, topic string) (Sink, error) {
	switch kind {
	case "", "none":
		return Noop{}, nil
	case "http":
		return NewWebhook(url), nil
	case "mqtt":
		return NewMQTT(broker, topic)
	default:
		return nil, errors.New().WithData(ErrSinkConfig, kind)
	}
}

// Noop discards sessions. Used when no external consumer is configured;
// saving still validates and resets locally.
type Noop struct{}

func (Noop) Save(_ context.Context, _ *session.DailySession) error { return nil }

func (Noop) Close() {}
