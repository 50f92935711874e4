package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/autopeer-io/podstate/internal/pkg/metrics"
	"github.com/autopeer-io/podstate/internal/podstate/core"
)

// HandlerFunc handles one raw message.
type HandlerFunc func(ctx context.Context, topic string, payload []byte) error

// Validatable is a decoded payload that can check itself.
type Validatable interface {
	Validate() error
}

// TypedHandlerFunc handles a decoded, validated payload.
type TypedHandlerFunc[T any] func(ctx context.Context, msg T) error

// JSONAdapter decodes the payload into T and validates it before calling
// handler. Undecodable or invalid payloads yield a *core.DecodeError naming
// the topic.
func JSONAdapter[T any, P interface {
	*T
	Validatable
}](handler TypedHandlerFunc[T]) HandlerFunc {
	return func(ctx context.Context, topic string, payload []byte) error {
		var msg T
		if err := json.Unmarshal(payload, &msg); err != nil {
			metrics.DecodeErrorsTotal.WithLabelValues("mqtt").Inc()
			return &core.DecodeError{Source: topic, Err: fmt.Errorf("json unmarshal failed: %w", err)}
		}
		if err := P(&msg).Validate(); err != nil {
			metrics.DecodeErrorsTotal.WithLabelValues("mqtt").Inc()
			return &core.DecodeError{Source: topic, Err: err}
		}
		return handler(ctx, msg)
	}
}
