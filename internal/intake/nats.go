package intake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Enqueuer accepts inbound events.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev Event) error
}

// Subscriber is the bus capability Listen needs; natsbus.Client implements it.
type Subscriber interface {
	Subscribe(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error)
}

// Listen subscribes to subject and enqueues every JSON event received on it.
// Undecodable or rejected events are logged and dropped.
func Listen(bus Subscriber, subject string, sink Enqueuer, logger *zap.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("intake").With(zap.String("subject", subject))
	sub, err := bus.Subscribe(subject, func(ctx context.Context, data []byte) {
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("drop undecodable event", zap.Error(err), zap.Int("bytes", len(data)))
			return
		}
		if err := sink.Enqueue(ctx, ev); err != nil {
			logger.Warn("drop event", zap.String("owner", ev.Owner), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", subject, err)
	}
	logger.Info("listening for inbound events")
	return sub, nil
}
