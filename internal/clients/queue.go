package clients

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/tradecortex/cortex/config"
)

// EventQueue moves raw market events in and trading commands out over
// Redis lists. Pop blocks for at most the configured timeout so the
// caller's loop stays responsive to shutdown.
type EventQueue struct {
	client     *redis.Client
	inbound    string
	outbound   string
	popTimeout time.Duration
}

func NewEventQueue(cfg config.QueueConfig) *EventQueue {
	return &EventQueue{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		inbound:    cfg.InboundList,
		outbound:   cfg.OutboundList,
		popTimeout: cfg.PopTimeout,
	}
}

// Ping verifies connectivity.
func (q *EventQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "queue ping failed")
	}
	return nil
}

// PopEvent takes the next raw event off the inbound list. It returns
// (nil, nil) when the wait times out with no event available.
func (q *EventQueue) PopEvent(ctx context.Context) ([]byte, error) {
	res, err := q.client.BLPop(ctx, q.popTimeout, q.inbound).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to pop market event")
	}
	// BLPop returns [key, value]
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// PushCommand publishes a serialized trading command to the outbound list.
func (q *EventQueue) PushCommand(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.outbound, payload).Err(); err != nil {
		return errors.Wrap(err, "failed to push trading command")
	}
	return nil
}

// Close releases the underlying connection pool.
func (q *EventQueue) Close() error {
	return q.client.Close()
}
