package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const bodyField = "body"

// RedisStream is a durable queue on a Redis stream with a consumer group.
// Entries stay in the group's pending list until acked; entries idle longer
// than ClaimIdle are claimed by the next consumer that asks, which gives
// redelivery after a worker dies mid-job. The stream is never trimmed by
// length: an entry is removed only when it is acked.
type RedisStream struct {
	Client       *redis.Client
	Stream       string
	Group        string
	Consumer     string
	BlockTimeout time.Duration
	ClaimIdle    time.Duration
}

func NewRedisStream(client *redis.Client, stream, group, consumer string, claimIdle time.Duration) *RedisStream {
	return &RedisStream{
		Client:       client,
		Stream:       stream,
		Group:        group,
		Consumer:     consumer,
		BlockTimeout: 5 * time.Second,
		ClaimIdle:    claimIdle,
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (q *RedisStream) EnsureGroup(ctx context.Context) error {
	err := q.Client.XGroupCreateMkStream(ctx, q.Stream, q.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", q.Group, err)
	}
	return nil
}

func (q *RedisStream) Publish(ctx context.Context, body []byte) error {
	err := q.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]interface{}{bodyField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", q.Stream, err)
	}
	return nil
}

func (q *RedisStream) Receive(ctx context.Context) (*Delivery, error) {
	if q.ClaimIdle > 0 {
		msgs, _, err := q.Client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.Stream,
			Group:    q.Group,
			Consumer: q.Consumer,
			MinIdle:  q.ClaimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to claim stale messages: %w", err)
		}
		if len(msgs) > 0 {
			return q.delivery(msgs[0]), nil
		}
	}

	streams, err := q.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: q.Consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    q.BlockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from %s: %w", q.Stream, err)
	}

	for _, s := range streams {
		if len(s.Messages) > 0 {
			return q.delivery(s.Messages[0]), nil
		}
	}
	return nil, nil
}

func (q *RedisStream) delivery(msg redis.XMessage) *Delivery {
	var body []byte
	switch v := msg.Values[bodyField].(type) {
	case string:
		body = []byte(v)
	case []byte:
		body = v
	}
	id := msg.ID
	return NewDelivery(id, body, func(ctx context.Context) error {
		_, err := q.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.XAck(ctx, q.Stream, q.Group, id)
			pipe.XDel(ctx, q.Stream, id)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to ack %s: %w", id, err)
		}
		return nil
	})
}

// Pending returns the number of delivered but unacknowledged entries.
func (q *RedisStream) Pending(ctx context.Context) (int64, error) {
	p, err := q.Client.XPending(ctx, q.Stream, q.Group).Result()
	if err != nil {
		return 0, err
	}
	return p.Count, nil
}
