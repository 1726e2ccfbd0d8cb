package stream

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kapella-hub/ngs/pkg/logger"
)

// RedisStream wraps one redis client with consumer-group stream
// semantics. All pipeline payloads travel as a single "data" field.
type RedisStream struct {
	client    *redis.Client
	group     string
	readCount int64
	readBlock time.Duration
	log       *logger.Logger
}

func NewRedisStream(client *redis.Client, group string) *RedisStream {
	return &RedisStream{
		client:    client,
		group:     group,
		readCount: 10,
		readBlock: 5 * time.Second,
		log:       logger.WithComponent("stream"),
	}
}

// SetReadOptions overrides the XReadGroup batch size and block timeout.
func (s *RedisStream) SetReadOptions(count int, block time.Duration) {
	if count > 0 {
		s.readCount = int64(count)
	}
	if block > 0 {
		s.readBlock = block
	}
}

// CreateGroup ensures the consumer group exists. Racing creators are
// fine; BUSYGROUP means someone else won.
func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, stream string, payload []byte) (string, error) {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": payload},
	}).Result()
}

// Broadcast sends a fire-and-forget pub/sub message.
func (s *RedisStream) Broadcast(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Consume reads the stream in a blocking loop until the context ends.
// The handler decides acknowledgement: a nil return acks; an error
// leaves the entry pending for redelivery. The handler is expected to
// dead-letter anything it never wants redelivered and then return nil.
func (s *RedisStream) Consume(ctx context.Context, stream, consumer string, handler func(id string, data []byte) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batches, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    s.readCount,
			Block:    s.readBlock,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("stream read failed on %s", stream)
				time.Sleep(time.Second)
			}
			continue
		}

		for _, batch := range batches {
			for _, msg := range batch.Messages {
				data, ok := msg.Values["data"].(string)
				if !ok {
					// Not ours; ack so it does not loop forever.
					s.client.XAck(ctx, batch.Stream, s.group, msg.ID)
					continue
				}
				if err := handler(msg.ID, []byte(data)); err != nil {
					s.log.WithError(err).Warn("handler failed for %s on %s, left pending", msg.ID, stream)
					continue
				}
				s.client.XAck(ctx, batch.Stream, s.group, msg.ID)
			}
		}
	}
}

// Subscribe runs fn for every message on the pub/sub channel until the
// context ends.
func (s *RedisStream) Subscribe(ctx context.Context, channel string, fn func(payload []byte)) {
	sub := s.client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fn([]byte(msg.Payload))
		}
	}
}

// Pending reports the consumer group backlog for one stream.
func (s *RedisStream) Pending(ctx context.Context, stream string) (int64, error) {
	info, err := s.client.XPending(ctx, stream, s.group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}
