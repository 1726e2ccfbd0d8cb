package stream

import (
	"context"

	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// Dispatcher is the worker-side entry point the consumer feeds.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobType string, payload []byte) error
}

// jobTypeByStream maps pipeline streams to dispatcher job types.
var jobTypeByStream = map[string]string{
	out.StreamParse:     "email.parse",
	out.StreamCorrelate: "event.correlate",
}

// Consumer pumps the pipeline streams into the dispatcher and relays
// maintenance-window invalidation broadcasts.
type Consumer struct {
	stream       *RedisStream
	dispatcher   Dispatcher
	name         string
	onInvalidate func()
	log          *logger.Logger
}

func NewConsumer(stream *RedisStream, dispatcher Dispatcher, name string, onInvalidate func()) *Consumer {
	return &Consumer{
		stream:       stream,
		dispatcher:   dispatcher,
		name:         name,
		onInvalidate: onInvalidate,
		log:          logger.WithComponent("consumer"),
	}
}

// Start launches one goroutine per stream plus the invalidation
// subscriber. They all stop with the context.
func (c *Consumer) Start(ctx context.Context) {
	for stream, jobType := range jobTypeByStream {
		if err := c.stream.CreateGroup(ctx, stream); err != nil {
			c.log.WithError(err).Error("consumer group creation failed for %s", stream)
		}
		go c.consume(ctx, stream, jobType)
	}
	if c.onInvalidate != nil {
		go c.stream.Subscribe(ctx, out.ChannelWindowInvalidate, func([]byte) {
			c.onInvalidate()
		})
	}
}

func (c *Consumer) consume(ctx context.Context, stream, jobType string) {
	c.stream.Consume(ctx, stream, c.name, func(id string, data []byte) error {
		return c.dispatcher.Dispatch(ctx, jobType, data)
	})
}
