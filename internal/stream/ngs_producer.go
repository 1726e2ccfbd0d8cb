package stream

import (
	"context"
)

// Producer adapts RedisStream to the pipeline Publisher port.
type Producer struct {
	stream *RedisStream
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

func (p *Producer) Publish(ctx context.Context, stream string, payload []byte) error {
	_, err := p.stream.Publish(ctx, stream, payload)
	return err
}

func (p *Producer) Broadcast(ctx context.Context, channel string, payload []byte) error {
	return p.stream.Broadcast(ctx, channel, payload)
}
