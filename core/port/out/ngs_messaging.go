package out

import "context"

// Stream names used between pipeline stages.
const (
	StreamParse     = "ngs:parse"
	StreamCorrelate = "ngs:correlate"
)

// ChannelWindowInvalidate broadcasts maintenance-window cache
// invalidation to all workers.
const ChannelWindowInvalidate = "ngs:windows:invalidate"

// Publisher hands work to the next pipeline stage.
type Publisher interface {
	Publish(ctx context.Context, stream string, payload []byte) error
	// Broadcast sends a fire-and-forget message on a pub/sub channel.
	Broadcast(ctx context.Context, channel string, payload []byte) error
}
