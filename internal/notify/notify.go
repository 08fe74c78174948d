// Package notify carries the schedule reload notification between the
// schedule manager and the periodic dispatcher. The message has no payload;
// its only meaning is "the schedule table changed, re-read it". Delivery is
// at-least-once and duplicate reloads are idempotent, so publishers never
// need to coalesce.
package notify

import "context"

// Publisher publishes a reload notification on the well-known topic.
type Publisher interface {
	PublishReload(ctx context.Context) error
}

// Subscriber delivers reload notifications to a handler. Listen blocks until
// the context is cancelled; the handler runs to completion before the message
// is acknowledged.
type Subscriber interface {
	Listen(ctx context.Context, handler func(ctx context.Context)) error
}
