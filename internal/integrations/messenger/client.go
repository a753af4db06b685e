package messenger

import "context"

// Client delivers a text message to a phone number. Implementations must be
// safe for concurrent use: the outbox worker sends in parallel.
type Client interface {
	Send(ctx context.Context, phone, body string) error
}
