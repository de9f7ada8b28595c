// Package transport defines the chat-transport boundary. The pipeline only
// sees these types; the telegram subpackage is the concrete adapter.
package transport

import (
	"context"

	"relaybot/internal/domain"
)

// Content is the rendered payload for a single delivery leg.
type Content struct {
	Text string
	// Footer is appended below the text, separated by a blank line.
	Footer string
}

// Rendered returns the final outbound text.
func (c Content) Rendered() string {
	if c.Footer == "" {
		return c.Text
	}
	return c.Text + "\n\n" + c.Footer
}

// UserMessage is a direct message from a user, carrying the owner-facing
// configuration surface. The relay core only rate-limits and tracks these;
// wording lives in the admin glue.
type UserMessage struct {
	UserID int64
	ChatID int64
	Text   string
}

// Sender delivers rendered content to one subchannel. Errors should be
// classified for the retry wrapper: permanent rejections via
// retry.Permanent, throttling via retry.RetryAfter.
type Sender interface {
	Send(ctx context.Context, subchannelID int64, content Content) error
}

// Receiver streams inbound channel posts. Delivery is at-least-once:
// duplicates are possible and handled by the pipeline's dedup stage.
type Receiver interface {
	Start(ctx context.Context, out chan<- domain.ChannelPost) error
	Stop(ctx context.Context) error
}

// Transport is both ends of the chat boundary.
type Transport interface {
	Sender
	Receiver
}
