// Package consumer owns the event channel connection: connect, reconnect
// with backoff, the desired subscription set and the single ordered inbound
// queue. Wire protocols live behind the Transport interface.
package consumer

import (
	"context"
	"errors"
	"strings"
)

var errConnClosed = errors.New("connection closed")

// Well-known channels.
const (
	ChannelTracking = "tracking"
	ChannelAlerts   = "alerts"

	sessionChannelPrefix = "session:"
)

// SessionChannel returns the filtered channel carrying one session's events.
func SessionChannel(sessionID string) string {
	return sessionChannelPrefix + sessionID
}

// Subscription a channel the client wants to receive, with an optional
// transport-level filter
type Subscription struct {
	Channel string `json:"channel"`
	Filter  string `json:"filter,omitempty"`
}

// Message a raw payload received on a channel
type Message struct {
	Channel string
	Data    []byte
}

// DeliverFunc hands one received message to the client. Transports call it
// from a single goroutine per connection, in receive order; it may block
// until the inbound queue has room.
type DeliverFunc func(Message)

// Transport opens connections to the event source.
type Transport interface {
	Name() string
	Dial(ctx context.Context, credential string, deliver DeliverFunc) (Conn, error)
}

// Conn is one live connection. Done is closed when the connection is lost
// or closed; Err then reports why.
type Conn interface {
	Subscribe(ctx context.Context, sub Subscription) error
	Unsubscribe(ctx context.Context, channel string) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

// topicPath maps a channel name onto a hierarchical path segment:
// "session:abc" becomes "session/abc".
func topicPath(channel string) string {
	return strings.ReplaceAll(channel, ":", "/")
}
