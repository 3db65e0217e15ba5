// Package upstream holds the connections from the relay to the speech service.
package upstream

import (
	"context"
	"errors"

	"github.com/room4-2/voicerelay/messages"
)

var (
	// ErrClosed is returned when sending on a proxy that has been closed
	ErrClosed = errors.New("upstream proxy is closed")

	// ErrUnsupportedEvent is returned when a proxy cannot express an event type
	ErrUnsupportedEvent = errors.New("event type not supported by upstream")
)

// Proxy is a single upstream connection. It belongs to exactly one session.
type Proxy interface {
	// Send forwards one client event upstream
	Send(ev messages.Event) error
	// Close disconnects from upstream. It is safe to call more than once.
	Close() error
}

// Callbacks receive traffic from upstream. OnEvent is called from a single
// goroutine in arrival order. OnClose is called once when the upstream side
// goes away, with a nil error when the proxy was closed locally.
type Callbacks struct {
	OnEvent func(ev messages.Event)
	OnClose func(err error)
}

// Dialer performs the upstream handshake. Connect returns once the upstream
// accepts events and has started delivering to cb.
type Dialer interface {
	Connect(ctx context.Context, cb Callbacks) (Proxy, error)
}

func (cb Callbacks) event(ev messages.Event) {
	if cb.OnEvent != nil {
		cb.OnEvent(ev)
	}
}

func (cb Callbacks) closed(err error) {
	if cb.OnClose != nil {
		cb.OnClose(err)
	}
}
