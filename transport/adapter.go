package transport

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrTransportClosed is returned when you try to send on a closed transport.
// Named errors like this let callers check the exact cause with errors.Is()
// instead of comparing raw strings.
var ErrTransportClosed = errors.New("transport closed")

// ErrConnectionFailed wraps any failure to open a transport. It surfaces
// on join and reconnect.
var ErrConnectionFailed = errors.New("connection failed")

// ErrConnectionLost is the rejection every in-flight request gets when
// the transport closes without the client asking it to.
var ErrConnectionLost = errors.New("connection lost")

// Message is what flows through a transport: one raw frame. The transport
// doesn't interpret it; the envelope codec does.
type Message struct {
	Payload    []byte
	ReceivedAt time.Time // zero on outbound messages
}

// DisconnectReason tells the client why a transport closed.
// It decides whether the reconnection controller kicks in.
type DisconnectReason int

const (
	ReasonUnknown      DisconnectReason = iota // catch-all, should be rare
	ReasonNetworkError                         // underlying connection failed
	ReasonTimeout                              // no activity within deadline
	ReasonClosedClean                          // graceful shutdown by either side
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNetworkError:
		return "network error"
	case ReasonTimeout:
		return "timeout"
	case ReasonClosedClean:
		return "closed"
	default:
		return "unknown"
	}
}

// DisconnectEvent is sent on the channel returned by Disconnected().
// It bundles the reason with an optional error for debugging.
type DisconnectEvent struct {
	Reason DisconnectReason
	Err    error // nil on clean close, populated on errors
}

// Adapter is the contract every transport must satisfy.
// The client only ever talks to this interface; it never imports
// websocket, tcp, or anything concrete.
type Adapter interface {
	// Send delivers one frame to the remote side.
	// Returns ErrTransportClosed if the transport is no longer active.
	Send(msg Message) error

	// Receive returns a channel that emits incoming frames in the order
	// they arrived. The channel is closed when the transport closes.
	Receive() <-chan Message

	// Disconnected returns a channel that emits exactly one DisconnectEvent
	// when the transport closes, for any reason. It is sent before
	// Receive's channel is closed.
	Disconnected() <-chan DisconnectEvent

	// Close shuts down the transport cleanly.
	// Safe to call multiple times; subsequent calls are no-ops.
	Close() error
}

// Target is everything needed to open a connection. The WebSocket proxy
// hook receives it and may rewrite any field before the dial.
type Target struct {
	Address    string
	Protocols  []string
	Header     http.Header
	HTTPClient *http.Client // nil means the dialer's default
}

// ProxyHook rewrites a Target before the connection is opened.
type ProxyHook func(Target) Target

// Dialer opens transports. Implementations must not retry; the client's
// reconnection controller owns retry policy.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Adapter, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, target Target) (Adapter, error)

func (f DialerFunc) Dial(ctx context.Context, target Target) (Adapter, error) {
	return f(ctx, target)
}

// Open applies hook exactly once, then dials. Any dial failure comes back
// wrapping ErrConnectionFailed.
func Open(ctx context.Context, d Dialer, target Target, hook ProxyHook) (Adapter, Target, error) {
	if hook != nil {
		target = hook(target)
	}
	a, err := d.Dial(ctx, target)
	if err != nil {
		return nil, target, errors.Join(ErrConnectionFailed, err)
	}
	return a, target, nil
}
