package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/risa-org/quizlink/transport"
)

// MaxFrameSize bounds a single inbound frame.
const MaxFrameSize = 4 << 20

// Adapter implements transport.Adapter over any stream connection:
// a raw TCP socket, a tunnel, or net.Pipe in tests.
//
// Wire format for each frame:
//
//	[4 bytes: payload length uint32 big-endian][N bytes: envelope batch JSON]
//
// TCP is a stream protocol with no message boundaries, so without the
// length prefix a Read() might return half a frame or two frames joined.
type Adapter struct {
	conn       net.Conn                       // the underlying connection
	incoming   chan transport.Message         // delivers received frames to caller
	disconnect chan transport.DisconnectEvent // signals when connection closes
	closeOnce  sync.Once                      // guarantees cleanup runs exactly once
	closed     chan struct{}                  // closed by Close, unblocks readLoop
	writeMu    sync.Mutex                     // one writer at a time
}

// New wraps an existing net.Conn in a transport Adapter.
// The conn must already be established; dialing happens outside.
// Immediately starts a read loop goroutine in the background.
func New(conn net.Conn) *Adapter {
	a := &Adapter{
		conn:       conn,
		incoming:   make(chan transport.Message, 64),        // buffered so reader doesn't block on slow consumers
		disconnect: make(chan transport.DisconnectEvent, 1), // buffered so writer never blocks
		closed:     make(chan struct{}),
	}
	go a.readLoop()
	return a
}

// Send writes one length-prefixed frame.
func (a *Adapter) Send(msg transport.Message) error {
	if len(msg.Payload) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(msg.Payload), MaxFrameSize)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	buf := make([]byte, 4+len(msg.Payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(msg.Payload)))
	copy(buf[4:], msg.Payload)

	if _, err := a.conn.Write(buf); err != nil {
		return transport.ErrTransportClosed
	}
	return nil
}

func (a *Adapter) Receive() <-chan transport.Message {
	return a.incoming
}

func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent {
	return a.disconnect
}

// Close shuts down the connection. Safe to call multiple times.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closed)
		err = a.conn.Close()
	})
	return err
}

func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(a.conn, lenBuf[:]); err != nil {
			a.signalDisconnect(err)
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > MaxFrameSize {
			a.signalDisconnect(fmt.Errorf("inbound frame of %d bytes exceeds %d", n, MaxFrameSize))
			return
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(a.conn, payload); err != nil {
			a.signalDisconnect(err)
			return
		}

		select {
		case a.incoming <- transport.Message{Payload: payload, ReceivedAt: time.Now()}:
		case <-a.closed:
			a.signalDisconnect(nil)
			return
		}
	}
}

// signalDisconnect figures out the reason and sends exactly one event.
func (a *Adapter) signalDisconnect(err error) {
	event := transport.DisconnectEvent{}

	select {
	case <-a.closed:
		// we closed it ourselves
		event.Reason = transport.ReasonClosedClean
	default:
		var ne net.Error
		switch {
		case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
			event.Reason = transport.ReasonClosedClean
		case errors.As(err, &ne) && ne.Timeout():
			event.Reason = transport.ReasonTimeout
			event.Err = err
		default:
			event.Reason = transport.ReasonNetworkError
			event.Err = err
		}
	}

	select {
	case a.disconnect <- event:
	default:
	}
}

// Dialer opens stream transports with net.Dialer. Target.Address is a
// host:port; protocols and headers do not apply.
type Dialer struct {
	Timeout time.Duration
}

func (d *Dialer) Dial(ctx context.Context, target transport.Target) (transport.Adapter, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", target.Address)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}
