package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/risa-org/quizlink/transport"
	"nhooyr.io/websocket"
)

// DefaultReadLimit is larger than nhooyr's 32 KiB default; recovery data
// and quiz-end summaries routinely exceed that.
const DefaultReadLimit = 1 << 20

// Adapter implements transport.Adapter over a WebSocket connection.
// Every frame is one text message holding a JSON envelope batch.
// WebSocket already has message boundaries built in, so there is no
// framing of our own.
type Adapter struct {
	conn       *websocket.Conn
	incoming   chan transport.Message
	disconnect chan transport.DisconnectEvent
	closeOnce  sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
}

// New wraps an existing *websocket.Conn in a transport Adapter.
func New(conn *websocket.Conn) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		conn:       conn,
		incoming:   make(chan transport.Message, 64),
		disconnect: make(chan transport.DisconnectEvent, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	go a.readLoop()
	return a
}

func (a *Adapter) Send(msg transport.Message) error {
	if err := a.conn.Write(a.ctx, websocket.MessageText, msg.Payload); err != nil {
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

func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.conn.Close(websocket.StatusNormalClosure, "closed")
		a.cancel()
	})
	return err
}

func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	for {
		_, payload, err := a.conn.Read(a.ctx)
		if err != nil {
			a.signalDisconnect(err)
			return
		}
		select {
		case a.incoming <- transport.Message{Payload: payload, ReceivedAt: time.Now()}:
		case <-a.ctx.Done():
			a.signalDisconnect(a.ctx.Err())
			return
		}
	}
}

// signalDisconnect sends exactly one disconnect event.
// StatusNormalClosure (1000) and StatusGoingAway (1001) are both clean closes;
// different WebSocket implementations and shutdown timing produce either code.
// Context cancellation means we closed it ourselves, also clean.
func (a *Adapter) signalDisconnect(err error) {
	event := transport.DisconnectEvent{}

	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure,
		status == websocket.StatusGoingAway,
		a.ctx.Err() != nil:
		event.Reason = transport.ReasonClosedClean
	case errors.Is(err, context.DeadlineExceeded):
		event.Reason = transport.ReasonTimeout
		event.Err = err
	default:
		event.Reason = transport.ReasonNetworkError
		event.Err = err
	}

	select {
	case a.disconnect <- event:
	default:
	}
}

// Dialer opens WebSocket transports. The zero value is ready to use.
type Dialer struct {
	// HTTPClient is used for the upgrade request when the target has none.
	HTTPClient *http.Client

	// ReadLimit caps a single inbound frame. Zero means DefaultReadLimit.
	ReadLimit int64
}

// Dial opens a WebSocket to target.Address offering target.Protocols.
func (d *Dialer) Dial(ctx context.Context, target transport.Target) (transport.Adapter, error) {
	client := target.HTTPClient
	if client == nil {
		client = d.HTTPClient
	}

	conn, _, err := websocket.Dial(ctx, target.Address, &websocket.DialOptions{
		HTTPClient:   client,
		HTTPHeader:   target.Header,
		Subprotocols: target.Protocols,
	})
	if err != nil {
		return nil, err
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)

	return New(conn), nil
}
