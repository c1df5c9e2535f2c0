// Package client is the quiz session engine: it joins a game over a
// transport, keeps the connection alive, routes server messages through
// the session state machine and emits lifecycle events.
//
// Every Client runs one loop goroutine that owns the session, the codec
// and the current transport. Commands post work to that loop and wait on
// the request correlator outside it, so a slow acknowledgement never
// blocks inbound processing. Events are delivered on a separate
// dispatcher goroutine in emission order; listeners may call commands.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/risa-org/quizlink/correlator"
	"github.com/risa-org/quizlink/envelope"
	"github.com/risa-org/quizlink/events"
	"github.com/risa-org/quizlink/handshake"
	"github.com/risa-org/quizlink/metrics"
	"github.com/risa-org/quizlink/reserve"
	"github.com/risa-org/quizlink/session"
	"github.com/risa-org/quizlink/transport"
	"github.com/risa-org/quizlink/transport/sender"
	wstransport "github.com/risa-org/quizlink/transport/websocket"
)

const tracerName = "github.com/risa-org/quizlink"

// Client is one player's connection to one game.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Collector
	bus     *events.Bus
	dialer  transport.Dialer

	codec   *envelope.Codec
	pending *correlator.Correlator

	tasks     chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	resumes   sync.WaitGroup // automatic reconnect goroutines

	// owned by the loop
	sess          *session.Session
	adapter       transport.Adapter
	recv          <-chan transport.Message
	sender        *sender.Sender
	acks          *handshake.AckCounter
	gen           uint64 // bumped on every attach and detach
	connectTimer  *time.Timer
	connectSentAt time.Time
	lag           time.Duration
	joined        *JoinedData
	pendingTeam   []string
	teamWait      string
	teamSeq       int
	reconnect     *reconnectRun

	targetMu   sync.Mutex
	lastTarget *dialTarget
}

// New creates a client. It does not connect; call Join.
func New(cfg Config) *Client {
	base := cfg.Logger
	if base == nil {
		base = slog.New(&discardHandler{})
	}
	logger := base.With("component", "client")

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &wstransport.Dialer{}
	}

	if rc, ok := cfg.Reserver.(*reserve.Client); ok && rc != nil {
		cp := *rc
		if cp.Proxy == nil {
			cp.Proxy = cfg.Proxy
		}
		if cp.UserAgent == "" {
			cp.UserAgent = cfg.UserAgent
		}
		if cp.Logger == nil {
			cp.Logger = base
		}
		cfg.Reserver = &cp
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 16 * cfg.ReconnectMin
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		tracer:   tracer,
		metrics:  cfg.Metrics,
		bus:      events.NewBus(base),
		dialer:   dialer,
		codec:    envelope.NewCodec(cfg.Now),
		pending:  correlator.New(cfg.RequestTimeout),
		tasks:    make(chan func()),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		sess:     session.New(),
		acks:     handshake.NewAckCounter(),
	}
	go c.loop()
	return c
}

func (c *Client) loop() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.tasks:
			fn()
		case msg, ok := <-c.recv:
			if !ok {
				c.lost()
				continue
			}
			c.handleFrame(msg)
		case <-c.quit:
			if c.connectTimer != nil {
				c.connectTimer.Stop()
			}
			return
		}
	}
}

// do runs fn on the loop and returns its error. After the client is
// closed it returns ErrSessionClosed without running fn.
func (c *Client) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.tasks <- func() { errc <- fn() }:
		return <-errc
	case <-c.quit:
		return session.ErrSessionClosed
	}
}

// post queues fn on the loop without waiting for it to run.
func (c *Client) post(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.quit:
	}
}

// State returns the current session state.
func (c *Client) State() session.State {
	st := session.StateClosed
	c.do(func() error {
		st = c.sess.State
		return nil
	})
	return st
}

// Session returns a copy of the session.
func (c *Client) Session() session.Session {
	var snap session.Session
	err := c.do(func() error {
		snap = *c.sess
		if c.sess.Quiz != nil {
			q := *c.sess.Quiz
			q.QuizQuestionAnswers = append([]int(nil), q.QuizQuestionAnswers...)
			snap.Quiz = &q
		}
		snap.Team = append([]string(nil), c.sess.Team...)
		return nil
	})
	if err != nil {
		snap.State = session.StateClosed
	}
	return snap
}

// Pending returns how many requests await an acknowledgement.
func (c *Client) Pending() int {
	return c.pending.Pending()
}

// Done is closed once the client has shut down, after Leave or a kick.
func (c *Client) Done() <-chan struct{} {
	return c.loopDone
}

// attach makes a as the current transport. Runs on the loop.
func (c *Client) attach(a transport.Adapter) uint64 {
	c.detach()
	c.gen++
	c.adapter = a
	c.recv = a.Receive()
	c.sender = sender.New(c.codec, c.pending, a)
	c.acks = handshake.NewAckCounter()
	c.codec.SetClientID("")
	c.connectSentAt = time.Time{}
	return c.gen
}

// detach drops and closes the current transport. Runs on the loop.
func (c *Client) detach() {
	if c.adapter == nil {
		return
	}
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	a := c.adapter
	c.adapter, c.recv, c.sender = nil, nil, nil
	c.gen++
	if err := a.Close(); err != nil {
		c.logger.Debug("closing transport", "err", err)
	}
}

// dialTarget is where the last explicit open connected, after the proxy
// hooks ran.
type dialTarget struct {
	pin    string
	target transport.Target
}

// open reserves a seat and opens a transport to it. With reuse set, a
// target already opened for pin is dialled again without reserving or
// running the proxy hooks. Runs off the loop.
func (c *Client) open(ctx context.Context, pin string, reuse bool) (transport.Adapter, error) {
	if reuse {
		c.targetMu.Lock()
		last := c.lastTarget
		c.targetMu.Unlock()
		if last != nil && last.pin == pin {
			target := last.target
			target.Header = target.Header.Clone()
			a, _, err := transport.Open(ctx, c.dialer, target, nil)
			if err != nil {
				return nil, err
			}
			c.logger.Debug("transport reopened", "pin", pin, "address", target.Address)
			return a, nil
		}
	}

	var address string
	if c.cfg.Reserver != nil {
		res, err := c.cfg.Reserver.Reserve(ctx, pin)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", transport.ErrConnectionFailed, err)
		}
		address = res.Address
	} else {
		address = (&reserve.Client{BaseURL: c.cfg.BaseURL}).Address(pin, "")
	}

	header := http.Header{}
	if c.cfg.UserAgent != "" {
		header.Set("User-Agent", c.cfg.UserAgent)
	}
	target := transport.Target{Address: address, Header: header}

	a, target, err := transport.Open(ctx, c.dialer, target, c.cfg.WSProxy)
	if err != nil {
		return nil, err
	}
	c.targetMu.Lock()
	c.lastTarget = &dialTarget{pin: pin, target: target}
	c.targetMu.Unlock()
	c.logger.Debug("transport open", "pin", pin, "address", target.Address)
	return a, nil
}

// conn is the handshake's view of one attached transport. Requests fail
// with ErrConnectionLost once that transport is no longer current.
type conn struct {
	c   *Client
	gen uint64
}

func (l conn) Request(channel string, data any, ext *envelope.Ext, timeout time.Duration) (*envelope.Envelope, *correlator.Handle, error) {
	var (
		env *envelope.Envelope
		h   *correlator.Handle
	)
	err := l.c.do(func() error {
		if l.c.gen != l.gen || l.c.sender == nil {
			return transport.ErrConnectionLost
		}
		var err error
		env, h, err = l.c.sender.Request(channel, data, ext, timeout)
		if err != nil {
			return err
		}
		l.c.sent(env)
		return nil
	})
	return env, h, err
}

func (l conn) SetClientID(id string) {
	l.c.do(func() error {
		if l.c.gen == l.gen {
			l.c.codec.SetClientID(id)
		}
		return nil
	})
}

// sent does the bookkeeping for an outbound envelope. Runs on the loop.
func (c *Client) sent(env *envelope.Envelope) {
	c.metrics.FrameSent(env.Channel)
	c.metrics.SetPending(c.pending.Pending())
}

// publish sends without waiting for an ack. Runs on the loop.
func (c *Client) publish(channel string, data any, ext *envelope.Ext) error {
	if c.sender == nil {
		return transport.ErrTransportClosed
	}
	env, err := c.sender.Publish(channel, data, ext)
	if err != nil {
		return err
	}
	c.sent(env)
	return nil
}

// publishCommand sends a controller message without waiting for an ack.
func (c *Client) publishCommand(kind int, content any) error {
	data, err := handshake.Command(c.sess.Pin, kind, content)
	if err != nil {
		return err
	}
	return c.publish(envelope.ChannelController, data, nil)
}

// scheduleConnect keeps the /meta/connect cycle going: every connect
// response is followed by the next connect, after the server's advised
// interval. Runs on the loop.
func (c *Client) scheduleConnect(advice *envelope.Advice) {
	if c.sender == nil {
		return
	}
	if !c.connectSentAt.IsZero() {
		c.lag = time.Since(c.connectSentAt)
		c.connectSentAt = time.Time{}
	}
	if advice != nil && advice.Reconnect == "none" {
		c.logger.Warn("server advised against reconnecting")
		return
	}

	gen := c.gen
	send := func() {
		if c.gen != gen || c.sender == nil {
			return
		}
		c.connectSentAt = time.Now()
		if err := c.publish(envelope.ChannelConnect, nil, handshake.ConnectExt(c.acks.Next())); err != nil {
			c.logger.Debug("connect not sent", "err", err)
		}
	}

	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	var interval time.Duration
	if advice != nil {
		interval = time.Duration(advice.Interval) * time.Millisecond
	}
	if interval <= 0 {
		send()
		return
	}
	c.connectTimer = time.AfterFunc(interval, func() { c.post(send) })
}

// transition moves the session and records it. An invalid transition is
// logged and skipped; callers still emit their event. Runs on the loop.
func (c *Client) transition(next session.State) bool {
	from := c.sess.State
	if !c.sess.Transition(next) {
		c.logger.Debug("invalid transition", "from", from.String(), "to", next.String())
		return false
	}
	c.metrics.StateChanged(next.String())
	return true
}

func (c *Client) emit(name events.Name, payload any) {
	if c.bus.Emit(name, payload) {
		c.metrics.EventEmitted(string(name))
	}
}

// saveResume stores the resume token when a store is configured.
func (c *Client) saveResume() {
	if c.cfg.Store == nil || c.sess.CID == "" {
		return
	}
	if err := c.cfg.Store.Save(c.sess.ResumeToken()); err != nil {
		c.logger.Warn("saving resume token", "pin", c.sess.Pin, "err", err)
	}
}

// teardown ends the session for good. Runs on the loop; safe to repeat.
func (c *Client) teardown(reason string) {
	if c.sess.State == session.StateClosed {
		return
	}
	if c.sender != nil {
		if err := c.publish(envelope.ChannelDisconnect, nil, nil); err != nil {
			c.logger.Debug("disconnect not sent", "err", err)
		}
	}
	if n := c.pending.Close(session.ErrSessionClosed); n > 0 {
		c.logger.Debug("rejected pending requests", "count", n)
	}
	c.metrics.SetPending(0)
	c.cancelReconnect()
	c.detach()
	if c.cfg.Store != nil && c.sess.Pin != "" {
		if err := c.cfg.Store.Delete(c.sess.Pin); err != nil {
			c.logger.Warn("deleting resume token", "pin", c.sess.Pin, "err", err)
		}
	}
	c.transition(session.StateClosed)
	c.logger.Info("session closed", "pin", c.sess.Pin, "reason", reason)
	c.emit(events.Disconnect, reason)
	c.bus.Close()
}

// Leave ends the session: pending requests are rejected with
// ErrSessionClosed, reconnection stops, the transport is closed and one
// Disconnect event is emitted. Calling it again does nothing.
func (c *Client) Leave() {
	c.closeOnce.Do(func() {
		c.do(func() error {
			c.teardown("Session Ended")
			return nil
		})
		close(c.quit)
	})
	<-c.loopDone
	c.waitReconnect()
}

// kicked is Leave driven by the server. Runs on the loop.
func (c *Client) kicked() {
	c.teardown("Kicked")
	go c.closeOnce.Do(func() { close(c.quit) })
}
