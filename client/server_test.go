package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/risa-org/quizlink/envelope"
	"github.com/risa-org/quizlink/events"
	"github.com/risa-org/quizlink/handshake"
	"github.com/risa-org/quizlink/transport"
)

// pipe is an in-memory transport. The client end is the Adapter; the
// test server reads out and writes with push.
type pipe struct {
	mu     sync.Mutex
	closed bool
	in     chan transport.Message
	out    chan transport.Message
	disc   chan transport.DisconnectEvent
	done   chan struct{}
}

func newPipe() *pipe {
	return &pipe{
		in:   make(chan transport.Message, 256),
		out:  make(chan transport.Message, 64),
		disc: make(chan transport.DisconnectEvent, 1),
		done: make(chan struct{}),
	}
}

func (p *pipe) Send(msg transport.Message) error {
	select {
	case <-p.done:
		return transport.ErrTransportClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return transport.ErrTransportClosed
	}
}

func (p *pipe) Receive() <-chan transport.Message { return p.in }
func (p *pipe) Disconnected() <-chan transport.DisconnectEvent { return p.disc }

func (p *pipe) Close() error {
	p.shut(transport.ReasonClosedClean, nil)
	return nil
}

func (p *pipe) shut(reason transport.DisconnectReason, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
	p.disc <- transport.DisconnectEvent{Reason: reason, Err: err}
	close(p.in)
}

func (p *pipe) push(envs ...*envelope.Envelope) bool {
	b, err := envelope.Marshal(envs...)
	if err != nil {
		panic(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.in <- transport.Message{Payload: b, ReceivedAt: time.Now()}
	return true
}

// pushRaw delivers frame exactly as given.
func (p *pipe) pushRaw(frame string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.in <- transport.Message{Payload: []byte(frame), ReceivedAt: time.Now()}
	}
}

// gameServer plays the game host: it answers the handshake, the first
// connect of every transport and controller messages, and holds later
// connects the way a long poll does.
type gameServer struct {
	t *testing.T

	mu         sync.Mutex
	login      handshake.LoginResult
	reloginErr string
	failDials  int // dials left to refuse; negative refuses all
	silent     map[int]bool
	dials      int
	targets    []transport.Target
	conns      []*pipe
	frames     []*envelope.Envelope
	held       []heldConnect
	pushSeq    int
}

type heldConnect struct {
	p   *pipe
	env *envelope.Envelope
}

func newGameServer(t *testing.T) *gameServer {
	return &gameServer{
		t:      t,
		login:  handshake.LoginResult{ParticipantID: "p1"},
		silent: make(map[int]bool),
	}
}

func (g *gameServer) Dial(ctx context.Context, target transport.Target) (transport.Adapter, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dials++
	g.targets = append(g.targets, target)
	if g.failDials != 0 {
		if g.failDials > 0 {
			g.failDials--
		}
		return nil, errors.New("connection refused")
	}
	p := newPipe()
	g.conns = append(g.conns, p)
	go g.serve(p)
	return p, nil
}

func (g *gameServer) serve(p *pipe) {
	connects := 0
	handle := func(msg transport.Message) {
		envs, err := envelope.Decode(msg.Payload)
		if err != nil {
			g.t.Errorf("server got malformed frame: %v", err)
			return
		}
		for _, env := range envs {
			g.mu.Lock()
			g.frames = append(g.frames, env)
			g.mu.Unlock()
			g.reply(p, env, &connects)
		}
	}
	for {
		select {
		case msg := <-p.out:
			handle(msg)
		case <-p.done:
			for {
				select {
				case msg := <-p.out:
					handle(msg)
				default:
					return
				}
			}
		}
	}
}

func ok(req *envelope.Envelope, data any) *envelope.Envelope {
	resp := &envelope.Envelope{Channel: req.Channel, ID: req.ID, Successful: envelope.Bool(true)}
	if data != nil {
		b, _ := json.Marshal(data)
		resp.Data = b
	}
	return resp
}

func (g *gameServer) reply(p *pipe, env *envelope.Envelope, connects *int) {
	switch env.Channel {
	case envelope.ChannelHandshake:
		resp := ok(env, nil)
		resp.ClientID = "bayeux-1"
		resp.Advice = &envelope.Advice{Reconnect: "retry"}
		p.push(resp)
	case envelope.ChannelConnect:
		*connects++
		if *connects == 1 {
			p.push(ok(env, nil))
			return
		}
		g.mu.Lock()
		g.held = append(g.held, heldConnect{p: p, env: env})
		g.mu.Unlock()
	case envelope.ChannelDisconnect:
		p.push(ok(env, nil))
	case envelope.ChannelController:
		var d handshake.ControllerData
		if err := env.DecodeData(&d); err != nil {
			g.t.Errorf("server got bad controller data: %v", err)
			return
		}
		g.mu.Lock()
		login, reloginErr, silent := g.login, g.reloginErr, g.silent[d.ID]
		g.mu.Unlock()
		switch d.Type {
		case handshake.TypeLogin:
			p.push(ok(env, login))
		case handshake.TypeRelogin:
			if reloginErr != "" {
				p.push(&envelope.Envelope{Channel: env.Channel, ID: env.ID, Successful: envelope.Bool(false), Error: reloginErr})
				return
			}
			p.push(ok(env, handshake.LoginResult{CID: d.CID}))
		default:
			if silent {
				return
			}
			p.push(ok(env, nil))
			if d.ID == handshake.KindTeamMembers {
				var members []string
				json.Unmarshal([]byte(d.Content), &members)
				g.pushOn(p, kindTeamAccept, map[string]any{"memberNames": members})
			}
		}
	}
}

func (g *gameServer) pushOn(p *pipe, kind int, content any) {
	b, _ := json.Marshal(content)
	g.mu.Lock()
	g.pushSeq++
	id := "push-" + strconv.Itoa(g.pushSeq)
	g.mu.Unlock()
	data, _ := json.Marshal(handshake.PlayerMessage{Type: handshake.TypeMessage, ID: kind, Content: string(b)})
	p.push(&envelope.Envelope{Channel: envelope.ChannelPlayer, ID: id, Data: data})
}

// pushPlayer sends a player message on the newest transport.
func (g *gameServer) pushPlayer(kind int, content any) {
	g.pushOn(g.conn(), kind, content)
}

func (g *gameServer) conn() *pipe {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.conns) == 0 {
		g.t.Fatal("no transport open")
	}
	return g.conns[len(g.conns)-1]
}

// drop kills the newest transport as a network failure would.
func (g *gameServer) drop() {
	g.conn().shut(transport.ReasonNetworkError, io.ErrUnexpectedEOF)
}

// releaseConnect answers the oldest held connect.
func (g *gameServer) releaseConnect() {
	g.t.Helper()
	eventually(g.t, "a held connect", func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.held) > 0
	})
	g.mu.Lock()
	h := g.held[0]
	g.held = g.held[1:]
	g.mu.Unlock()
	h.p.push(ok(h.env, nil))
}

// ackLast acknowledges the newest command of kind, late.
func (g *gameServer) ackLast(kind int) {
	g.mu.Lock()
	var last *envelope.Envelope
	for _, env := range g.frames {
		var d handshake.ControllerData
		if env.Channel == envelope.ChannelController && env.DecodeData(&d) == nil && d.ID == kind {
			last = env
		}
	}
	g.mu.Unlock()
	if last != nil {
		g.conn().push(ok(last, nil))
	}
}

func (g *gameServer) set(fn func(g *gameServer)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *gameServer) dialCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dials
}

func (g *gameServer) channels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, env := range g.frames {
		out = append(out, env.Channel)
	}
	return out
}

func (g *gameServer) controller(typ string) []handshake.ControllerData {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []handshake.ControllerData
	for _, env := range g.frames {
		var d handshake.ControllerData
		if env.Channel == envelope.ChannelController && env.DecodeData(&d) == nil && d.Type == typ {
			out = append(out, d)
		}
	}
	return out
}

func (g *gameServer) commands(kind int) []handshake.ControllerData {
	var out []handshake.ControllerData
	for _, d := range g.controller(handshake.TypeMessage) {
		if d.ID == kind {
			out = append(out, d)
		}
	}
	return out
}

// connectAcks returns ext.ack of every connect sent.
func (g *gameServer) connectAcks() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []int64
	for _, env := range g.frames {
		if env.Channel == envelope.ChannelConnect && env.Ext != nil && env.Ext.Ack != nil {
			out = append(out, *env.Ext.Ack)
		}
	}
	return out
}

// recorder captures every event a client emits.
type recorder struct {
	mu       sync.Mutex
	counts   map[events.Name]int
	payloads map[events.Name][]any
}

func record(c *Client) *recorder {
	r := &recorder{counts: make(map[events.Name]int), payloads: make(map[events.Name][]any)}
	for _, name := range events.All {
		c.On(name, func(p any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.counts[name]++
			r.payloads[name] = append(r.payloads[name], p)
		})
	}
	return r
}

func (r *recorder) count(name events.Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func (r *recorder) last(name events.Name) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.payloads[name]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

func newTestClient(t *testing.T, g *gameServer, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Reserver = nil
	cfg.Dialer = g
	cfg.RequestTimeout = 2 * time.Second
	cfg.ReconnectMin = time.Millisecond
	cfg.ReconnectMax = 4 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	c := New(cfg)
	t.Cleanup(c.Leave)
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
