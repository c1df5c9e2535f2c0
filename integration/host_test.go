package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/risa-org/quizlink/client"
	"github.com/risa-org/quizlink/envelope"
	"github.com/risa-org/quizlink/handshake"
	"github.com/risa-org/quizlink/reserve"
	"github.com/risa-org/quizlink/store/memory"
)

const testPin = "123456"

// host is an in-process game host: the reservation endpoint and the
// cometd WebSocket endpoint, speaking just enough of the protocol to play.
type host struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	login        handshake.LoginResult
	twoFactor    bool
	silent       map[int]bool
	reservations int
	conns        []*hostConn
	controller   []*envelope.Envelope
	pushSeq      int
}

type hostConn struct {
	ws       *websocket.Conn
	ctx      context.Context
	path     string
	connects int
}

func newHost(t *testing.T) *host {
	h := &host{
		t:      t,
		login:  handshake.LoginResult{ParticipantID: "p1"},
		silent: make(map[int]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/reserve/session/", h.reserve)
	mux.HandleFunc("/cometd/", h.cometd)
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *host) reserve(w http.ResponseWriter, r *http.Request) {
	pin := strings.Trim(strings.TrimPrefix(r.URL.Path, "/reserve/session/"), "/")
	if pin != testPin {
		http.NotFound(w, r)
		return
	}
	h.mu.Lock()
	h.reservations++
	twoFactor := h.twoFactor
	h.mu.Unlock()

	w.Header().Set(reserve.TokenHeader, reserve.EncodeToken("tok"+pin, ""))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reserve.Info{TwoFactorAuth: twoFactor})
}

func (h *host) cometd(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.t.Errorf("accept: %v", err)
		return
	}
	hc := &hostConn{ws: ws, ctx: r.Context(), path: r.URL.Path}
	h.mu.Lock()
	h.conns = append(h.conns, hc)
	h.mu.Unlock()

	for {
		_, b, err := ws.Read(hc.ctx)
		if err != nil {
			return
		}
		envs, err := envelope.Decode(b)
		if err != nil {
			h.t.Errorf("host got malformed frame: %v", err)
			return
		}
		for _, env := range envs {
			h.handle(hc, env)
		}
	}
}

func (hc *hostConn) send(envs ...*envelope.Envelope) {
	b, err := envelope.Marshal(envs...)
	if err != nil {
		panic(err)
	}
	hc.ws.Write(hc.ctx, websocket.MessageText, b)
}

func ack(req *envelope.Envelope, data any) *envelope.Envelope {
	resp := &envelope.Envelope{Channel: req.Channel, ID: req.ID, Successful: envelope.Bool(true)}
	if data != nil {
		resp.Data, _ = json.Marshal(data)
	}
	return resp
}

func (h *host) handle(hc *hostConn, env *envelope.Envelope) {
	switch env.Channel {
	case envelope.ChannelHandshake:
		resp := ack(env, nil)
		resp.ClientID = "bayeux-" + strconv.Itoa(len(h.connsSnapshot()))
		hc.send(resp)
	case envelope.ChannelConnect:
		hc.connects++
		if hc.connects == 1 {
			hc.send(ack(env, nil))
		}
		// later connects are long polls left open
	case envelope.ChannelController:
		var d handshake.ControllerData
		if err := env.DecodeData(&d); err != nil {
			h.t.Errorf("host got bad controller data: %v", err)
			return
		}
		h.mu.Lock()
		h.controller = append(h.controller, env)
		login, silent := h.login, h.silent[d.ID]
		h.mu.Unlock()

		switch d.Type {
		case handshake.TypeLogin:
			hc.send(ack(env, login))
		case handshake.TypeRelogin:
			hc.send(ack(env, handshake.LoginResult{CID: d.CID}))
		default:
			if !silent {
				hc.send(ack(env, nil))
			}
		}
	}
}

func (h *host) connsSnapshot() []*hostConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*hostConn(nil), h.conns...)
}

func (h *host) newest() *hostConn {
	conns := h.connsSnapshot()
	if len(conns) == 0 {
		h.t.Fatal("no connection")
	}
	return conns[len(conns)-1]
}

// push sends a player message on the newest connection.
func (h *host) push(kind int, content any) {
	b, _ := json.Marshal(content)
	h.mu.Lock()
	h.pushSeq++
	id := "push-" + strconv.Itoa(h.pushSeq)
	h.mu.Unlock()
	data, _ := json.Marshal(handshake.PlayerMessage{Type: handshake.TypeMessage, ID: kind, Content: string(b)})
	h.newest().send(&envelope.Envelope{Channel: envelope.ChannelPlayer, ID: id, Data: data})
}

// drop cuts the newest connection without a close handshake.
func (h *host) drop() {
	h.newest().ws.CloseNow()
}

func (h *host) commands(typ string, kind int) []handshake.ControllerData {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []handshake.ControllerData
	for _, env := range h.controller {
		var d handshake.ControllerData
		if env.DecodeData(&d) == nil && d.Type == typ && (kind == 0 || d.ID == kind) {
			out = append(out, d)
		}
	}
	return out
}

// ackLast acknowledges the newest controller message of kind.
func (h *host) ackLast(kind int) {
	h.mu.Lock()
	var last *envelope.Envelope
	for _, env := range h.controller {
		var d handshake.ControllerData
		if env.DecodeData(&d) == nil && d.ID == kind {
			last = env
		}
	}
	h.mu.Unlock()
	if last != nil {
		h.newest().send(ack(last, nil))
	}
}

func (h *host) client(t *testing.T, mutate func(*client.Config)) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.BaseURL = h.srv.URL
	cfg.Reserver = &reserve.Client{BaseURL: h.srv.URL}
	cfg.Store = memory.New()
	cfg.RequestTimeout = 2 * time.Second
	cfg.ReconnectMin = 5 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	c := client.New(cfg)
	t.Cleanup(c.Leave)
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
