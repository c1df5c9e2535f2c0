package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/risa-org/quizlink/correlator"
	"github.com/risa-org/quizlink/envelope"
)

// Host is the controller host field every login and command carries.
const Host = "kahoot.it"

// Rejection reasons for a failed login or relogin that carried no reason
// of its own. They end up in envelope.RejectedError.Reason.
const (
	ReasonNoClientID    = "handshake_missing_client_id"
	ReasonSessionEnded  = "session_not_found"
	ReasonInvalidResume = "invalid_resume"
)

// Conn is the slice of the client the handshake drives. Request must be
// safe to call from the goroutine running the handshake; the client
// implements it by posting to its loop.
type Conn interface {
	Request(channel string, data any, ext *envelope.Ext, timeout time.Duration) (*envelope.Envelope, *correlator.Handle, error)
	SetClientID(id string)
}

// Result is what a successful handshake + connect + login produced.
type Result struct {
	ClientID string
	Advice   *envelope.Advice
	Login    *LoginResult
}

// Handler runs the connection preamble over a freshly opened transport:
//
//  1. /meta/handshake, which assigns the bayeux clientId
//  2. the first /meta/connect, which the server answers immediately
//  3. login (join) or relogin (resume) on /service/controller
//
// The client keeps /meta/connect going afterwards; the handler only does
// the first one so the login never races the connection setup.
type Handler struct {
	conn    Conn
	timeout time.Duration
}

// NewHandler creates a handler. A zero timeout means
// correlator.DefaultTimeout per step.
func NewHandler(conn Conn, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = correlator.DefaultTimeout
	}
	return &Handler{conn: conn, timeout: timeout}
}

// Join performs the full preamble and logs in as a new player.
func (h *Handler) Join(ctx context.Context, login Login) (*Result, error) {
	res, err := h.open(ctx)
	if err != nil {
		return nil, err
	}
	env, err := h.request(ctx, envelope.ChannelController, login.data(), nil)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	lr, err := ParseLogin(env)
	if err != nil {
		return nil, err
	}
	res.Login = lr
	return res, nil
}

// Resume performs the full preamble and re-attaches to an existing
// participant by cid. The server answers with the same cid, or rejects
// when the participant is gone.
func (h *Handler) Resume(ctx context.Context, relogin Relogin) (*Result, error) {
	if relogin.Pin == "" || relogin.CID == "" {
		return nil, &envelope.RejectedError{Channel: envelope.ChannelController, Reason: ReasonInvalidResume, Local: true}
	}
	res, err := h.open(ctx)
	if err != nil {
		return nil, err
	}
	env, err := h.request(ctx, envelope.ChannelController, relogin.data(), nil)
	if err != nil {
		return nil, fmt.Errorf("relogin: %w", err)
	}
	lr, err := ParseLogin(env)
	if err != nil {
		return nil, err
	}
	if lr.CID == "" {
		lr.CID = relogin.CID
	}
	res.Login = lr
	return res, nil
}

// open runs steps 1 and 2.
func (h *Handler) open(ctx context.Context) (*Result, error) {
	env, err := h.request(ctx, envelope.ChannelHandshake, nil, HandshakeExt())
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if env.ClientID == "" {
		return nil, &envelope.RejectedError{Channel: env.Channel, ID: env.ID, Reason: ReasonNoClientID}
	}
	h.conn.SetClientID(env.ClientID)

	connectEnv, err := h.request(ctx, envelope.ChannelConnect, nil, ConnectExt(0))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Result{ClientID: env.ClientID, Advice: connectEnv.Advice}, nil
}

func (h *Handler) request(ctx context.Context, channel string, data any, ext *envelope.Ext) (*envelope.Envelope, error) {
	_, handle, err := h.conn.Request(channel, data, ext, h.timeout)
	if err != nil {
		return nil, err
	}
	return handle.Wait(ctx)
}

// ParseLogin projects a login or relogin ack. A data-level error counts
// as a rejection even when the envelope claims success.
func ParseLogin(env *envelope.Envelope) (*LoginResult, error) {
	if err := env.Err(); err != nil {
		return nil, err
	}
	var lr LoginResult
	if len(env.Data) > 0 {
		if err := env.DecodeData(&lr); err != nil {
			return nil, fmt.Errorf("%w: login ack: %v", envelope.ErrMalformedFrame, err)
		}
	}
	if lr.Error != "" || lr.Description != "" {
		reason := lr.Description
		if reason == "" {
			reason = lr.Error
		}
		return nil, &envelope.RejectedError{Channel: env.Channel, ID: env.ID, Reason: reason}
	}
	return &lr, nil
}

// IsSessionGone reports whether a relogin failure means the participant no
// longer exists, so retrying cannot help.
func IsSessionGone(err error) bool {
	var rej *envelope.RejectedError
	if !errors.As(err, &rej) || rej.Local {
		return false
	}
	return rej.Reason == ReasonSessionEnded
}
