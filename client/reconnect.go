package client

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"go.opentelemetry.io/otel/attribute"

	"github.com/risa-org/quizlink/events"
	"github.com/risa-org/quizlink/handshake"
	"github.com/risa-org/quizlink/metrics"
	"github.com/risa-org/quizlink/session"
	"github.com/risa-org/quizlink/transport"
)

// reconnectRun is one automatic reconnection in progress.
type reconnectRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// lost handles the current transport going away. Runs on the loop.
func (c *Client) lost() {
	reason := transport.ReasonUnknown.String()
	if c.adapter != nil {
		select {
		case ev := <-c.adapter.Disconnected():
			reason = ev.Reason.String()
			if ev.Err != nil {
				c.logger.Debug("transport error", "err", ev.Err)
			}
		default:
		}
	}
	c.detach()
	if n := c.pending.RejectAll(transport.ErrConnectionLost); n > 0 {
		c.logger.Debug("rejected pending requests", "count", n)
	}
	c.metrics.SetPending(0)

	switch c.sess.State {
	case session.StateConnecting, session.StateReconnecting, session.StateDisconnected, session.StateClosed:
		// whoever opened this transport sees the failure
		return
	}
	c.logger.Warn("connection lost", "pin", c.sess.Pin, "state", c.sess.State.String(), "reason", reason)

	if !c.cfg.Modules.Reconnect || c.sess.CID == "" {
		c.transition(session.StateDisconnected)
		c.emit(events.Disconnect, reason)
		return
	}
	c.sess.Suspend()
	c.metrics.StateChanged(session.StateReconnecting.String())

	ctx, cancel := context.WithCancel(context.Background())
	run := &reconnectRun{cancel: cancel, done: make(chan struct{})}
	c.reconnect = run
	c.resumes.Add(1)
	go c.autoReconnect(ctx, run, c.sess.Pin, c.sess.CID)
}

// autoReconnect retries the resume with exponential backoff. Exhaustion
// leaves the session Disconnected with a single Disconnect event.
func (c *Client) autoReconnect(ctx context.Context, run *reconnectRun, pin, cid string) {
	defer c.resumes.Done()
	defer close(run.done)
	defer run.cancel()

	b := &backoff.Backoff{
		Min:    c.cfg.ReconnectMin,
		Max:    c.cfg.ReconnectMax,
		Factor: 2,
	}
	attempts := c.cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		wait := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-wait.C:
		}

		c.logger.Info("reconnecting", "pin", pin, "attempt", attempt)
		err = c.resumeOnce(ctx, pin, cid, run)
		if err == nil {
			c.metrics.ReconnectAttempt(metrics.ReconnectSuccess)
			c.logger.Info("reconnected", "pin", pin, "attempt", attempt)
			return
		}
		c.metrics.ReconnectAttempt(metrics.ReconnectFailure)
		c.logger.Warn("reconnect attempt failed", "pin", pin, "attempt", attempt, "err", err)
		if ctx.Err() != nil {
			return
		}
		if handshake.IsSessionGone(err) {
			break
		}
	}

	c.metrics.ReconnectAttempt(metrics.ReconnectExhausted)
	c.post(func() {
		if c.reconnect != run {
			return
		}
		c.reconnect = nil
		c.transition(session.StateDisconnected)
		c.emit(events.Disconnect, fmt.Sprintf("reconnect failed: %v", err))
	})
}

// resumeOnce opens a fresh transport and relogs in as cid. run is the
// automatic reconnection making the attempt, nil for an explicit one.
func (c *Client) resumeOnce(ctx context.Context, pin, cid string, run *reconnectRun) error {
	adapter, err := c.open(ctx, pin, run != nil)
	if err != nil {
		return err
	}

	var gen uint64
	err = c.do(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		gen = c.attach(adapter)
		return nil
	})
	if err != nil {
		adapter.Close()
		return err
	}

	h := handshake.NewHandler(conn{c: c, gen: gen}, c.cfg.timeout(CommandReconnect))
	res, err := h.Resume(ctx, handshake.Relogin{Pin: pin, CID: cid})
	if err == nil {
		err = c.do(func() error {
			if c.gen != gen {
				return transport.ErrConnectionLost
			}
			if run != nil && c.reconnect != run {
				return context.Canceled
			}
			c.reconnect = nil
			c.resumed(pin, cid, res)
			return nil
		})
	}
	if err != nil {
		c.do(func() error {
			if c.gen == gen {
				c.detach()
				c.pending.RejectAll(transport.ErrConnectionLost)
			}
			return nil
		})
	}
	return err
}

// resumed puts the session back where it was. No Joined event fires.
// Runs on the loop.
func (c *Client) resumed(pin, cid string, res *handshake.Result) {
	c.sess.Pin, c.sess.CID = pin, cid
	if res.Login != nil && res.Login.ParticipantID != "" {
		c.sess.ParticipantID = res.Login.ParticipantID
	}
	st := c.sess.Restore()
	c.metrics.StateChanged(st.String())
	c.saveResume()
	if c.cfg.Modules.Backup {
		if err := c.publishCommand(handshake.KindRecoveryRequest, nil); err != nil {
			c.logger.Debug("recovery request not sent", "err", err)
		}
	}
}

// cancelReconnect stops the automatic reconnection, if any. Runs on the
// loop.
func (c *Client) cancelReconnect() *reconnectRun {
	run := c.reconnect
	if run == nil {
		return nil
	}
	c.reconnect = nil
	run.cancel()
	return run
}

// waitReconnect blocks until every automatic reconnection has returned.
// Must not run on the loop.
func (c *Client) waitReconnect() {
	c.resumes.Wait()
}

// Reconnect resumes a session by cid on a fresh transport. Empty pin and
// cid default to the current session, then to the resume store. An
// automatic reconnection in progress is cancelled first. On success the
// session returns to the state it held, or to Joined when it was
// Disconnected.
func (c *Client) Reconnect(ctx context.Context, pin, cid string) error {
	ctx, span := c.startSpan(ctx, CommandReconnect)
	start := time.Now()
	err := c.reconnectTo(ctx, pin, cid)
	span.SetAttributes(attribute.String("pin", pin))
	c.finish(span, CommandReconnect, start, err)
	return err
}

func (c *Client) reconnectTo(ctx context.Context, pin, cid string) error {
	var auto *reconnectRun
	if err := c.do(func() error {
		auto = c.cancelReconnect()
		return nil
	}); err != nil {
		return err
	}
	if auto != nil {
		select {
		case <-auto.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := c.do(func() error {
		switch c.sess.State {
		case session.StateClosed:
			return session.ErrSessionClosed
		case session.StateConnecting:
			return fmt.Errorf("%w: reconnect while joining", ErrInvalidState)
		}
		if pin == "" {
			pin = c.sess.Pin
		}
		if cid == "" && pin == c.sess.Pin {
			cid = c.sess.CID
		}
		if cid == "" && c.cfg.Store != nil {
			if tok, ok := c.cfg.Store.Get(pin); ok {
				cid = tok.CID
				if c.sess.PlayerName == "" {
					c.sess.PlayerName = tok.PlayerName
				}
			}
		}
		if pin == "" || cid == "" {
			return fmt.Errorf("%w: reconnect needs a pin and cid", ErrInvalidArgument)
		}

		switch {
		case c.sess.State == session.StateDisconnected:
			c.transition(session.StateReconnecting)
		case c.sess.Connected():
			c.detach()
			c.pending.RejectAll(transport.ErrConnectionLost)
			c.sess.Suspend()
			c.metrics.StateChanged(session.StateReconnecting.String())
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := c.resumeOnce(ctx, pin, cid, nil); err != nil {
		c.do(func() error {
			if c.sess.State == session.StateReconnecting && c.reconnect == nil {
				c.transition(session.StateDisconnected)
			}
			return nil
		})
		c.logger.Warn("reconnect failed", "pin", pin, "err", err)
		return err
	}
	c.logger.Info("reconnected", "pin", pin)
	return nil
}
