package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/risa-org/quizlink/correlator"
	"github.com/risa-org/quizlink/envelope"
	"github.com/risa-org/quizlink/events"
	"github.com/risa-org/quizlink/handshake"
	"github.com/risa-org/quizlink/session"
	"github.com/risa-org/quizlink/transport"
)

// errSkipped marks a command the client answered itself without sending.
var errSkipped = errors.New("skipped")

// startSpan opens the span for one command.
func (c *Client) startSpan(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "quizlink."+command,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// finish records a command's outcome on its span and in metrics.
func (c *Client) finish(span trace.Span, command string, start time.Time, err error) {
	c.metrics.RequestSettled(command, outcome(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// request runs prepare on the loop and, unless it fails, sends the
// controller command it describes and waits for the acknowledgement.
func (c *Client) request(ctx context.Context, command string, prepare func() (kind int, content any, err error)) (*envelope.Envelope, error) {
	var h *correlator.Handle
	err := c.do(func() error {
		if c.sess.State == session.StateClosed {
			return session.ErrSessionClosed
		}
		kind, content, err := prepare()
		if err != nil {
			return err
		}
		if c.sender == nil || !c.sess.Connected() {
			if c.sess.State == session.StateReconnecting {
				return transport.ErrConnectionLost
			}
			return fmt.Errorf("%w: %s while %s", ErrInvalidState, command, c.sess.State)
		}
		data, err := handshake.Command(c.sess.Pin, kind, content)
		if err != nil {
			return err
		}
		env, handle, err := c.sender.Request(envelope.ChannelController, data, nil, c.cfg.timeout(command))
		if err != nil {
			return err
		}
		c.sent(env)
		h = handle
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Join reserves a seat in game pin, opens the transport, performs the
// handshake and logs in as name. A non-nil team is sent once the player
// is admitted. When the game demands two-factor authentication the
// returned data carries Challenge and no Joined event fires until the
// challenge is answered correctly.
func (c *Client) Join(ctx context.Context, pin, name string, team []string) (*JoinedData, error) {
	ctx, span := c.startSpan(ctx, CommandJoin, attribute.String("pin", pin), attribute.String("name", name))
	start := time.Now()
	jd, err := c.join(ctx, pin, name, team)
	c.finish(span, CommandJoin, start, err)
	return jd, err
}

func (c *Client) join(ctx context.Context, pin, name string, team []string) (*JoinedData, error) {
	pin, name = strings.TrimSpace(pin), strings.TrimSpace(name)
	if pin == "" || name == "" {
		return nil, fmt.Errorf("%w: pin and name are required", ErrInvalidArgument)
	}

	err := c.do(func() error {
		if c.sess.State != session.StateDisconnected {
			return fmt.Errorf("%w: join while %s", ErrInvalidState, c.sess.State)
		}
		c.transition(session.StateConnecting)
		c.sess.Pin, c.sess.PlayerName = pin, name
		c.sess.CID, c.sess.ParticipantID = "", ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*JoinedData, error) {
		c.do(func() error {
			c.detach()
			c.pending.RejectAll(transport.ErrConnectionLost)
			c.transition(session.StateDisconnected)
			return nil
		})
		c.logger.Warn("join failed", "pin", pin, "err", err)
		return nil, err
	}

	adapter, err := c.open(ctx, pin, false)
	if err != nil {
		return fail(err)
	}
	var gen uint64
	if err := c.do(func() error {
		gen = c.attach(adapter)
		return nil
	}); err != nil {
		adapter.Close()
		return nil, err
	}

	h := handshake.NewHandler(conn{c: c, gen: gen}, c.cfg.timeout(CommandJoin))
	res, err := h.Join(ctx, handshake.Login{Pin: pin, Name: name, UserAgent: c.cfg.UserAgent})
	if err != nil {
		return fail(err)
	}

	var jd *JoinedData
	err = c.do(func() error {
		if c.gen != gen {
			return transport.ErrConnectionLost
		}
		jd = c.admit(res.Login, team)
		return nil
	})
	if err != nil {
		return fail(err)
	}
	c.logger.Info("joined", "pin", pin, "name", name, "two_factor", jd.TwoFactorAuth)

	if team != nil && !jd.TwoFactorAuth && c.cfg.Modules.TeamAccept {
		if _, err := c.JoinTeam(ctx, team); err != nil {
			return jd, err
		}
	}
	return jd, nil
}

// admit applies a successful login. Runs on the loop.
func (c *Client) admit(lr *handshake.LoginResult, team []string) *JoinedData {
	c.sess.ParticipantID = lr.ParticipantID
	c.sess.CID = lr.CID
	if c.sess.CID == "" {
		c.sess.CID = lr.ParticipantID
	}
	c.sess.GameMode = lr.GameMode
	c.sess.JoinedAt = time.Now()
	c.sess.Team = team

	jd := &JoinedData{
		ParticipantID: lr.ParticipantID,
		CID:           c.sess.CID,
		Namerator:     lr.Namerator,
		SmartPractice: lr.SmartPractice,
		TwoFactorAuth: lr.TwoFactorAuth,
		GameMode:      lr.GameMode,
	}
	c.joined = jd

	if lr.TwoFactorAuth {
		jd.Challenge = c.AnswerTwoFactorAuth
		c.sess.TwoFactorPending = true
		c.transition(session.StateAwaitingChallenge)
		if team != nil && c.cfg.Modules.TeamAccept {
			c.pendingTeam = team
		}
		return jd
	}

	c.transition(session.StateJoined)
	c.saveResume()
	c.emit(events.Joined, jd)
	c.afterJoin()
	return jd
}

// JoinTeam sends the team member names. With the TeamAccept module on it
// also waits for the server to accept the team.
func (c *Client) JoinTeam(ctx context.Context, team []string) (*envelope.Envelope, error) {
	ctx, span := c.startSpan(ctx, CommandJoinTeam, attribute.Int("members", len(team)))
	start := time.Now()

	var accepted *correlator.Handle
	env, err := c.request(ctx, CommandJoinTeam, func() (int, any, error) {
		if c.sess.State != session.StateJoined {
			return 0, nil, fmt.Errorf("%w: team can only be sent from the lobby", ErrInvalidState)
		}
		members := team
		if len(members) == 0 {
			members = []string{c.sess.PlayerName}
		}
		if c.cfg.Modules.TeamAccept && c.sender != nil {
			c.teamSeq++
			id := "team-accept-" + strconv.Itoa(c.teamSeq)
			h, err := c.pending.Register(id, c.cfg.timeout(CommandJoinTeam))
			if err != nil {
				return 0, nil, err
			}
			c.teamWait, accepted = id, h
		}
		return handshake.KindTeamMembers, members, nil
	})
	if accepted != nil {
		if err == nil {
			_, err = accepted.Wait(ctx)
		}
		if err != nil {
			id := accepted.ID()
			c.pending.Discard(id, err)
			c.post(func() {
				if c.teamWait == id {
					c.teamWait = ""
				}
			})
		}
	}

	c.finish(span, CommandJoinTeam, start, err)
	return env, err
}

// Answer answers the open question. choice is an int (one choice), an
// []int (several choices) or a string (open ended). Without an open
// question, or for a question already answered, it fails locally and
// nothing is sent. In challenges with auto continue, content blocks take
// no answer and Answer returns nil, nil.
func (c *Client) Answer(ctx context.Context, choice any) (*envelope.Envelope, error) {
	ctx, span := c.startSpan(ctx, CommandAnswer)
	start := time.Now()

	var index int
	env, err := c.request(ctx, CommandAnswer, func() (int, any, error) {
		if !c.cfg.Modules.Answer {
			return 0, nil, ErrModuleDisabled
		}
		if !c.sess.QuestionOpen() {
			return 0, nil, ErrNoOpenQuestion
		}
		q := c.sess.Quiz
		if q.Answered {
			return 0, nil, ErrAlreadyAnswered
		}
		if c.autoContinue() && q.GameBlockType == blockTypeContent {
			return 0, nil, errSkipped
		}
		if !validChoice(choice) {
			return 0, nil, fmt.Errorf("%w: choice must be an int, []int or string, got %T", ErrInvalidArgument, choice)
		}

		index = q.CurrentQuestionIndex
		content := answerContent{
			Choice:        choice,
			QuestionIndex: index,
			Meta:          answerMeta{Lag: c.lag.Milliseconds()},
		}
		if c.sess.GameMode == gameModeChallenge {
			now := c.codec.Clock().Now()
			challengeScore(c.cfg.Options, &content.Meta, q.Elapsed(now), q.TimeAvailable, c.sess.Progress.Streak)
		}
		q.Answered = true
		return handshake.KindAnswer, content, nil
	})
	if errors.Is(err, errSkipped) {
		span.SetAttributes(attribute.Bool("skipped", true))
		c.finish(span, CommandAnswer, start, nil)
		return nil, nil
	}
	if errors.Is(err, transport.ErrConnectionLost) || errors.Is(err, transport.ErrTransportClosed) {
		// the server may never have seen it
		c.post(func() {
			if q := c.sess.Quiz; q != nil && q.CurrentQuestionIndex == index {
				q.Answered = false
			}
		})
	}
	span.SetAttributes(attribute.Int("question", index))
	c.finish(span, CommandAnswer, start, err)
	return env, err
}

// AnswerTwoFactorAuth answers the two-factor challenge with the order in
// which the four shapes were tapped. nil steps sends 0,1,2,3.
func (c *Client) AnswerTwoFactorAuth(ctx context.Context, steps []int) (*envelope.Envelope, error) {
	ctx, span := c.startSpan(ctx, CommandTwoFactor)
	start := time.Now()

	if steps == nil {
		steps = []int{0, 1, 2, 3}
	}
	env, err := c.request(ctx, CommandTwoFactor, func() (int, any, error) {
		if !c.sess.TwoFactorPending {
			return 0, nil, fmt.Errorf("%w: no two-factor challenge pending", ErrInvalidState)
		}
		seq, err := twoFactorSequence(steps)
		if err != nil {
			return 0, nil, err
		}
		return handshake.KindTwoFactor, map[string]string{"sequence": seq}, nil
	})
	c.finish(span, CommandTwoFactor, start, err)
	return env, err
}

func twoFactorSequence(steps []int) (string, error) {
	if len(steps) != 4 {
		return "", fmt.Errorf("%w: two-factor needs 4 steps, got %d", ErrInvalidArgument, len(steps))
	}
	var seen [4]bool
	var b strings.Builder
	for _, s := range steps {
		if s < 0 || s > 3 || seen[s] {
			return "", fmt.Errorf("%w: two-factor steps must be a permutation of 0-3", ErrInvalidArgument)
		}
		seen[s] = true
		b.WriteString(strconv.Itoa(s))
	}
	return b.String(), nil
}

type feedbackContent struct {
	TotalScore int    `json:"totalScore"`
	Fun        int    `json:"fun"`
	Learning   int    `json:"learning"`
	Recommend  int    `json:"recommend"`
	Overall    int    `json:"overall"`
	Nickname   string `json:"nickname"`
}

// SendFeedback rates the quiz: fun 1 to 5, learn and recommend 0 or 1,
// overall -1, 0 or 1. Out of range values fail locally.
func (c *Client) SendFeedback(ctx context.Context, fun, learn, recommend, overall int) (*envelope.Envelope, error) {
	ctx, span := c.startSpan(ctx, CommandFeedback)
	start := time.Now()

	env, err := c.request(ctx, CommandFeedback, func() (int, any, error) {
		switch {
		case fun < 1 || fun > 5:
			return 0, nil, fmt.Errorf("%w: fun must be 1-5, got %d", ErrInvalidArgument, fun)
		case learn != 0 && learn != 1:
			return 0, nil, fmt.Errorf("%w: learn must be 0 or 1, got %d", ErrInvalidArgument, learn)
		case recommend != 0 && recommend != 1:
			return 0, nil, fmt.Errorf("%w: recommend must be 0 or 1, got %d", ErrInvalidArgument, recommend)
		case overall < -1 || overall > 1:
			return 0, nil, fmt.Errorf("%w: overall must be -1, 0 or 1, got %d", ErrInvalidArgument, overall)
		}
		return handshake.KindFeedback, feedbackContent{
			TotalScore: c.sess.Progress.TotalScore,
			Fun:        fun,
			Learning:   learn,
			Recommend:  recommend,
			Overall:    overall,
			Nickname:   c.sess.PlayerName,
		}, nil
	})
	c.finish(span, CommandFeedback, start, err)
	return env, err
}

// Next asks a challenge to move on. Nothing waits for an answer.
func (c *Client) Next() error {
	return c.do(func() error {
		if !c.sess.Connected() {
			return fmt.Errorf("%w: next while %s", ErrInvalidState, c.sess.State)
		}
		return c.publishCommand(handshake.KindNext, nil)
	})
}
