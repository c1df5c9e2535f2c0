package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/risa-org/quizlink/envelope"
	"github.com/risa-org/quizlink/events"
	"github.com/risa-org/quizlink/handshake"
	"github.com/risa-org/quizlink/session"
	"github.com/risa-org/quizlink/transport"
)

// playerHandler handles one kind of /service/player message. enabled
// reports whether the module owning the kind is on; nil means always.
type playerHandler struct {
	enabled func(Modules) bool
	handle  func(c *Client, m *handshake.PlayerMessage) error
}

var playerHandlers map[int]playerHandler

func init() {
	playerHandlers = map[int]playerHandler{
		kindQuestionReady:    {func(m Modules) bool { return m.QuestionReady }, (*Client).onQuestionReady},
		kindQuestionStart:    {func(m Modules) bool { return m.QuestionStart }, (*Client).onQuestionStart},
		kindQuizEnd:          {func(m Modules) bool { return m.QuizEnd }, (*Client).onQuizEnd},
		kindTimeOver:         {func(m Modules) bool { return m.TimeOver }, (*Client).onTimeOver},
		kindGameReset:        {func(m Modules) bool { return m.GameReset }, (*Client).onGameReset},
		kindQuestionEnd:      {func(m Modules) bool { return m.QuestionEnd }, (*Client).onQuestionEnd},
		kindQuizStart:        {func(m Modules) bool { return m.QuizStart }, (*Client).onQuizStart},
		kindKicked:           {nil, (*Client).onKicked},
		kindFeedback:         {func(m Modules) bool { return m.Feedback }, (*Client).onFeedback},
		kindPodium:           {func(m Modules) bool { return m.Podium }, (*Client).onPodium},
		kindNameAccept:       {func(m Modules) bool { return m.NameAccept }, (*Client).onNameAccept},
		kindRecoveryData:     {func(m Modules) bool { return m.Reconnect || m.Backup }, (*Client).onRecoveryData},
		kindTeamAccept:       {func(m Modules) bool { return m.TeamAccept }, (*Client).onTeamAccept},
		kindTeamTalk:         {func(m Modules) bool { return m.TeamTalk }, (*Client).onTeamTalk},
		kindTwoFactorWrong:   {nil, (*Client).onTwoFactorWrong},
		kindTwoFactorCorrect: {nil, (*Client).onTwoFactorCorrect},
		kindTwoFactorReset:   {nil, (*Client).onTwoFactorReset},
	}
}

// handleFrame processes one inbound frame in order. Runs on the loop.
func (c *Client) handleFrame(msg transport.Message) {
	envs, err := envelope.Decode(msg.Payload)
	if err != nil {
		c.metrics.MalformedFrame()
		c.logger.Warn("dropping malformed frame", "err", err)
	}
	for _, env := range envs {
		c.metrics.FrameReceived(env.Channel)
		if env.Channel == envelope.ChannelPlayer {
			// counted before any module decides to ignore it
			c.acks.Observe()
			c.onPlayer(env)
			continue
		}
		if c.pending.Settle(env) {
			c.metrics.SetPending(c.pending.Pending())
			if env.Channel == envelope.ChannelConnect {
				c.scheduleConnect(env.Advice)
			}
			continue
		}
		c.route(env)
	}
}

// route handles envelopes that answer nothing outstanding.
func (c *Client) route(env *envelope.Envelope) {
	switch env.Channel {
	case envelope.ChannelConnect:
		c.scheduleConnect(env.Advice)
	case envelope.ChannelStatus:
		var st struct {
			Status string `json:"status"`
		}
		if env.DecodeData(&st) == nil {
			c.logger.Info("game status", "pin", c.sess.Pin, "status", st.Status)
		}
	case envelope.ChannelDisconnect:
		c.logger.Info("server ended the bayeux session", "pin", c.sess.Pin)
	default:
		c.logger.Debug("unmatched envelope", "channel", env.Channel, "id", env.ID)
	}
}

func (c *Client) onPlayer(env *envelope.Envelope) {
	m, err := handshake.ParsePlayer(env)
	if err != nil {
		c.metrics.MalformedFrame()
		c.logger.Warn("dropping player message", "err", err)
		return
	}
	h, ok := playerHandlers[m.ID]
	if !ok {
		c.logger.Debug("unhandled player message", "kind", m.ID)
		return
	}
	if h.enabled != nil && !h.enabled(c.cfg.Modules) {
		return
	}
	if err := h.handle(c, m); err != nil {
		if errors.Is(err, envelope.ErrMalformedFrame) {
			c.metrics.MalformedFrame()
		}
		c.logger.Warn("handling player message", "kind", m.ID, "err", err)
	}
}

func (c *Client) raw(m *handshake.PlayerMessage) json.RawMessage {
	if !c.cfg.Modules.ExtraData {
		return nil
	}
	return m.Raw()
}

func (c *Client) ensureQuiz(answers []int) *session.QuizContext {
	if c.sess.Quiz == nil {
		c.sess.Quiz = session.NewQuizContext("", answers)
	}
	if len(answers) > 0 {
		c.sess.Quiz.QuizQuestionAnswers = answers
		c.sess.Quiz.QuestionCount = len(answers)
	}
	return c.sess.Quiz
}

func (c *Client) onQuizStart(m *handshake.PlayerMessage) error {
	var d QuizStartData
	if err := m.Decode(&d); err != nil {
		return err
	}
	d.Raw = c.raw(m)
	c.sess.Quiz = session.NewQuizContext(d.QuizType, d.QuizQuestionAnswers)
	c.sess.Progress.Reset()
	c.transition(session.StateInGame)
	c.emit(events.QuizStart, &d)
	return nil
}

func (c *Client) onQuestionReady(m *handshake.PlayerMessage) error {
	var d QuestionReadyData
	if err := m.Decode(&d); err != nil {
		return err
	}
	d.Raw = c.raw(m)
	q := c.ensureQuiz(d.QuizQuestionAnswers)
	q.Announce(d.QuestionIndex, d.GameBlockType, d.GameBlockLayout, time.Duration(d.TimeLeft)*time.Millisecond)
	c.enterGame()
	c.transition(session.StateQuestionReady)
	c.emit(events.QuestionReady, &d)
	return nil
}

func (c *Client) onQuestionStart(m *handshake.PlayerMessage) error {
	var d QuestionStartData
	if err := m.Decode(&d); err != nil {
		return err
	}
	d.Raw = c.raw(m)
	q := c.ensureQuiz(d.QuizQuestionAnswers)
	q.OpenQuestion(d.QuestionIndex, d.GameBlockType, d.GameBlockLayout,
		time.Duration(d.TimeAvailable)*time.Millisecond, c.codec.Clock().Now())
	c.enterGame()
	c.transition(session.StateQuestionStart)
	c.emit(events.QuestionStart, &d)

	if c.autoContinue() && q.GameBlockType == blockTypeContent {
		c.next()
	}
	return nil
}

// enterGame moves a session that never saw QuizStart into the game, as
// after a late join or with the QuizStart module off.
func (c *Client) enterGame() {
	if c.sess.State == session.StateJoined {
		c.transition(session.StateInGame)
	}
}

func (c *Client) onTimeOver(m *handshake.PlayerMessage) error {
	var d TimeOverData
	if err := m.Decode(&d); err != nil {
		return err
	}
	d.Raw = c.raw(m)
	if c.sess.Quiz != nil {
		c.sess.Quiz.CloseQuestion()
	}
	c.emit(events.TimeOver, &d)
	return nil
}

func (c *Client) onQuestionEnd(m *handshake.PlayerMessage) error {
	var d QuestionEndData
	if err := m.Decode(&d); err != nil {
		return err
	}
	d.Raw = c.raw(m)
	if c.sess.Quiz != nil {
		c.sess.Quiz.CloseQuestion()
	}
	c.sess.Progress.Record(d.TotalScore, d.Rank, d.PointsData, d.Nemesis)
	c.enterGame()
	c.transition(session.StateQuestionEnd)
	c.emit(events.QuestionEnd, &d)

	if c.autoContinue() && !c.cfg.Options.ChallengeWaitForInput {
		c.next()
	}
	return nil
}

func (c *Client) onQuizEnd(m *handshake.PlayerMessage) error {
	var d QuizEndData
	if err := m.Decode(&d); err != nil {
		return err
	}
	d.Raw = c.raw(m)
	if d.TotalScore != 0 || d.Rank != 0 {
		c.sess.Progress.TotalScore = d.TotalScore
		c.sess.Progress.Rank = d.Rank
	}
	c.sess.Quiz = nil
	c.transition(session.StateEnded)
	c.emit(events.QuizEnd, &d)
	return nil
}

func (c *Client) onPodium(m *handshake.PlayerMessage) error {
	var p podiumContent
	if err := m.Decode(&p); err != nil {
		return err
	}
	medal := MedalNone
	if p.PodiumMedalType != nil {
		medal = Medal(*p.PodiumMedalType)
	}
	c.transition(session.StatePodium)
	c.emit(events.Podium, medal)
	return nil
}

func (c *Client) onGameReset(m *handshake.PlayerMessage) error {
	if c.sess.State == session.StateEnded {
		// Ended is final; the result of the finished quiz stands
		c.emit(events.GameReset, nil)
		return nil
	}
	c.sess.Quiz = nil
	c.sess.Progress.Reset()
	c.transition(session.StateJoined)
	c.emit(events.GameReset, nil)
	return nil
}

func (c *Client) onKicked(m *handshake.PlayerMessage) error {
	c.kicked()
	return nil
}

func (c *Client) onFeedback(m *handshake.PlayerMessage) error {
	var d FeedbackData
	if err := m.Decode(&d); err != nil {
		return err
	}
	d.Raw = c.raw(m)
	c.emit(events.Feedback, &d)
	return nil
}

func (c *Client) onNameAccept(m *handshake.PlayerMessage) error {
	var d NameAcceptData
	if err := m.Decode(&d); err != nil {
		return err
	}
	d.Raw = c.raw(m)
	if d.PlayerName != "" {
		c.sess.PlayerName = d.PlayerName
	}
	c.emit(events.NameAccept, &d)
	return nil
}

func (c *Client) onTeamAccept(m *handshake.PlayerMessage) error {
	var d TeamAcceptData
	if err := m.Decode(&d); err != nil {
		return err
	}
	d.Raw = c.raw(m)
	if len(d.MemberNames) > 0 {
		c.sess.Team = d.MemberNames
	}
	if c.teamWait != "" {
		c.pending.Resolve(c.teamWait, &envelope.Envelope{Channel: envelope.ChannelPlayer, ID: c.teamWait, Data: m.Raw()})
		c.teamWait = ""
	}
	c.emit(events.TeamAccept, &d)
	return nil
}

func (c *Client) onTeamTalk(m *handshake.PlayerMessage) error {
	var d TeamTalkData
	if err := m.Decode(&d); err != nil {
		return err
	}
	d.Raw = c.raw(m)
	q := c.ensureQuiz(d.QuizQuestionAnswers)
	q.Announce(d.QuestionIndex, d.GameBlockType, d.GameBlockLayout, time.Duration(d.TeamTalkDuration)*time.Millisecond)
	c.emit(events.TeamTalk, &d)
	return nil
}

func (c *Client) onRecoveryData(m *handshake.PlayerMessage) error {
	var d RecoveryData
	if err := m.Decode(&d); err != nil {
		return err
	}
	d.Raw = m.Raw()

	if c.cfg.Modules.Reconnect {
		if len(d.DefaultQuizData.QuizQuestionAnswers) > 0 {
			q := c.ensureQuiz(d.DefaultQuizData.QuizQuestionAnswers)
			if q.QuizType == "" {
				q.QuizType = d.DefaultQuizData.QuizType
			}
		}
		if st, ok := recoveryStates[d.State]; ok && st != c.sess.State && c.sess.Connected() {
			if st != session.StateJoined {
				c.enterGame()
			}
			c.transition(st)
		}
		if err := c.recoverQuestion(&d); err != nil {
			return err
		}
	}
	if c.cfg.Modules.Backup {
		c.emit(events.RecoveryData, &d)
	}
	return nil
}

// recoverQuestion rebuilds the current question from the recovery
// snapshot and replays the event the player missed.
func (c *Client) recoverQuestion(d *RecoveryData) error {
	if len(d.Data) == 0 || (d.State != recoveryQuestionReady && d.State != recoveryQuestionStart) {
		return nil
	}
	var raw json.RawMessage
	if c.cfg.Modules.ExtraData {
		raw = d.Data
	}

	if d.State == recoveryQuestionReady {
		var qr QuestionReadyData
		if err := json.Unmarshal(d.Data, &qr); err != nil {
			return fmt.Errorf("%w: recovery question: %v", envelope.ErrMalformedFrame, err)
		}
		qr.Raw = raw
		q := c.ensureQuiz(qr.QuizQuestionAnswers)
		q.Announce(qr.QuestionIndex, qr.GameBlockType, qr.GameBlockLayout, time.Duration(qr.TimeLeft)*time.Millisecond)
		if c.cfg.Modules.QuestionReady {
			c.emit(events.QuestionReady, &qr)
		}
		return nil
	}

	var qs QuestionStartData
	if err := json.Unmarshal(d.Data, &qs); err != nil {
		return fmt.Errorf("%w: recovery question: %v", envelope.ErrMalformedFrame, err)
	}
	qs.Raw = raw
	q := c.ensureQuiz(qs.QuizQuestionAnswers)
	q.OpenQuestion(qs.QuestionIndex, qs.GameBlockType, qs.GameBlockLayout,
		time.Duration(qs.TimeAvailable)*time.Millisecond, c.codec.Clock().Now())
	if c.cfg.Modules.QuestionStart {
		c.emit(events.QuestionStart, &qs)
	}
	return nil
}

func (c *Client) onTwoFactorWrong(m *handshake.PlayerMessage) error {
	c.emit(events.TwoFactorWrong, nil)
	return nil
}

func (c *Client) onTwoFactorReset(m *handshake.PlayerMessage) error {
	c.emit(events.TwoFactorReset, nil)
	return nil
}

func (c *Client) onTwoFactorCorrect(m *handshake.PlayerMessage) error {
	if !c.sess.TwoFactorPending {
		c.emit(events.TwoFactorCorrect, nil)
		return nil
	}
	c.sess.TwoFactorPending = false
	c.transition(session.StateJoined)
	c.emit(events.TwoFactorCorrect, nil)
	if c.joined != nil {
		c.emit(events.Joined, c.joined)
	}
	c.saveResume()
	c.afterJoin()
	return nil
}

// afterJoin sends what a fresh player sends once admitted. Runs on the loop.
func (c *Client) afterJoin() {
	if c.cfg.Modules.Backup {
		if err := c.publishCommand(handshake.KindRecoveryRequest, nil); err != nil {
			c.logger.Debug("recovery request not sent", "err", err)
		}
	}
	if team := c.pendingTeam; team != nil {
		c.pendingTeam = nil
		if err := c.publishCommand(handshake.KindTeamMembers, team); err != nil {
			c.logger.Warn("team not sent", "err", err)
		}
	}
}

func (c *Client) autoContinue() bool {
	return c.sess.GameMode == gameModeChallenge && c.cfg.Options.ChallengeAutoContinue
}

// next advances a challenge. Runs on the loop.
func (c *Client) next() {
	if err := c.publishCommand(handshake.KindNext, nil); err != nil {
		c.logger.Debug("next not sent", "err", err)
	}
}
