package client

import "github.com/risa-org/quizlink/events"

// On registers fn for every emission of name. The returned func removes
// it. Listeners run on the client's event goroutine, one at a time, in
// emission order, and may call any client method.
func (c *Client) On(name events.Name, fn events.Listener) (off func()) {
	return c.bus.On(name, fn)
}

// Once is On for a single delivery.
func (c *Client) Once(name events.Name, fn events.Listener) (off func()) {
	return c.bus.Once(name, fn)
}

// Off removes every listener for name.
func (c *Client) Off(name events.Name) {
	c.bus.Off(name)
}

// Events is closed once every event, the final Disconnect included, has
// been delivered.
func (c *Client) Events() <-chan struct{} {
	return c.bus.Done()
}

func (c *Client) OnJoined(fn func(*JoinedData)) func() {
	return events.Subscribe(c.bus, events.Joined, fn)
}

// OnDisconnect receives the reason: "Session Ended" after Leave,
// "Kicked", or why the connection could not be restored.
func (c *Client) OnDisconnect(fn func(reason string)) func() {
	return events.Subscribe(c.bus, events.Disconnect, fn)
}

func (c *Client) OnQuizStart(fn func(*QuizStartData)) func() {
	return events.Subscribe(c.bus, events.QuizStart, fn)
}

func (c *Client) OnQuestionReady(fn func(*QuestionReadyData)) func() {
	return events.Subscribe(c.bus, events.QuestionReady, fn)
}

func (c *Client) OnQuestionStart(fn func(*QuestionStartData)) func() {
	return events.Subscribe(c.bus, events.QuestionStart, fn)
}

func (c *Client) OnQuestionEnd(fn func(*QuestionEndData)) func() {
	return events.Subscribe(c.bus, events.QuestionEnd, fn)
}

func (c *Client) OnTimeOver(fn func(*TimeOverData)) func() {
	return events.Subscribe(c.bus, events.TimeOver, fn)
}

func (c *Client) OnQuizEnd(fn func(*QuizEndData)) func() {
	return events.Subscribe(c.bus, events.QuizEnd, fn)
}

func (c *Client) OnPodium(fn func(Medal)) func() {
	return events.Subscribe(c.bus, events.Podium, fn)
}

func (c *Client) OnFeedback(fn func(*FeedbackData)) func() {
	return events.Subscribe(c.bus, events.Feedback, fn)
}

func (c *Client) OnNameAccept(fn func(*NameAcceptData)) func() {
	return events.Subscribe(c.bus, events.NameAccept, fn)
}

func (c *Client) OnTeamAccept(fn func(*TeamAcceptData)) func() {
	return events.Subscribe(c.bus, events.TeamAccept, fn)
}

func (c *Client) OnTeamTalk(fn func(*TeamTalkData)) func() {
	return events.Subscribe(c.bus, events.TeamTalk, fn)
}

func (c *Client) OnRecoveryData(fn func(*RecoveryData)) func() {
	return events.Subscribe(c.bus, events.RecoveryData, fn)
}

// The remaining events carry no payload.

func (c *Client) OnGameReset(fn func()) func() {
	return c.bus.On(events.GameReset, func(any) { fn() })
}

func (c *Client) OnTwoFactorCorrect(fn func()) func() {
	return c.bus.On(events.TwoFactorCorrect, func(any) { fn() })
}

func (c *Client) OnTwoFactorWrong(fn func()) func() {
	return c.bus.On(events.TwoFactorWrong, func(any) { fn() })
}

func (c *Client) OnTwoFactorReset(fn func()) func() {
	return c.bus.On(events.TwoFactorReset, func(any) { fn() })
}
