package session

import (
	"errors"
	"time"
)

// ErrSessionClosed is the rejection for anything still pending when the
// client leaves, and for every command issued afterwards.
var ErrSessionClosed = errors.New("session closed")

// State represents where the session is in its lifecycle.
type State int

const (
	StateDisconnected      State = iota // 0 - no transport; join or reconnect allowed
	StateConnecting                     // 1 - transport opening, handshake and login in flight
	StateAwaitingChallenge              // 2 - login accepted, two-factor answer required
	StateJoined                         // 3 - in the lobby
	StateInGame                         // 4 - quiz started, between questions
	StateQuestionReady                  // 5 - next question announced
	StateQuestionStart                  // 6 - question open for answers
	StateQuestionEnd                    // 7 - result for the last question received
	StatePodium                         // 8 - final ranking announced
	StateEnded                          // 9 - quiz over, terminal for game progress
	StateReconnecting                   // 10 - transport lost, resume in progress
	StateClosed                         // 11 - explicit leave, terminal
)

var stateNames = [...]string{
	"Disconnected",
	"Connecting",
	"AwaitingChallenge",
	"Joined",
	"InGame",
	"QuestionReady",
	"QuestionStart",
	"QuestionEnd",
	"Podium",
	"Ended",
	"Reconnecting",
	"Closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Session is the client's view of its seat in one game.
// It is owned by a single client loop and is not safe for concurrent use.
type Session struct {
	State            State
	Pin              string
	PlayerName       string
	ParticipantID    string
	CID              string // resume identifier, stable across reconnects
	Team             []string
	TwoFactorPending bool
	GameMode         string
	ReconnectCount   int // how many times this session has resumed
	JoinedAt         time.Time
	LastActiveAt     time.Time

	Quiz     *QuizContext // nil outside a running quiz
	Progress PlayerProgress

	suspended State // state held when the transport was lost
}

// New creates a disconnected session.
func New() *Session {
	return &Session{
		State:        StateDisconnected,
		LastActiveAt: time.Now(),
	}
}

// Transition moves the session to a new state.
// Not all transitions are valid; this enforces the rules.
func (s *Session) Transition(next State) bool {
	if !isValidTransition(s.State, next) {
		return false
	}
	s.State = next
	if next == StateDisconnected || next == StateClosed {
		s.suspended = StateDisconnected
	}
	s.LastActiveAt = time.Now()
	return true
}

// Suspend moves a live session to Reconnecting and remembers where it was.
// Returns false for sessions that are not connected.
func (s *Session) Suspend() bool {
	if !s.Connected() {
		return false
	}
	s.suspended = s.State
	s.State = StateReconnecting
	s.LastActiveAt = time.Now()
	return true
}

// Restore returns a Reconnecting session to the state it held when it was
// suspended. A session that was never suspended (explicit reconnect from
// Disconnected) lands in Joined.
func (s *Session) Restore() State {
	next := s.suspended
	if next == StateDisconnected || next == StateConnecting {
		next = StateJoined
	}
	s.State = next
	s.suspended = StateDisconnected
	s.ReconnectCount++
	s.LastActiveAt = time.Now()
	return next
}

// Suspended returns the state that Restore would return to.
func (s *Session) Suspended() State {
	return s.suspended
}

// Connected reports whether the session holds a live, logged-in transport.
func (s *Session) Connected() bool {
	switch s.State {
	case StateAwaitingChallenge, StateJoined, StateInGame, StateQuestionReady,
		StateQuestionStart, StateQuestionEnd, StatePodium, StateEnded:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s *Session) Terminal() bool {
	return s.State == StateClosed
}

// QuestionOpen reports whether an answer may be submitted right now: a
// question is open in the quiz context and the player is admitted to a
// quiz that has not ended.
func (s *Session) QuestionOpen() bool {
	if s.Quiz == nil || !s.Quiz.Open {
		return false
	}
	switch s.State {
	case StateAwaitingChallenge, StateEnded:
		return false
	}
	return s.Connected()
}

// ResumeToken captures what a later reconnect needs.
func (s *Session) ResumeToken() ResumeToken {
	return ResumeToken{
		Pin:           s.Pin,
		CID:           s.CID,
		PlayerName:    s.PlayerName,
		ParticipantID: s.ParticipantID,
		SavedAt:       time.Now(),
	}
}

// isValidTransition defines which state changes are legal.
// Closed is terminal. Reconnecting only leaves through Restore, or to
// Disconnected/Closed when the resume fails.
func isValidTransition(from, to State) bool {
	inGame := []State{StateQuestionReady, StateQuestionStart, StateQuestionEnd, StateInGame,
		StatePodium, StateEnded, StateJoined, StateReconnecting, StateDisconnected, StateClosed}

	allowed := map[State][]State{
		StateDisconnected:      {StateConnecting, StateReconnecting, StateClosed},
		StateConnecting:        {StateAwaitingChallenge, StateJoined, StateDisconnected, StateClosed},
		StateAwaitingChallenge: {StateJoined, StateReconnecting, StateDisconnected, StateClosed},
		StateJoined:            {StateInGame, StateReconnecting, StateDisconnected, StateClosed},
		StateInGame:            inGame,
		StateQuestionReady:     inGame,
		StateQuestionStart:     inGame,
		StateQuestionEnd:       inGame,
		StatePodium:            {StateEnded, StateJoined, StateReconnecting, StateDisconnected, StateClosed},
		StateEnded:             {StateReconnecting, StateDisconnected, StateClosed},
		StateReconnecting:      {StateDisconnected, StateClosed},
		StateClosed:            {}, // terminal, no exits
	}

	for _, valid := range allowed[from] {
		if to == valid && to != from {
			return true
		}
	}
	return false
}
