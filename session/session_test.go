package session

import (
	"testing"
	"time"
)

// TestNewSession checks that a fresh session starts disconnected and empty
func TestNewSession(t *testing.T) {
	s := New()

	if s.State != StateDisconnected {
		t.Errorf("expected StateDisconnected, got %v", s.State)
	}
	if s.Quiz != nil {
		t.Error("expected no quiz context before the quiz starts")
	}
	if s.ReconnectCount != 0 {
		t.Errorf("expected reconnect count 0, got %v", s.ReconnectCount)
	}
}

// TestHappyPath walks lobby → question cycle → podium → end
func TestHappyPath(t *testing.T) {
	s := New()

	steps := []State{
		StateConnecting,
		StateJoined,
		StateInGame,
		StateQuestionReady,
		StateQuestionStart,
		StateQuestionEnd,
		StateQuestionReady,
		StateQuestionStart,
		StateQuestionEnd,
		StatePodium,
		StateEnded,
	}
	for _, next := range steps {
		from := s.State
		if ok := s.Transition(next); !ok {
			t.Fatalf("%v → %v should be valid", from, next)
		}
	}
}

func TestTwoFactorPath(t *testing.T) {
	s := New()
	s.Transition(StateConnecting)

	if !s.Transition(StateAwaitingChallenge) {
		t.Fatal("connecting → awaiting challenge should be valid")
	}
	if s.Transition(StateInGame) {
		t.Error("awaiting challenge → in game should be invalid")
	}
	if !s.Transition(StateJoined) {
		t.Error("awaiting challenge → joined should be valid")
	}
}

// TestInvalidTransitions makes sure illegal jumps are blocked
func TestInvalidTransitions(t *testing.T) {
	s := New()

	// can't answer questions before joining
	if ok := s.Transition(StateQuestionStart); ok {
		t.Error("disconnected → question start should be invalid")
	}

	// can't re-enter the same state
	s.Transition(StateConnecting)
	if ok := s.Transition(StateConnecting); ok {
		t.Error("connecting → connecting should be invalid")
	}
}

// TestClosedIsTerminal makes sure nothing leaves Closed
func TestClosedIsTerminal(t *testing.T) {
	s := New()
	s.Transition(StateClosed)

	for next := StateDisconnected; next <= StateClosed; next++ {
		if s.Transition(next) {
			t.Errorf("closed → %v should be invalid", next)
		}
	}
	if !s.Terminal() {
		t.Error("expected Terminal() to be true")
	}
}

// TestEndedHasNoGameTransitions checks the quiz can't restart from Ended
func TestEndedHasNoGameTransitions(t *testing.T) {
	s := New()
	for _, st := range []State{StateConnecting, StateJoined, StateInGame, StateEnded} {
		s.Transition(st)
	}

	for _, next := range []State{StateJoined, StateInGame, StateQuestionReady, StatePodium} {
		if s.Transition(next) {
			t.Errorf("ended → %v should be invalid", next)
		}
	}
	if !s.Transition(StateClosed) {
		t.Error("ended → closed should be valid")
	}
}

func TestSuspendAndRestore(t *testing.T) {
	s := New()
	for _, st := range []State{StateConnecting, StateJoined, StateInGame, StateQuestionReady, StateQuestionStart} {
		s.Transition(st)
	}

	if !s.Suspend() {
		t.Fatal("expected a live session to suspend")
	}
	if s.State != StateReconnecting {
		t.Fatalf("expected StateReconnecting, got %v", s.State)
	}
	if s.Suspended() != StateQuestionStart {
		t.Errorf("expected to remember QuestionStart, got %v", s.Suspended())
	}

	if got := s.Restore(); got != StateQuestionStart {
		t.Errorf("expected restore to QuestionStart, got %v", got)
	}
	if s.ReconnectCount != 1 {
		t.Errorf("expected reconnect count 1, got %d", s.ReconnectCount)
	}
}

func TestSuspendRequiresConnection(t *testing.T) {
	s := New()
	if s.Suspend() {
		t.Error("a disconnected session must not suspend")
	}
}

func TestRestoreWithoutSuspendLandsInLobby(t *testing.T) {
	s := New()
	s.Transition(StateReconnecting)

	if got := s.Restore(); got != StateJoined {
		t.Errorf("expected Joined, got %v", got)
	}
}

func TestQuestionOpen(t *testing.T) {
	s := New()
	for _, st := range []State{StateConnecting, StateJoined, StateInGame} {
		s.Transition(st)
	}
	s.Quiz = NewQuizContext("quiz", []int{4, 2})

	if s.QuestionOpen() {
		t.Error("no question should be open yet")
	}

	s.Quiz.Announce(0, "quiz", "classic", 5*time.Second)
	s.Transition(StateQuestionReady)
	s.Quiz.OpenQuestion(0, "quiz", "classic", 20*time.Second, time.Now())
	s.Transition(StateQuestionStart)

	if !s.QuestionOpen() {
		t.Error("expected question to be open")
	}
	if s.Quiz.ChoiceCount() != 4 {
		t.Errorf("expected 4 choices, got %d", s.Quiz.ChoiceCount())
	}

	s.Quiz.CloseQuestion()
	if s.QuestionOpen() {
		t.Error("expected question to be closed after time over")
	}
}

func TestQuestionOpenFollowsQuizContext(t *testing.T) {
	s := New()
	s.Transition(StateConnecting)
	s.Transition(StateJoined)
	s.Quiz = NewQuizContext("", nil)
	s.Quiz.OpenQuestion(2, "quiz", "", 20*time.Second, time.Now())

	// joined late: the question is open though QuizStart never arrived
	if !s.QuestionOpen() {
		t.Error("expected an open question in Joined")
	}

	s.Suspend()
	if s.QuestionOpen() {
		t.Error("no answers while reconnecting")
	}
	s.Restore()

	s.Transition(StateInGame)
	s.Transition(StateEnded)
	if s.QuestionOpen() {
		t.Error("no answers once the quiz ended")
	}
}

func TestProgressRecord(t *testing.T) {
	var p PlayerProgress
	p.Record(1500, 2, &PointsData{
		QuestionPoints:     900,
		AnswerStreakPoints: StreakPoints{StreakLevel: 3},
	}, &Nemesis{Name: "Bob", TotalScore: 1600})

	if p.TotalScore != 1500 || p.Rank != 2 || p.Streak != 3 {
		t.Errorf("unexpected progress: %+v", p)
	}
	if p.Nemesis == nil || p.Nemesis.Name != "Bob" {
		t.Errorf("expected nemesis Bob, got %+v", p.Nemesis)
	}

	p.Reset()
	if p.TotalScore != 0 || p.PointsData != nil {
		t.Errorf("expected reset progress, got %+v", p)
	}
}

func TestStateString(t *testing.T) {
	if StateAwaitingChallenge.String() != "AwaitingChallenge" {
		t.Errorf("unexpected name %q", StateAwaitingChallenge.String())
	}
	if State(99).String() != "Unknown" {
		t.Errorf("unexpected name %q", State(99).String())
	}
}
