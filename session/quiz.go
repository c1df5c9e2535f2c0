package session

import "time"

// QuizContext describes the quiz in progress. It only changes in response
// to question lifecycle messages.
type QuizContext struct {
	QuizType             string
	QuestionCount        int
	QuizQuestionAnswers  []int // number of choices per question
	CurrentQuestionIndex int
	GameBlockType        string
	GameBlockLayout      string
	TimeAvailable        time.Duration // answer window announced at QuestionStart
	TimeLeft             time.Duration // countdown announced at QuestionReady
	PointsMultiplier     int

	Open      bool      // question accepting answers
	Answered  bool      // an answer was submitted for the current question
	StartedAt time.Time // when the question opened, for elapsed-time scoring
}

// NewQuizContext resets the context for a starting quiz.
func NewQuizContext(quizType string, answers []int) *QuizContext {
	return &QuizContext{
		QuizType:             quizType,
		QuestionCount:        len(answers),
		QuizQuestionAnswers:  answers,
		CurrentQuestionIndex: -1,
		PointsMultiplier:     1,
	}
}

// Announce records a question about to start.
func (q *QuizContext) Announce(index int, blockType, layout string, timeLeft time.Duration) {
	q.CurrentQuestionIndex = index
	q.GameBlockType = blockType
	q.GameBlockLayout = layout
	q.TimeLeft = timeLeft
	q.Open = false
	q.Answered = false
}

// OpenQuestion marks the current question as accepting answers.
func (q *QuizContext) OpenQuestion(index int, blockType, layout string, available time.Duration, now time.Time) {
	if index != q.CurrentQuestionIndex {
		q.Answered = false
	}
	q.CurrentQuestionIndex = index
	if blockType != "" {
		q.GameBlockType = blockType
	}
	if layout != "" {
		q.GameBlockLayout = layout
	}
	q.TimeAvailable = available
	q.StartedAt = now
	q.Open = true
}

// CloseQuestion stops accepting answers for the current question.
func (q *QuizContext) CloseQuestion() {
	q.Open = false
}

// ChoiceCount returns the number of choices of the current question, or
// -1 when the quiz did not announce it.
func (q *QuizContext) ChoiceCount() int {
	i := q.CurrentQuestionIndex
	if i < 0 || i >= len(q.QuizQuestionAnswers) {
		return -1
	}
	return q.QuizQuestionAnswers[i]
}

// Elapsed returns how long the current question has been open.
func (q *QuizContext) Elapsed(now time.Time) time.Duration {
	if q.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(q.StartedAt)
}
