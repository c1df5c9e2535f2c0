package client

import (
	"context"
	"encoding/json"

	"github.com/risa-org/quizlink/envelope"
	"github.com/risa-org/quizlink/session"
)

// Event payloads. Raw holds the message content as received when the
// ExtraData module is on.

// JoinedData is returned by Join and carried by the Joined event.
type JoinedData struct {
	ParticipantID string
	CID           string
	Namerator     bool
	SmartPractice bool
	TwoFactorAuth bool
	GameMode      string

	// Challenge answers the two-factor challenge. It is nil unless the
	// join acknowledgement demanded one.
	Challenge func(ctx context.Context, steps []int) (*envelope.Envelope, error) `json:"-"`
}

type NameAcceptData struct {
	PlayerName string          `json:"playerName"`
	QuizType   string          `json:"quizType"`
	PlayerV2   bool            `json:"playerV2"`
	Raw        json.RawMessage `json:"-"`
}

type QuizStartData struct {
	QuizType            string          `json:"quizType"`
	QuizQuestionAnswers []int           `json:"quizQuestionAnswers"`
	Raw                 json.RawMessage `json:"-"`
}

type QuestionReadyData struct {
	QuestionIndex       int             `json:"questionIndex"`
	GameBlockType       string          `json:"gameBlockType"`
	GameBlockLayout     string          `json:"gameBlockLayout"`
	QuizQuestionAnswers []int           `json:"quizQuestionAnswers"`
	TimeLeft            int64           `json:"timeLeft"` // ms
	Raw                 json.RawMessage `json:"-"`
}

type QuestionStartData struct {
	QuestionIndex       int             `json:"questionIndex"`
	GameBlockType       string          `json:"gameBlockType"`
	GameBlockLayout     string          `json:"gameBlockLayout"`
	QuizQuestionAnswers []int           `json:"quizQuestionAnswers"`
	TimeAvailable       int64           `json:"timeAvailable"` // ms
	Raw                 json.RawMessage `json:"-"`
}

type TeamTalkData struct {
	QuestionIndex       int             `json:"questionIndex"`
	QuizQuestionAnswers []int           `json:"quizQuestionAnswers"`
	GameBlockType       string          `json:"gameBlockType"`
	GameBlockLayout     string          `json:"gameBlockLayout"`
	TeamTalkDuration    int64           `json:"teamTalkDuration"`
	Raw                 json.RawMessage `json:"-"`
}

// QuestionEndData is the result of the last question. Choice is what the
// player answered: a number, a list of numbers or text.
type QuestionEndData struct {
	Choice         json.RawMessage     `json:"choice"`
	Type           string              `json:"type"`
	IsCorrect      bool                `json:"isCorrect"`
	Text           string              `json:"text"`
	ReceivedTime   int64               `json:"receivedTime"`
	PointsQuestion bool                `json:"pointsQuestion"`
	Points         int                 `json:"points"`
	CorrectAnswers []string            `json:"correctAnswers"`
	CorrectChoices []int               `json:"correctChoices"`
	TotalScore     int                 `json:"totalScore"`
	Rank           int                 `json:"rank"`
	PointsData     *session.PointsData `json:"pointsData"`
	Nemesis        *session.Nemesis    `json:"nemesis"`
	Raw            json.RawMessage     `json:"-"`
}

type TimeOverData struct {
	QuestionNumber int             `json:"questionNumber"`
	Raw            json.RawMessage `json:"-"`
}

type QuizEndData struct {
	Rank                          int             `json:"rank"`
	CID                           string          `json:"cid"`
	CorrectCount                  int             `json:"correctCount"`
	IncorrectCount                int             `json:"incorrectCount"`
	UnansweredCount               int             `json:"unansweredCount"`
	IsKicked                      bool            `json:"isKicked"`
	IsGhost                       bool            `json:"isGhost"`
	PlayerCount                   int             `json:"playerCount"`
	StartTime                     int64           `json:"startTime"`
	QuizID                        string          `json:"quizId"`
	Name                          string          `json:"name"`
	TotalScore                    int             `json:"totalScore"`
	HostID                        string          `json:"hostId"`
	ChallengeID                   *string         `json:"challengeId"`
	IsOnlyNonPointGameBlockKahoot bool            `json:"isOnlyNonPointGameBlockKahoot"`
	Raw                           json.RawMessage `json:"-"`
}

type FeedbackData struct {
	QuizType string          `json:"quizType"`
	Raw      json.RawMessage `json:"-"`
}

type TeamAcceptData struct {
	MemberNames  []string        `json:"memberNames"`
	RecoveryData json.RawMessage `json:"recoveryData"`
	Raw          json.RawMessage `json:"-"`
}

// Medal is the podium placement; empty when the player placed lower.
type Medal string

const (
	MedalGold   Medal = "gold"
	MedalSilver Medal = "silver"
	MedalBronze Medal = "bronze"
	MedalNone   Medal = ""
)

type podiumContent struct {
	PodiumMedalType *string `json:"podiumMedalType"`
}

// RecoveryData is the server's snapshot of where the game is, sent after
// a recovery request.
type RecoveryData struct {
	State           int             `json:"state"`
	DefaultQuizData RecoveryQuiz    `json:"defaultQuizData"`
	Data            json.RawMessage `json:"data"`
	Raw             json.RawMessage `json:"-"`
}

type RecoveryQuiz struct {
	QuizType            string `json:"quizType"`
	QuizQuestionAnswers []int  `json:"quizQuestionAnswers"`
}

// recoveryStates maps the server's recovery state to where the session
// should be.
var recoveryStates = map[int]session.State{
	0:                     session.StateJoined,
	recoveryQuestionReady: session.StateQuestionReady,
	recoveryQuestionStart: session.StateQuestionStart,
	3:                     session.StateQuestionEnd,
	4:                     session.StateEnded,
}

// Recovery states whose data carries the current question.
const (
	recoveryQuestionReady = 1
	recoveryQuestionStart = 2
)
