package client

import (
	"math"
	"time"
)

const (
	maxPoints        = 1000
	streakBonusStep  = 100
	maxStreakBonuses = 5
)

type answerContent struct {
	Choice        any        `json:"choice"`
	QuestionIndex int        `json:"questionIndex"`
	Meta          answerMeta `json:"meta"`
}

type answerMeta struct {
	Lag         int64 `json:"lag"`
	Points      *int  `json:"points,omitempty"`
	Correct     *bool `json:"correct,omitempty"`
	StreakBonus *int  `json:"streakBonus,omitempty"`
}

// challengeScore fills the self-reported scoring of a challenge answer.
func challengeScore(o Options, meta *answerMeta, elapsed, available time.Duration, streak int) {
	if !o.reportsScore() {
		return
	}
	points := challengePoints(o, elapsed, available)
	meta.Points = &points

	if o.ChallengeAlwaysCorrect {
		correct := true
		meta.Correct = &correct
		if o.ChallengeUseStreakBonus {
			bonus := streakBonus(streak)
			meta.StreakBonus = &bonus
		}
	}
}

// challengePoints is a fixed score when configured, full marks when asked
// for, otherwise the usual linear decay to half marks over the answer
// window.
func challengePoints(o Options, elapsed, available time.Duration) int {
	switch {
	case o.ChallengeScore > 0:
		return o.ChallengeScore
	case o.ChallengeGetFullScore, available <= 0:
		return maxPoints
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > available {
		elapsed = available
	}
	ratio := float64(elapsed) / float64(available)
	return int(math.Round(maxPoints * (1 - ratio/2)))
}

func streakBonus(streak int) int {
	return streakBonusStep * min(streak+1, maxStreakBonuses)
}

// validChoice reports whether choice is one of the accepted shapes.
func validChoice(choice any) bool {
	switch v := choice.(type) {
	case int:
		return v >= 0
	case []int:
		if len(v) == 0 {
			return false
		}
		for _, c := range v {
			if c < 0 {
				return false
			}
		}
		return true
	case string:
		return v != ""
	}
	return false
}
