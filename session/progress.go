package session

// PlayerProgress is the player's standing, updated from question results
// and the end-of-quiz summary.
type PlayerProgress struct {
	TotalScore int
	Streak     int
	Rank       int
	PointsData *PointsData
	Nemesis    *Nemesis
}

// PointsData breaks down the points of the last answer.
type PointsData struct {
	QuestionPoints            int          `json:"questionPoints"`
	TotalPointsWithBonuses    int          `json:"totalPointsWithBonuses"`
	TotalPointsWithoutBonuses int          `json:"totalPointsWithoutBonuses"`
	AnswerStreakPoints        StreakPoints `json:"answerStreakPoints"`
}

// StreakPoints is the streak bonus part of PointsData.
type StreakPoints struct {
	StreakLevel         int `json:"streakLevel"`
	StreakBonus         int `json:"streakBonus"`
	TotalStreakBonus    int `json:"totalStreakBonus"`
	PreviousStreakLevel int `json:"previousStreakLevel"`
	PreviousStreakBonus int `json:"previousStreakBonus"`
}

// Nemesis is the competitor ranked just above the player.
type Nemesis struct {
	Name       string `json:"name"`
	IsGhost    bool   `json:"isGhost"`
	TotalScore int    `json:"totalScore"`
}

// Record applies one question result.
func (p *PlayerProgress) Record(totalScore, rank int, points *PointsData, nemesis *Nemesis) {
	p.TotalScore = totalScore
	p.Rank = rank
	if points != nil {
		p.PointsData = points
		p.Streak = points.AnswerStreakPoints.StreakLevel
	}
	p.Nemesis = nemesis
}

// Reset clears progress for a restarted game.
func (p *PlayerProgress) Reset() {
	*p = PlayerProgress{}
}
