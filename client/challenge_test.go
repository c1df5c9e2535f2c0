package client

import (
	"testing"
	"time"
)

func TestChallengePoints(t *testing.T) {
	cases := []struct {
		name    string
		opts    Options
		elapsed time.Duration
		want    int
	}{
		{"instant answer", Options{ChallengeUseStreakBonus: true}, 0, 1000},
		{"half way", Options{ChallengeUseStreakBonus: true}, 10 * time.Second, 750},
		{"at the buzzer", Options{ChallengeUseStreakBonus: true}, 20 * time.Second, 500},
		{"late clamps", Options{ChallengeUseStreakBonus: true}, time.Minute, 500},
		{"full score", Options{ChallengeGetFullScore: true}, 15 * time.Second, 1000},
		{"fixed score wins", Options{ChallengeScore: 123, ChallengeGetFullScore: true}, 0, 123},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := challengePoints(tc.opts, tc.elapsed, 20*time.Second); got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestChallengePointsWithoutWindow(t *testing.T) {
	if got := challengePoints(Options{ChallengeAlwaysCorrect: true}, time.Second, 0); got != maxPoints {
		t.Errorf("expected full marks without an answer window, got %d", got)
	}
}

func TestStreakBonusCaps(t *testing.T) {
	want := []int{100, 200, 300, 400, 500, 500, 500}
	for streak, w := range want {
		if got := streakBonus(streak); got != w {
			t.Errorf("streak %d: expected %d, got %d", streak, w, got)
		}
	}
}

func TestChallengeScoreOnlyWhenAsked(t *testing.T) {
	var meta answerMeta
	challengeScore(DefaultOptions(), &meta, 0, time.Second, 0)
	if meta.Points != nil || meta.Correct != nil || meta.StreakBonus != nil {
		t.Errorf("default options must not report a score: %+v", meta)
	}

	meta = answerMeta{}
	challengeScore(Options{ChallengeGetFullScore: true}, &meta, 0, time.Second, 0)
	if meta.Points == nil || *meta.Points != maxPoints {
		t.Errorf("expected points, got %+v", meta)
	}
	if meta.Correct != nil {
		t.Error("correct is only claimed with ChallengeAlwaysCorrect")
	}

	meta = answerMeta{}
	challengeScore(Options{ChallengeAlwaysCorrect: true, ChallengeUseStreakBonus: true}, &meta, 0, time.Second, 2)
	if meta.Correct == nil || !*meta.Correct {
		t.Error("expected correct:true")
	}
	if meta.StreakBonus == nil || *meta.StreakBonus != 300 {
		t.Errorf("expected streak bonus 300, got %+v", meta.StreakBonus)
	}
}

func TestValidChoice(t *testing.T) {
	valid := []any{0, 3, []int{0, 2}, "forty two"}
	invalid := []any{-1, []int{}, []int{1, -2}, "", 1.5, nil, []string{"a"}}
	for _, c := range valid {
		if !validChoice(c) {
			t.Errorf("expected %#v to be valid", c)
		}
	}
	for _, c := range invalid {
		if validChoice(c) {
			t.Errorf("expected %#v to be invalid", c)
		}
	}
}

func TestTwoFactorSequence(t *testing.T) {
	seq, err := twoFactorSequence([]int{3, 1, 0, 2})
	if err != nil || seq != "3102" {
		t.Fatalf("expected 3102, got %q %v", seq, err)
	}
	for _, bad := range [][]int{{0, 1, 2}, {0, 1, 2, 2}, {0, 1, 2, 4}, {-1, 0, 1, 2}} {
		if _, err := twoFactorSequence(bad); err == nil {
			t.Errorf("expected %v to be rejected", bad)
		}
	}
}
