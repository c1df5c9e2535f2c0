package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/risa-org/quizlink/client"
)

func playCmd(logger func() *slog.Logger) *cobra.Command {
	var (
		flags     sessionFlags
		pin       string
		name      string
		team      []string
		strategy  string
		twoFactor string
		feedback  bool
	)

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a game and play until it ends",
		Example: `  quizlink play --pin 123456 --name alice
  quizlink play --pin 123456 --name alice --answer random --store ~/.quizlink.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger()
			steps, err := parseSteps(twoFactor)
			if err != nil {
				return err
			}
			cfg, stop, err := flags.build(cmd, log)
			if err != nil {
				return err
			}
			defer stop()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c := client.New(cfg)
			defer c.Leave()
			p := newPlayer(c, log, strategy, feedback)

			jd, err := c.Join(ctx, pin, name, team)
			if err != nil {
				return fmt.Errorf("joining %s: %w", pin, err)
			}
			fmt.Printf("joined %s as %s (cid %s)\n", pin, name, jd.CID)
			if jd.TwoFactorAuth {
				fmt.Println("two-factor authentication required")
				if _, err := jd.Challenge(ctx, steps); err != nil {
					return fmt.Errorf("two-factor: %w", err)
				}
			}
			return p.wait(ctx)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&pin, "pin", "p", "", "game pin")
	cmd.Flags().StringVarP(&name, "name", "n", envOr(envName, ""), "player name")
	cmd.Flags().StringSliceVar(&team, "team", nil, "team member names")
	cmd.Flags().StringVar(&strategy, "answer", "first", "how to answer: first, random or none")
	cmd.Flags().StringVar(&twoFactor, "two-factor", "0123", "two-factor shape order")
	cmd.Flags().BoolVar(&feedback, "feedback", false, "rate the quiz when it ends")
	cmd.MarkFlagRequired("pin")
	return cmd
}

func resumeCmd(logger func() *slog.Logger) *cobra.Command {
	var (
		flags    sessionFlags
		pin      string
		cid      string
		strategy string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a saved session and keep playing",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger()
			cfg, stop, err := flags.build(cmd, log)
			if err != nil {
				return err
			}
			defer stop()
			if cfg.Store == nil && cid == "" {
				return errors.New("resume needs --cid or --store")
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c := client.New(cfg)
			defer c.Leave()
			p := newPlayer(c, log, strategy, false)

			if err := c.Reconnect(ctx, pin, cid); err != nil {
				return fmt.Errorf("resuming %s: %w", pin, err)
			}
			s := c.Session()
			fmt.Printf("resumed %s as %s (%s)\n", s.Pin, s.PlayerName, s.State)
			return p.wait(ctx)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&pin, "pin", "p", "", "game pin")
	cmd.Flags().StringVar(&cid, "cid", "", "participant cid; read from --store when empty")
	cmd.Flags().StringVar(&strategy, "answer", "first", "how to answer: first, random or none")
	cmd.MarkFlagRequired("pin")
	return cmd
}

func parseSteps(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	steps := make([]int, 0, len(s))
	for _, r := range s {
		n, err := strconv.Atoi(string(r))
		if err != nil {
			return nil, fmt.Errorf("two-factor order %q: %w", s, err)
		}
		steps = append(steps, n)
	}
	return steps, nil
}

// player reacts to game events on behalf of the user.
type player struct {
	c        *client.Client
	log      *slog.Logger
	strategy string
	feedback bool

	once     sync.Once
	finished chan struct{}
}

func newPlayer(c *client.Client, log *slog.Logger, strategy string, feedback bool) *player {
	p := &player{c: c, log: log, strategy: strategy, feedback: feedback, finished: make(chan struct{})}

	c.OnQuizStart(func(d *client.QuizStartData) {
		fmt.Printf("quiz started: %d questions\n", len(d.QuizQuestionAnswers))
	})
	c.OnQuestionStart(p.answer)
	c.OnQuestionEnd(func(d *client.QuestionEndData) {
		mark := "wrong"
		if d.IsCorrect {
			mark = "correct"
		}
		fmt.Printf("%s: +%d, total %d, rank %d\n", mark, d.Points, d.TotalScore, d.Rank)
	})
	c.OnPodium(func(m client.Medal) {
		if m != client.MedalNone {
			fmt.Printf("podium: %s\n", m)
		}
	})
	c.OnQuizEnd(func(d *client.QuizEndData) {
		fmt.Printf("quiz over: rank %d of %d, score %d\n", d.Rank, d.PlayerCount, d.TotalScore)
		if p.feedback {
			if _, err := c.SendFeedback(context.Background(), 5, 1, 1, 1); err != nil {
				p.log.Warn("feedback", "err", err)
			}
		}
		p.done()
	})
	c.OnDisconnect(func(reason string) {
		fmt.Printf("disconnected: %s\n", reason)
		p.done()
	})
	return p
}

func (p *player) answer(d *client.QuestionStartData) {
	if d.QuestionIndex < 0 || d.QuestionIndex >= len(d.QuizQuestionAnswers) {
		return
	}
	choices := d.QuizQuestionAnswers[d.QuestionIndex]
	if choices <= 0 {
		return
	}

	var choice int
	switch p.strategy {
	case "none":
		return
	case "random":
		choice = rand.IntN(choices)
	}
	if _, err := p.c.Answer(context.Background(), choice); err != nil {
		p.log.Warn("answer", "question", d.QuestionIndex, "err", err)
		return
	}
	fmt.Printf("question %d: answered %d\n", d.QuestionIndex+1, choice)
}

func (p *player) done() {
	p.once.Do(func() { close(p.finished) })
}

// wait blocks until the game ends, the session drops or ctx is done.
func (p *player) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		fmt.Println("leaving")
	case <-p.finished:
	case <-p.c.Done():
	}
	return nil
}
