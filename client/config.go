package client

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/risa-org/quizlink/correlator"
	"github.com/risa-org/quizlink/metrics"
	"github.com/risa-org/quizlink/reserve"
	"github.com/risa-org/quizlink/session"
	"github.com/risa-org/quizlink/transport"
)

// Command names, used for timeouts, spans and metrics.
const (
	CommandJoin      = "join"
	CommandJoinTeam  = "joinTeam"
	CommandAnswer    = "answer"
	CommandTwoFactor = "answerTwoFactorAuth"
	CommandFeedback  = "sendFeedback"
	CommandReconnect = "reconnect"
	CommandNext      = "next"
)

// Options tune challenge (self-paced) games.
type Options struct {
	// ChallengeAutoContinue advances content blocks and question results
	// without waiting for the player.
	ChallengeAutoContinue bool
	// ChallengeWaitForInput keeps the result screen until Next is called,
	// even with ChallengeAutoContinue.
	ChallengeWaitForInput bool
	// The scoring options below make the client report its own score with
	// each answer.
	ChallengeGetFullScore   bool
	ChallengeAlwaysCorrect  bool
	ChallengeUseStreakBonus bool
	ChallengeScore          int // fixed points per answer when > 0
}

// DefaultOptions matches what a browser player does.
func DefaultOptions() Options {
	return Options{ChallengeAutoContinue: true}
}

func (o Options) reportsScore() bool {
	return o.ChallengeGetFullScore || o.ChallengeAlwaysCorrect || o.ChallengeUseStreakBonus || o.ChallengeScore > 0
}

// Modules switch individual message handlers on or off. A disabled
// module's messages are still acknowledged to the server, they just do
// not update the session or reach listeners.
type Modules struct {
	ExtraData     bool // attach the raw message content to event payloads
	Feedback      bool
	GameReset     bool
	QuizStart     bool
	QuizEnd       bool
	Podium        bool
	TimeOver      bool
	Reconnect     bool // automatic reconnection and recovery projection
	QuestionReady bool
	QuestionStart bool
	QuestionEnd   bool
	NameAccept    bool
	TeamAccept    bool
	TeamTalk      bool
	Backup        bool // request recovery data after join and reconnect
	Answer        bool
}

// DefaultModules enables everything.
func DefaultModules() Modules {
	return Modules{
		ExtraData:     true,
		Feedback:      true,
		GameReset:     true,
		QuizStart:     true,
		QuizEnd:       true,
		Podium:        true,
		TimeOver:      true,
		Reconnect:     true,
		QuestionReady: true,
		QuestionStart: true,
		QuestionEnd:   true,
		NameAccept:    true,
		TeamAccept:    true,
		TeamTalk:      true,
		Backup:        true,
		Answer:        true,
	}
}

// Reserver reserves a seat before the transport is opened.
type Reserver interface {
	Reserve(ctx context.Context, pin string) (*reserve.Reservation, error)
}

// ResumeStore keeps resume tokens so a later Reconnect, possibly from a
// new process, can find the cid for a pin. store/memory and store/file
// implement it.
type ResumeStore interface {
	Save(tok session.ResumeToken) error
	Get(pin string) (session.ResumeToken, bool)
	Delete(pin string) error
}

// Config is fixed when the client is created.
type Config struct {
	Options Options
	Modules Modules

	// BaseURL is the game host. The session address is derived from it
	// when no Reserver is set.
	BaseURL string

	// Proxy rewrites the reservation request, once per reservation.
	Proxy reserve.ProxyHook

	// WSProxy rewrites the transport target, once per transport open.
	WSProxy transport.ProxyHook

	// Dialer opens transports. Default: the WebSocket dialer.
	Dialer transport.Dialer

	// Reserver runs before every transport open. Nil dials the game
	// address directly.
	Reserver Reserver

	// RequestTimeout bounds every acknowledged command; Timeouts
	// overrides it per command name.
	RequestTimeout time.Duration
	Timeouts       map[string]time.Duration

	// Reconnection after an unexpected loss.
	ReconnectAttempts int
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration

	UserAgent string

	Logger  *slog.Logger
	Metrics *metrics.Collector
	Tracer  trace.Tracer
	Store   ResumeStore

	// Now is the clock behind timetrack and answer timing.
	Now func() time.Time
}

// DefaultConfig returns a config for the public host.
func DefaultConfig() Config {
	return Config{
		Options:           DefaultOptions(),
		Modules:           DefaultModules(),
		BaseURL:           reserve.DefaultBaseURL,
		Reserver:          &reserve.Client{BaseURL: reserve.DefaultBaseURL},
		RequestTimeout:    correlator.DefaultTimeout,
		ReconnectAttempts: 3,
		ReconnectMin:      500 * time.Millisecond,
		ReconnectMax:      8 * time.Second,
		UserAgent:         "quizlink",
	}
}

func (c Config) timeout(command string) time.Duration {
	if d, ok := c.Timeouts[command]; ok && d > 0 {
		return d
	}
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return correlator.DefaultTimeout
}

// discardHandler is a no-op slog handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler            { return d }
