package reserve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public game host.
const DefaultBaseURL = "https://kahoot.it"

// TokenHeader carries the encoded session token on the reservation response.
const TokenHeader = "x-kahoot-session-token"

var (
	// ErrGameNotFound is returned when no game exists for the pin.
	ErrGameNotFound = errors.New("game not found")

	// ErrNoToken is returned when the response lacks the session token.
	ErrNoToken = errors.New("reservation carried no session token")
)

// ProxyHook rewrites the reservation request before it is sent, e.g. to
// route it through a proxy or add headers. It runs exactly once per
// reservation. Returning nil keeps the original request.
type ProxyHook func(*http.Request) *http.Request

// Info is the reservation body.
type Info struct {
	TwoFactorAuth bool   `json:"twoFactorAuth"`
	Namerator     bool   `json:"namerator"`
	SmartPractice bool   `json:"smartPractice"`
	Challenge     string `json:"challenge,omitempty"`
}

// Reservation is a reserved seat: the decoded token and the session
// address to dial.
type Reservation struct {
	Info
	Pin     string
	Token   string
	Address string
}

// Client performs reservations.
type Client struct {
	BaseURL    string // http(s) base; DefaultBaseURL when empty
	WSBaseURL  string // ws(s) base; derived from BaseURL when empty
	HTTPClient *http.Client
	Proxy      ProxyHook
	Solver     ChallengeSolver
	UserAgent  string
	Logger     *slog.Logger
	Now        func() time.Time
}

// Reserve asks the game host for a seat in game pin.
func (c *Client) Reserve(ctx context.Context, pin string) (*Reservation, error) {
	if pin == "" {
		return nil, errors.New("reserve: empty pin")
	}
	logger := c.logger().With("pin", pin)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.reserveURL(pin), nil)
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Proxy != nil {
		if r := c.Proxy(req); r != nil {
			req = r
		}
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reserve: read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("reserve %s: %w", pin, ErrGameNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("reserve %s: unexpected status %d", pin, resp.StatusCode)
	}

	var info Info
	if len(body) > 0 {
		if err := json.Unmarshal(body, &info); err != nil {
			return nil, fmt.Errorf("reserve %s: decode body: %w", pin, err)
		}
	}

	encoded := resp.Header.Get(TokenHeader)
	if encoded == "" {
		return nil, fmt.Errorf("reserve %s: %w", pin, ErrNoToken)
	}

	var solution string
	if info.Challenge != "" {
		if c.Solver == nil {
			return nil, fmt.Errorf("reserve %s: %w", pin, ErrChallengeUnsupported)
		}
		solution, err = c.Solver.Solve(ctx, info.Challenge)
		if err != nil {
			return nil, fmt.Errorf("reserve %s: solve challenge: %w", pin, err)
		}
	}

	token, err := DecodeToken(encoded, solution)
	if err != nil {
		return nil, fmt.Errorf("reserve %s: %w", pin, err)
	}

	logger.Debug("seat reserved", "two_factor", info.TwoFactorAuth, "namerator", info.Namerator)
	return &Reservation{
		Info:    info,
		Pin:     pin,
		Token:   token,
		Address: c.Address(pin, token),
	}, nil
}

// Address returns the session address for pin and a decoded token. An
// empty token gives the bare game address.
func (c *Client) Address(pin, token string) string {
	return strings.TrimRight(c.wsBase(), "/") + "/cometd/" + url.PathEscape(pin) + "/" + token
}

func (c *Client) reserveURL(pin string) string {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return strings.TrimRight(c.base(), "/") + "/reserve/session/" + url.PathEscape(pin) + "/?" +
		strconv.FormatInt(now().UnixMilli(), 10)
}

func (c *Client) base() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return c.BaseURL
}

func (c *Client) wsBase() string {
	if c.WSBaseURL != "" {
		return c.WSBaseURL
	}
	return WebSocketBase(c.base())
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.Logger.With("component", "reserve")
}

// WebSocketBase maps an http(s) base URL to its ws(s) counterpart.
func WebSocketBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
