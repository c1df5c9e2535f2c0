package reserve

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrChallengeUnsupported is returned when the host demands a challenge
// solution and no solver is configured.
var ErrChallengeUnsupported = errors.New("reservation challenge not supported")

// ChallengeSolver turns the host's challenge text into the mask the
// session token is combined with.
type ChallengeSolver interface {
	Solve(ctx context.Context, challenge string) (string, error)
}

// SolverFunc adapts a function to ChallengeSolver.
type SolverFunc func(ctx context.Context, challenge string) (string, error)

func (f SolverFunc) Solve(ctx context.Context, challenge string) (string, error) {
	return f(ctx, challenge)
}

// DecodeToken decodes the base64 session token and, when mask is not
// empty, XORs it byte by byte with the mask repeated to its length.
func DecodeToken(encoded, mask string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// some hosts drop the padding
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return "", fmt.Errorf("decode session token: %w", err)
		}
	}
	if mask == "" {
		return string(raw), nil
	}
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b ^ mask[i%len(mask)]
	}
	return string(out), nil
}

// EncodeToken is the inverse of DecodeToken. Test servers use it to issue
// tokens.
func EncodeToken(token, mask string) string {
	raw := []byte(token)
	if mask != "" {
		for i := range raw {
			raw[i] ^= mask[i%len(mask)]
		}
	}
	return base64.StdEncoding.EncodeToString(raw)
}
