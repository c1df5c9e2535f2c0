package client

import (
	"errors"

	"github.com/risa-org/quizlink/correlator"
	"github.com/risa-org/quizlink/envelope"
	"github.com/risa-org/quizlink/metrics"
	"github.com/risa-org/quizlink/session"
	"github.com/risa-org/quizlink/transport"
)

// The engine's error taxonomy, re-exported so callers need one import.
var (
	ErrMalformedFrame   = envelope.ErrMalformedFrame
	ErrProtocolRejected = envelope.ErrProtocolRejected
	ErrTimeout          = correlator.ErrTimeout
	ErrConnectionFailed = transport.ErrConnectionFailed
	ErrConnectionLost   = transport.ErrConnectionLost
	ErrSessionClosed    = session.ErrSessionClosed
)

// Client-side rejections. Each matches ErrProtocolRejected; nothing was
// sent when one is returned.
var (
	ErrNoOpenQuestion  error = &envelope.RejectedError{Reason: "no open question", Local: true}
	ErrAlreadyAnswered error = &envelope.RejectedError{Reason: "question already answered", Local: true}
	ErrModuleDisabled  error = &envelope.RejectedError{Reason: "module disabled", Local: true}
	ErrInvalidState    error = &envelope.RejectedError{Reason: "not allowed in the current state", Local: true}
	ErrInvalidArgument error = &envelope.RejectedError{Reason: "invalid argument", Local: true}
)

// outcome labels an error for metrics.
func outcome(err error) string {
	var rej *envelope.RejectedError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, correlator.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, transport.ErrConnectionLost):
		return metrics.OutcomeLost
	case errors.Is(err, session.ErrSessionClosed):
		return metrics.OutcomeClosed
	case errors.As(err, &rej) && rej.Local:
		return metrics.OutcomeLocal
	case errors.Is(err, envelope.ErrProtocolRejected):
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeError
}
