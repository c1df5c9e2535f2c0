package sender

import (
	"fmt"
	"time"

	"github.com/risa-org/quizlink/correlator"
	"github.com/risa-org/quizlink/envelope"
	"github.com/risa-org/quizlink/transport"
)

// Sender ties the codec, the correlator and one transport Adapter
// together. It is the single place outbound commands are encoded,
// registered for their ack and sent, in that order.
//
// Two correctness properties over doing this by hand:
//  1. The pending request is registered before the frame leaves, so an
//     ack can never race ahead of its registration.
//  2. If the send fails the registration is discarded and the caller gets
//     the transport error; no handle waits for an ack that cannot come.
type Sender struct {
	codec   *envelope.Codec
	pending *correlator.Correlator
	adapter transport.Adapter
}

// New creates a Sender that encodes with codec, correlates through
// pending, and delivers via adapter.
func New(codec *envelope.Codec, pending *correlator.Correlator, adapter transport.Adapter) *Sender {
	return &Sender{codec: codec, pending: pending, adapter: adapter}
}

// Request encodes data for channel, registers the envelope's id and sends
// it. The returned handle settles with the ack, a rejection, or a timeout.
func (s *Sender) Request(channel string, data any, ext *envelope.Ext, timeout time.Duration) (*envelope.Envelope, *correlator.Handle, error) {
	env, err := s.codec.Encode(channel, data, ext)
	if err != nil {
		return nil, nil, err
	}

	h, err := s.pending.Register(env.ID, timeout)
	if err != nil {
		return nil, nil, err
	}

	if err := s.write(env); err != nil {
		// frame never left, nothing will ever ack it
		s.pending.Discard(env.ID, err)
		return nil, nil, err
	}
	return env, h, nil
}

// Publish encodes and sends without waiting for an ack.
func (s *Sender) Publish(channel string, data any, ext *envelope.Ext) (*envelope.Envelope, error) {
	env, err := s.codec.Encode(channel, data, ext)
	if err != nil {
		return nil, err
	}
	if err := s.write(env); err != nil {
		return nil, err
	}
	return env, nil
}

func (s *Sender) write(env *envelope.Envelope) error {
	frame, err := envelope.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Channel, err)
	}
	return s.adapter.Send(transport.Message{Payload: frame})
}

// Adapter returns the underlying transport adapter.
// Useful for accessing Receive() and Disconnected() channels.
func (s *Sender) Adapter() transport.Adapter {
	return s.adapter
}

// Codec returns the codec the sender encodes with.
func (s *Sender) Codec() *envelope.Codec {
	return s.codec
}
