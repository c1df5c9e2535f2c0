package sender

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/risa-org/quizlink/correlator"
	"github.com/risa-org/quizlink/envelope"
	"github.com/risa-org/quizlink/transport"
)

// mockAdapter is a minimal transport.Adapter for testing.
// It records sent frames and can be configured to fail.
type mockAdapter struct {
	sent      []transport.Message
	failAfter int // fail after the Nth send, -1 means never fail
	calls     int
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{failAfter: -1}
}

func (m *mockAdapter) Send(msg transport.Message) error {
	m.calls++
	if m.failAfter >= 0 && m.calls > m.failAfter {
		return transport.ErrTransportClosed
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockAdapter) Receive() <-chan transport.Message {
	return make(chan transport.Message)
}

func (m *mockAdapter) Disconnected() <-chan transport.DisconnectEvent {
	return make(chan transport.DisconnectEvent)
}

func (m *mockAdapter) Close() error { return nil }

func newSender(adapter transport.Adapter) (*Sender, *correlator.Correlator) {
	pending := correlator.New(time.Second)
	return New(envelope.NewCodec(nil), pending, adapter), pending
}

// --- Tests ---

func TestRequestRegistersThenSends(t *testing.T) {
	adapter := newMockAdapter()
	s, pending := newSender(adapter)

	env, h, err := s.Request(envelope.ChannelController, map[string]string{"type": "login"}, nil, 0)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !pending.Has(env.ID) {
		t.Fatal("expected request to be pending")
	}
	if len(adapter.sent) != 1 {
		t.Fatalf("expected 1 frame sent, got %d", len(adapter.sent))
	}

	envs, err := envelope.Decode(adapter.sent[0].Payload)
	if err != nil || len(envs) != 1 || envs[0].ID != env.ID {
		t.Fatalf("sent frame does not carry the request: %s (%v)", adapter.sent[0].Payload, err)
	}

	pending.Settle(&envelope.Envelope{Channel: envelope.ChannelController, ID: env.ID, Successful: envelope.Bool(true)})
	if _, err := h.Wait(context.Background()); err != nil {
		t.Errorf("expected ack to resolve handle, got %v", err)
	}
}

func TestFailedSendIsNotLeftPending(t *testing.T) {
	adapter := newMockAdapter()
	adapter.failAfter = 0
	s, pending := newSender(adapter)

	_, h, err := s.Request(envelope.ChannelController, nil, nil, 0)
	if !errors.Is(err, transport.ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
	if h != nil {
		t.Error("expected no handle for a frame that never left")
	}
	if pending.Pending() != 0 {
		t.Errorf("expected nothing pending, got %d", pending.Pending())
	}
}

func TestPublishDoesNotRegister(t *testing.T) {
	adapter := newMockAdapter()
	s, pending := newSender(adapter)

	if _, err := s.Publish(envelope.ChannelConnect, nil, nil); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if pending.Pending() != 0 {
		t.Errorf("Publish must not register, got %d pending", pending.Pending())
	}
	if len(adapter.sent) != 1 {
		t.Errorf("expected 1 frame, got %d", len(adapter.sent))
	}
}

func TestRequestAfterCorrelatorClosed(t *testing.T) {
	adapter := newMockAdapter()
	s, pending := newSender(adapter)
	closed := errors.New("closed")
	pending.Close(closed)

	if _, _, err := s.Request(envelope.ChannelController, nil, nil, 0); !errors.Is(err, closed) {
		t.Errorf("expected close error, got %v", err)
	}
	if len(adapter.sent) != 0 {
		t.Error("nothing should be sent once the correlator is closed")
	}
}

func TestIDsContinueAcrossAdapters(t *testing.T) {
	codec := envelope.NewCodec(nil)
	pending := correlator.New(time.Second)

	first, _ := New(codec, pending, newMockAdapter()).Publish(envelope.ChannelConnect, nil, nil)
	second, _ := New(codec, pending, newMockAdapter()).Publish(envelope.ChannelConnect, nil, nil)

	if first.ID == second.ID {
		t.Errorf("ids must not restart with a new transport: both %s", first.ID)
	}
}
