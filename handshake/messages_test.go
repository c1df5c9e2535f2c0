package handshake

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/risa-org/quizlink/envelope"
)

func TestCommandEncodesContentAsText(t *testing.T) {
	d, err := Command("123456", KindAnswer, map[string]any{"choice": 2, "questionIndex": 0})
	if err != nil {
		t.Fatal(err)
	}
	if d.Type != TypeMessage || d.ID != KindAnswer || d.GameID != "123456" || d.Host != Host {
		t.Errorf("unexpected command %+v", d)
	}

	var content map[string]int
	if err := json.Unmarshal([]byte(d.Content), &content); err != nil {
		t.Fatalf("content must be JSON text: %v", err)
	}
	if content["choice"] != 2 {
		t.Errorf("expected choice 2, got %v", content["choice"])
	}
}

func TestCommandNilContent(t *testing.T) {
	d, _ := Command("1", KindNext, nil)
	if d.Content != "{}" {
		t.Errorf("expected {}, got %q", d.Content)
	}
}

func TestParsePlayer(t *testing.T) {
	env := &envelope.Envelope{
		Channel: envelope.ChannelPlayer,
		ID:      "9",
		Data:    json.RawMessage(`{"type":"message","id":2,"content":"{\"questionIndex\":1}"}`),
	}
	m, err := ParsePlayer(env)
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != 2 {
		t.Errorf("expected kind 2, got %d", m.ID)
	}

	var c struct {
		QuestionIndex int `json:"questionIndex"`
	}
	if err := m.Decode(&c); err != nil {
		t.Fatal(err)
	}
	if c.QuestionIndex != 1 {
		t.Errorf("expected question 1, got %d", c.QuestionIndex)
	}
	if string(m.Raw()) != `{"questionIndex":1}` {
		t.Errorf("unexpected raw content %s", m.Raw())
	}
}

func TestParsePlayerMalformedContent(t *testing.T) {
	env := &envelope.Envelope{
		Channel: envelope.ChannelPlayer,
		ID:      "9",
		Data:    json.RawMessage(`{"type":"message","id":2,"content":"not json"}`),
	}
	m, err := ParsePlayer(env)
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]any
	if err := m.Decode(&v); !errors.Is(err, envelope.ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestAckCounter(t *testing.T) {
	a := NewAckCounter()
	if a.Next() != 0 {
		t.Error("expected 0 before anything is received")
	}

	a.Observe()
	a.Observe()
	if a.Outstanding() != 2 {
		t.Errorf("expected 2 outstanding, got %d", a.Outstanding())
	}
	if got := a.Next(); got != 2 {
		t.Errorf("expected ack 2, got %d", got)
	}
	if a.Outstanding() != 0 {
		t.Errorf("expected nothing outstanding after connect, got %d", a.Outstanding())
	}

	a.Observe()
	if got := a.Next(); got != 3 {
		t.Errorf("expected ack 3, got %d", got)
	}
}

func TestConnectExtCarriesAck(t *testing.T) {
	b, err := json.Marshal(ConnectExt(4))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"ack":4}` {
		t.Errorf("unexpected ext %s", b)
	}

	b, _ = json.Marshal(HandshakeExt())
	if string(b) != `{"ack":true}` {
		t.Errorf("unexpected handshake ext %s", b)
	}
}
