package handshake

import (
	"encoding/json"
	"fmt"

	"github.com/risa-org/quizlink/envelope"
)

// Controller command kinds, the data.id of a /service/controller message.
const (
	KindFeedback        = 11
	KindRecoveryRequest = 16
	KindTeamMembers     = 18
	KindAnswer          = 45
	KindTwoFactor       = 50
	KindNext            = 60
)

// Controller data types.
const (
	TypeLogin   = "login"
	TypeRelogin = "relogin"
	TypeMessage = "message"
)

// ControllerData is the data of every /service/controller message the
// client sends.
type ControllerData struct {
	Type    string `json:"type"`
	GameID  string `json:"gameid"`
	Host    string `json:"host"`
	Name    string `json:"name,omitempty"`
	CID     string `json:"cid,omitempty"`
	ID      int    `json:"id,omitempty"`
	Content string `json:"content,omitempty"` // JSON text
}

// Device is sent as login content so the host can show the player's agent.
type Device struct {
	UserAgent string `json:"userAgent"`
	Screen    Screen `json:"screen"`
}

type Screen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Login is a join request.
type Login struct {
	Pin       string
	Name      string
	UserAgent string
}

func (l Login) data() ControllerData {
	content, _ := json.Marshal(struct {
		Device Device `json:"device"`
	}{Device{UserAgent: l.UserAgent, Screen: Screen{Width: 1920, Height: 1080}}})
	return ControllerData{
		Type:    TypeLogin,
		GameID:  l.Pin,
		Host:    Host,
		Name:    l.Name,
		Content: string(content),
	}
}

// Relogin re-attaches a new transport to the participant identified by cid.
type Relogin struct {
	Pin string
	CID string
}

func (r Relogin) data() ControllerData {
	return ControllerData{
		Type:    TypeRelogin,
		GameID:  r.Pin,
		Host:    Host,
		CID:     r.CID,
		Content: "{}",
	}
}

// Command builds a controller message of the given kind. content is
// marshalled to JSON text; nil becomes "{}".
func Command(pin string, kind int, content any) (ControllerData, error) {
	text := "{}"
	if content != nil {
		b, err := json.Marshal(content)
		if err != nil {
			return ControllerData{}, fmt.Errorf("command %d content: %w", kind, err)
		}
		text = string(b)
	}
	return ControllerData{
		Type:    TypeMessage,
		GameID:  pin,
		Host:    Host,
		ID:      kind,
		Content: text,
	}, nil
}

// LoginResult is the data of a login or relogin ack.
type LoginResult struct {
	ParticipantID string `json:"participantId"`
	CID           string `json:"cid"`
	TwoFactorAuth bool   `json:"twoFactorAuth"`
	Namerator     bool   `json:"namerator"`
	SmartPractice bool   `json:"smartPractice"`
	GameMode      string `json:"gameMode"`
	Error         string `json:"error,omitempty"`
	Description   string `json:"description,omitempty"`
}

// PlayerMessage is the data of a /service/player push.
type PlayerMessage struct {
	Type    string `json:"type"`
	ID      int    `json:"id"`
	CID     string `json:"cid,omitempty"`
	Content string `json:"content"` // JSON text
}

// ParsePlayer extracts the player message from a /service/player envelope.
func ParsePlayer(env *envelope.Envelope) (*PlayerMessage, error) {
	var m PlayerMessage
	if err := env.DecodeData(&m); err != nil {
		return nil, fmt.Errorf("%w: player data: %v", envelope.ErrMalformedFrame, err)
	}
	return &m, nil
}

// Decode unmarshals the message content into v. Empty content leaves v
// untouched.
func (m *PlayerMessage) Decode(v any) error {
	if m.Content == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(m.Content), v); err != nil {
		return fmt.Errorf("%w: content of kind %d: %v", envelope.ErrMalformedFrame, m.ID, err)
	}
	return nil
}

// Raw returns the content as raw JSON, nil when empty.
func (m *PlayerMessage) Raw() json.RawMessage {
	if m.Content == "" {
		return nil
	}
	return json.RawMessage(m.Content)
}

// HandshakeExt is the extension sent with /meta/handshake. ack:true turns
// on the server's acknowledgement extension.
func HandshakeExt() *envelope.Ext {
	return &envelope.Ext{Other: map[string]json.RawMessage{"ack": json.RawMessage("true")}}
}

// ConnectExt is the extension of a /meta/connect carrying the ack counter.
func ConnectExt(ack int64) *envelope.Ext {
	return &envelope.Ext{Ack: &ack}
}
