package session

import (
	"errors"
	"time"
)

var ErrInvalidToken = errors.New("invalid resume token")

// ResumeToken is what a client keeps to get back into a game after losing
// its transport, possibly from a new process. The cid is the resume
// identifier the server issued at join; the pin names the game.
type ResumeToken struct {
	Pin           string    `json:"pin"`
	CID           string    `json:"cid"`
	PlayerName    string    `json:"player_name"`
	ParticipantID string    `json:"participant_id"`
	SavedAt       time.Time `json:"saved_at"`
}

// Validate returns ErrInvalidToken unless both pin and cid are present.
func (t ResumeToken) Validate() error {
	if t.Pin == "" || t.CID == "" {
		return ErrInvalidToken
	}
	return nil
}

// Override returns a copy with pin and cid replaced by any non-empty
// explicit values.
func (t ResumeToken) Override(pin, cid string) ResumeToken {
	if pin != "" {
		t.Pin = pin
	}
	if cid != "" {
		t.CID = cid
	}
	return t
}
