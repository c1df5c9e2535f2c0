package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedFrame is returned by Decode when a frame is not valid JSON
// or an envelope in it lacks a channel or an id.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrProtocolRejected matches every rejection, whether the server marked a
// response successful:false or the client refused a command before it
// reached the transport. Use errors.As with *RejectedError for the reason.
var ErrProtocolRejected = errors.New("protocol rejected")

// Well-known channels. Anything else is passed through for routing.
const (
	ChannelHandshake  = "/meta/handshake"
	ChannelConnect    = "/meta/connect"
	ChannelDisconnect = "/meta/disconnect"
	ChannelSubscribe  = "/meta/subscribe"
	ChannelController = "/service/controller"
	ChannelPlayer     = "/service/player"
	ChannelStatus     = "/service/status"
)

// Negotiated on /meta/handshake and /meta/connect.
const (
	Version        = "1.0"
	ConnectionType = "websocket"
)

// Envelope is one wire-level message. The channel names the topic, the id
// correlates a request with its acknowledgement, and Data is the
// channel-specific payload kept opaque until a handler projects it.
type Envelope struct {
	Channel    string          `json:"channel"`
	ID         string          `json:"id"`
	ClientID   string          `json:"clientId,omitempty"`
	Ext        *Ext            `json:"ext,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Successful *bool           `json:"successful,omitempty"`
	Error      string          `json:"error,omitempty"`
	Advice     *Advice         `json:"advice,omitempty"`

	// handshake and connect negotiation
	Version                  string   `json:"version,omitempty"`
	MinimumVersion           string   `json:"minimumVersion,omitempty"`
	SupportedConnectionTypes []string `json:"supportedConnectionTypes,omitempty"`
	ConnectionType           string   `json:"connectionType,omitempty"`
}

// Advice is the server's reconnect guidance attached to meta responses.
type Advice struct {
	Reconnect string `json:"reconnect,omitempty"` // "retry", "handshake" or "none"
	Interval  int64  `json:"interval,omitempty"`  // ms to wait before the next connect
	Timeout   int64  `json:"timeout,omitempty"`
}

// Ext carries the timing marker the server uses to validate timing
// sensitive answers, the connect ack counter, and anything else the
// server put in the extension object.
type Ext struct {
	Timetrack int64
	Ack       *int64
	Other     map[string]json.RawMessage
}

func (e Ext) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Other)+2)
	for k, v := range e.Other {
		m[k] = v
	}
	if e.Timetrack != 0 {
		m["timetrack"] = e.Timetrack
	}
	if e.Ack != nil {
		m["ack"] = *e.Ack
	}
	return json.Marshal(m)
}

func (e *Ext) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if raw, ok := m["timetrack"]; ok {
		if err := json.Unmarshal(raw, &e.Timetrack); err != nil {
			return fmt.Errorf("ext.timetrack: %w", err)
		}
		delete(m, "timetrack")
	}
	if raw, ok := m["ack"]; ok {
		// handshake uses ack:true, connect uses a counter
		var n int64
		if json.Unmarshal(raw, &n) == nil {
			e.Ack = &n
			delete(m, "ack")
		}
	}
	if len(m) > 0 {
		e.Other = m
	}
	return nil
}

// Timetrack returns ext.timetrack, or 0 when the envelope has no ext.
func (e *Envelope) Timetrack() int64 {
	if e.Ext == nil {
		return 0
	}
	return e.Ext.Timetrack
}

// IsMeta reports whether the envelope belongs to a /meta/ channel.
func (e *Envelope) IsMeta() bool {
	return strings.HasPrefix(e.Channel, "/meta/")
}

// Succeeded reports whether the envelope is not an explicit rejection.
// A missing successful field counts as success; pushes never carry it.
func (e *Envelope) Succeeded() bool {
	return e.Successful == nil || *e.Successful
}

// DecodeData unmarshals Data into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty data", e.Channel)
	}
	return json.Unmarshal(e.Data, v)
}

// Err returns nil unless the server marked the envelope successful:false,
// in which case it returns a *RejectedError carrying the server's reason.
func (e *Envelope) Err() error {
	if e.Succeeded() {
		return nil
	}
	return &RejectedError{
		Channel: e.Channel,
		ID:      e.ID,
		Reason:  e.rejectionReason(),
	}
}

// rejectionReason prefers the bayeux error field, then the descriptive
// fields controllers put in data.
func (e *Envelope) rejectionReason() string {
	if e.Error != "" {
		return e.Error
	}
	var d struct {
		Description string `json:"description"`
		Error       string `json:"error"`
		Reason      string `json:"reason"`
	}
	if len(e.Data) > 0 && json.Unmarshal(e.Data, &d) == nil {
		switch {
		case d.Description != "":
			return d.Description
		case d.Error != "":
			return d.Error
		case d.Reason != "":
			return d.Reason
		}
	}
	return "unsuccessful"
}

// RejectedError is a command rejection. Local is set when the client
// refused the command itself and nothing was sent.
type RejectedError struct {
	Channel string
	ID      string
	Reason  string
	Local   bool
}

func (e *RejectedError) Error() string {
	if e.Local {
		return fmt.Sprintf("protocol rejected (client): %s", e.Reason)
	}
	return fmt.Sprintf("protocol rejected on %s [%s]: %s", e.Channel, e.ID, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrProtocolRejected
}

// Reject builds a client-side rejection.
func Reject(format string, args ...any) *RejectedError {
	return &RejectedError{Reason: fmt.Sprintf(format, args...), Local: true}
}

// Bool is a small helper for the optional successful field.
func Bool(b bool) *bool {
	return &b
}
