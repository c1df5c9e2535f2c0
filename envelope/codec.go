package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Codec builds outbound envelopes. One Codec belongs to one client and is
// only touched from that client's loop, so it carries no lock.
type Codec struct {
	ids      *IDSource
	clock    *Clock
	clientID string
}

// NewCodec creates a codec reading time from now (time.Now when nil).
func NewCodec(now func() time.Time) *Codec {
	return &Codec{
		ids:   NewIDSource(),
		clock: NewClock(now),
	}
}

// SetClientID records the id the server assigned during the handshake.
// Every envelope encoded afterwards carries it.
func (c *Codec) SetClientID(id string) {
	c.clientID = id
}

// ClientID returns the handshake-assigned id, empty before the handshake.
func (c *Codec) ClientID() string {
	return c.clientID
}

// Timetrack returns the current, never decreasing, timing marker.
func (c *Codec) Timetrack() int64 {
	return c.clock.Timetrack()
}

// Clock exposes the codec's clock so timing computations share one source.
func (c *Codec) Clock() *Clock {
	return c.clock
}

// Encode wraps data in an envelope for channel with a fresh id and the
// current timetrack. data may be nil, a json.RawMessage, or anything
// encoding/json can marshal. ext may be nil; its Timetrack is overwritten.
func (c *Codec) Encode(channel string, data any, ext *Ext) (*Envelope, error) {
	if channel == "" {
		return nil, errors.New("encode: empty channel")
	}

	var raw json.RawMessage
	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		raw = d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", channel, err)
		}
		raw = b
	}

	if ext == nil {
		ext = &Ext{}
	}
	ext.Timetrack = c.clock.Timetrack()

	env := &Envelope{
		Channel:  channel,
		ID:       c.ids.Next(),
		ClientID: c.clientID,
		Ext:      ext,
		Data:     raw,
	}
	switch channel {
	case ChannelHandshake:
		env.Version = Version
		env.MinimumVersion = Version
		env.SupportedConnectionTypes = []string{ConnectionType}
	case ChannelConnect:
		env.ConnectionType = ConnectionType
	}
	return env, nil
}

// Marshal renders envelopes as one frame. Frames are always JSON arrays,
// the batch form every bayeux server accepts.
func Marshal(envs ...*Envelope) ([]byte, error) {
	return json.Marshal(envs)
}

// Decode parses one inbound frame. A frame is either a single envelope
// object or an array of them. Envelopes missing a channel or an id are
// dropped and reported through an error wrapping ErrMalformedFrame; the
// well-formed envelopes of the same batch are still returned.
func Decode(frame []byte) ([]*Envelope, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	case '{':
		items = []json.RawMessage{trimmed}
	default:
		return nil, fmt.Errorf("%w: not a json object or array", ErrMalformedFrame)
	}

	envs := make([]*Envelope, 0, len(items))
	var errs []error
	for i, item := range items {
		env, err := decodeOne(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("envelope %d: %w", i, err))
			continue
		}
		envs = append(envs, env)
	}
	return envs, errors.Join(errs...)
}

func decodeOne(raw json.RawMessage) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Channel == "" {
		return nil, fmt.Errorf("%w: missing channel", ErrMalformedFrame)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("%w: missing id on %s", ErrMalformedFrame, env.Channel)
	}
	return &env, nil
}
