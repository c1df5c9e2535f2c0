package handshake

// AckCounter tracks which server pushes the client has seen, for the ack
// carried on /meta/connect. It is owned by the client loop.
//
// Every /service/player frame is observed before any handler decides
// whether to act on it, so a frame dropped by a disabled module is still
// acknowledged and the server never redelivers it.
type AckCounter struct {
	received uint64 // frames observed since the counter was created
	acked    uint64 // value carried on the last /meta/connect sent
}

// NewAckCounter creates a counter with nothing received.
func NewAckCounter() *AckCounter {
	return &AckCounter{}
}

// Observe records one received frame.
func (a *AckCounter) Observe() {
	a.received++
}

// Next returns the value for the next /meta/connect and marks it as
// carried. The value never decreases.
func (a *AckCounter) Next() int64 {
	a.acked = a.received
	return int64(a.acked)
}

// Received returns how many frames were observed.
func (a *AckCounter) Received() uint64 {
	return a.received
}

// Outstanding returns how many observed frames have not yet been carried
// on a /meta/connect.
func (a *AckCounter) Outstanding() uint64 {
	return a.received - a.acked
}
