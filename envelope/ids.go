package envelope

import (
	"strconv"
	"time"
)

// IDSource hands out correlation ids. It lives as long as the client that
// owns it, across reconnects, so an id is never reused within a session.
type IDSource struct {
	next uint64 // next number to assign
}

// NewIDSource starts numbering at 1, matching what bayeux servers expect.
func NewIDSource() *IDSource {
	return &IDSource{next: 1}
}

// Next returns a fresh id. Numbers never repeat.
func (s *IDSource) Next() string {
	id := s.next
	s.next++
	return strconv.FormatUint(id, 10)
}

// Peek returns the id the next call to Next will hand out.
func (s *IDSource) Peek() string {
	return strconv.FormatUint(s.next, 10)
}

// Clock produces timetrack values: wall-clock milliseconds that never go
// backwards, even if the system clock is stepped back between two reads.
type Clock struct {
	now  func() time.Time
	last int64
}

// NewClock wraps now. A nil now means time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Timetrack returns the current marker.
func (c *Clock) Timetrack() int64 {
	ms := c.now().UnixMilli()
	if ms < c.last {
		ms = c.last
	}
	c.last = ms
	return ms
}

// Now returns the underlying wall-clock time.
func (c *Clock) Now() time.Time {
	return c.now()
}
