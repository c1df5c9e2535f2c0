package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/risa-org/quizlink/envelope"
)

// DefaultTimeout applies when Register is given a zero timeout.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is the rejection of a request that got no ack in time.
var ErrTimeout = errors.New("request timed out")

// ErrDuplicateID is returned when an id is registered while a request
// with the same id is still outstanding.
var ErrDuplicateID = errors.New("duplicate request id")

// Handle is the caller's side of one pending request.
// Exactly one of result or err is set, exactly once.
type Handle struct {
	id        string
	createdAt time.Time
	done      chan struct{}
	result    *envelope.Envelope
	err       error
	abandon   func(error)
}

// ID returns the correlation id the handle waits on.
func (h *Handle) ID() string {
	return h.id
}

// CreatedAt returns when the request was registered.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// Done is closed once the request settles.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the request settles or ctx ends. When ctx ends first
// the request is rejected with ctx's error, so nothing is left pending.
func (h *Handle) Wait(ctx context.Context) (*envelope.Envelope, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		h.abandon(ctx.Err())
		<-h.done
		return h.result, h.err
	}
}

// pending is the correlator's record of one outstanding request.
type pending struct {
	handle *Handle
	timer  *time.Timer
}

// Correlator matches acknowledgements to requests by id.
// It is safe for concurrent use: timers settle requests from their own
// goroutines while the client loop resolves them from inbound frames.
type Correlator struct {
	mu       sync.Mutex
	pending  map[string]*pending
	timeout  time.Duration
	closeErr error // set once closed; new registrations fail with it
	now      func() time.Time
}

// New creates a correlator. A zero timeout means DefaultTimeout.
func New(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{
		pending: make(map[string]*pending),
		timeout: timeout,
		now:     time.Now,
	}
}

// Register creates a pending request for id that auto-rejects with
// ErrTimeout after timeout (the correlator default when zero).
func (c *Correlator) Register(id string, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeErr != nil {
		return nil, c.closeErr
	}
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	h := &Handle{
		id:        id,
		createdAt: c.now(),
		done:      make(chan struct{}),
	}
	h.abandon = func(err error) {
		c.Reject(id, err)
	}
	p := &pending{handle: h}
	p.timer = time.AfterFunc(timeout, func() {
		c.Reject(id, fmt.Errorf("%w: request %s after %s", ErrTimeout, id, timeout))
	})
	c.pending[id] = p
	return h, nil
}

// Resolve settles id successfully. Returns false if no such request is
// pending, which makes a second settle a no-op.
func (c *Correlator) Resolve(id string, env *envelope.Envelope) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	p.handle.result = env
	close(p.handle.done)
	return true
}

// Reject settles id with err. Returns false if no such request is pending.
func (c *Correlator) Reject(id string, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	p.handle.err = err
	close(p.handle.done)
	return true
}

// Settle resolves or rejects the request env acknowledges, depending on
// whether the server marked it successful. Returns false when env matches
// no pending request.
func (c *Correlator) Settle(env *envelope.Envelope) bool {
	if err := env.Err(); err != nil {
		p := c.take(env.ID)
		if p == nil {
			return false
		}
		p.handle.result = env
		p.handle.err = err
		close(p.handle.done)
		return true
	}
	return c.Resolve(env.ID, env)
}

// Discard forgets a registration whose frame never left. The handle is
// rejected with err so a stray waiter still wakes up.
func (c *Correlator) Discard(id string, err error) {
	c.Reject(id, err)
}

// RejectAll rejects every outstanding request with err and returns how
// many there were. New registrations are still accepted.
func (c *Correlator) RejectAll(err error) int {
	c.mu.Lock()
	all := c.pending
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	for _, p := range all {
		p.timer.Stop()
		p.handle.err = err
		close(p.handle.done)
	}
	return len(all)
}

// Close rejects everything outstanding with err and refuses any further
// registration with the same err. Closing twice keeps the first err and
// rejects nothing the second time.
func (c *Correlator) Close(err error) int {
	c.mu.Lock()
	if c.closeErr != nil {
		c.mu.Unlock()
		return 0
	}
	c.closeErr = err
	c.mu.Unlock()
	return c.RejectAll(err)
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Has reports whether id is outstanding.
func (c *Correlator) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// take removes and returns the pending entry for id, stopping its timer.
// Removal under the lock is what guarantees a single settlement.
func (c *Correlator) take(id string) *pending {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	p.timer.Stop()
	return p
}
