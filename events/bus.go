package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Name identifies an event.
type Name string

const (
	Disconnect       Name = "Disconnect"
	Feedback         Name = "Feedback"
	GameReset        Name = "GameReset"
	Joined           Name = "Joined"
	NameAccept       Name = "NameAccept"
	Podium           Name = "Podium"
	QuestionEnd      Name = "QuestionEnd"
	QuestionReady    Name = "QuestionReady"
	QuestionStart    Name = "QuestionStart"
	QuizEnd          Name = "QuizEnd"
	QuizStart        Name = "QuizStart"
	RecoveryData     Name = "RecoveryData"
	TeamAccept       Name = "TeamAccept"
	TeamTalk         Name = "TeamTalk"
	TimeOver         Name = "TimeOver"
	TwoFactorCorrect Name = "TwoFactorCorrect"
	TwoFactorReset   Name = "TwoFactorReset"
	TwoFactorWrong   Name = "TwoFactorWrong"
)

// All lists every event a client emits.
var All = []Name{
	Disconnect, Feedback, GameReset, Joined, NameAccept, Podium,
	QuestionEnd, QuestionReady, QuestionStart, QuizEnd, QuizStart,
	RecoveryData, TeamAccept, TeamTalk, TimeOver,
	TwoFactorCorrect, TwoFactorReset, TwoFactorWrong,
}

// Listener receives an event's payload. Payload types are documented on
// the client's typed On* helpers.
type Listener func(payload any)

type entry struct {
	id   uint64
	fn   Listener
	once bool
	done bool // once listener already fired, guarded by Bus.mu
}

type delivery struct {
	name      Name
	payload   any
	listeners []*entry
}

// Bus is a per-client listener registry. Emit never blocks: deliveries
// are queued and handed to listeners on a single dispatcher goroutine in
// emission order. A listener may therefore call back into the client
// that emitted the event.
type Bus struct {
	mu        sync.Mutex
	listeners map[Name][]*entry
	nextID    uint64
	queue     []delivery
	wake      chan struct{}
	closed    bool
	done      chan struct{}
	logger    *slog.Logger
}

// NewBus starts a bus and its dispatcher. logger may be nil.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := &Bus{
		listeners: make(map[Name][]*entry),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger:    logger.With("component", "events"),
	}
	go b.dispatch()
	return b
}

// On registers fn for name and returns a function that removes it.
func (b *Bus) On(name Name, fn Listener) (off func()) {
	return b.add(name, fn, false)
}

// Once registers fn for the next delivery of name only.
func (b *Bus) Once(name Name, fn Listener) (off func()) {
	return b.add(name, fn, true)
}

func (b *Bus) add(name Name, fn Listener, once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	e := &entry{id: b.nextID, fn: fn, once: once}
	b.listeners[name] = append(b.listeners[name], e)
	return func() { b.remove(name, e.id) }
}

func (b *Bus) remove(name Name, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.listeners[name]
	for i, e := range list {
		if e.id == id {
			e.done = true
			b.listeners[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.listeners[name]) == 0 {
		delete(b.listeners, name)
	}
}

// Off removes every listener of name.
func (b *Bus) Off(name Name) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.listeners[name] {
		e.done = true
	}
	delete(b.listeners, name)
}

// ListenerCount returns how many listeners name has.
func (b *Bus) ListenerCount(name Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[name])
}

// Emit queues payload for the listeners registered for name right now.
// It reports false when the bus is closed and nothing was queued.
func (b *Bus) Emit(name Name, payload any) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	list := b.listeners[name]
	snapshot := make([]*entry, len(list))
	copy(snapshot, list)
	b.queue = append(b.queue, delivery{name: name, payload: payload, listeners: snapshot})
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting events. Deliveries already queued still reach
// their listeners, after which every listener is dropped and Done is
// closed. Close does not wait, so a listener may call it.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the bus is closed and drained.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for range b.wake {
		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				closed := b.closed
				if closed {
					b.listeners = make(map[Name][]*entry)
				}
				b.mu.Unlock()
				if closed {
					return
				}
				break
			}
			d := b.queue[0]
			b.queue[0] = delivery{}
			b.queue = b.queue[1:]
			b.mu.Unlock()

			b.deliver(d)
		}
	}
}

func (b *Bus) deliver(d delivery) {
	for _, e := range d.listeners {
		b.mu.Lock()
		if e.done {
			b.mu.Unlock()
			continue
		}
		if e.once {
			e.done = true
			b.mu.Unlock()
			b.remove(d.name, e.id)
		} else {
			b.mu.Unlock()
		}
		b.call(d.name, e.fn, d.payload)
	}
}

// call runs one listener, keeping the dispatcher alive if it panics.
func (b *Bus) call(name Name, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panicked", "event", string(name), "panic", fmt.Sprint(r))
		}
	}()
	fn(payload)
}

// Subscribe registers a typed listener. Payloads of another type are
// ignored.
func Subscribe[T any](b *Bus, name Name, fn func(T)) (off func()) {
	return b.On(name, func(payload any) {
		if v, ok := payload.(T); ok {
			fn(v)
		}
	})
}

// SubscribeOnce is Subscribe for a single delivery.
func SubscribeOnce[T any](b *Bus, name Name, fn func(T)) (off func()) {
	return b.Once(name, func(payload any) {
		if v, ok := payload.(T); ok {
			fn(v)
		}
	})
}
