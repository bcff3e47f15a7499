package eventbus

import (
	"sync"
	"time"
)

// Job lifecycle events.
const (
	JobAdded      = "job.added"
	JobUpdated    = "job.updated"
	JobDeleted    = "job.deleted"
	RunStarted    = "job.run.started"
	RunFinished   = "job.run.finished"
	RunFailed     = "job.run.failed"
	RunSkipped    = "job.run.skipped"
	NativeFailed  = "native.registration.failed"
	CrontabSynced = "crontab.synced"
	ConfigApplied = "config.applied"
)

// Event is an in-memory signal between daemon components.
//
// Publish never blocks; a subscriber whose buffer is full misses events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus with no goroutines of its own.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]chan Event
}

// Publish holds the read lock across the non-blocking sends; unsubscribe
// needs the write lock to close, so no send can race a close.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}
