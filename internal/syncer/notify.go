package syncer

import (
	"sync"

	"calnote/internal/models"
)

// subscribers holds the listeners for the two update notifications.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	events map[int]func([]*models.Event)
	status map[int]func(models.SyncState)
}

// OnEventsUpdated registers fn to receive the flattened event list whenever
// the cache changes. The returned function unsubscribes.
func (s *Syncer) OnEventsUpdated(fn func([]*models.Event)) func() {
	return s.subs.add(func(id int) {
		if s.subs.events == nil {
			s.subs.events = make(map[int]func([]*models.Event))
		}
		s.subs.events[id] = fn
	}, func(id int) { delete(s.subs.events, id) })
}

// OnStatusChanged registers fn to receive the sync state on every
// transition. The returned function unsubscribes.
func (s *Syncer) OnStatusChanged(fn func(models.SyncState)) func() {
	return s.subs.add(func(id int) {
		if s.subs.status == nil {
			s.subs.status = make(map[int]func(models.SyncState))
		}
		s.subs.status[id] = fn
	}, func(id int) { delete(s.subs.status, id) })
}

func (b *subscribers) add(register, unregister func(id int)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	register(id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			unregister(id)
			b.mu.Unlock()
		})
	}
}

func (b *subscribers) emitEvents(events []*models.Event) {
	b.mu.Lock()
	fns := make([]func([]*models.Event), 0, len(b.events))
	for _, fn := range b.events {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(events)
	}
}

func (b *subscribers) emitStatus(state models.SyncState) {
	b.mu.Lock()
	fns := make([]func(models.SyncState), 0, len(b.status))
	for _, fn := range b.status {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
