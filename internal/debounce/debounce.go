// Package debounce provides a keyed trailing debouncer: one scheduled task
// per key, replaced whenever the key is scheduled again.
package debounce

import (
	"sync"
	"time"
)

// Map holds at most one pending task per key. Scheduling a key that already
// has a pending task cancels that task and restarts the countdown.
type Map[K comparable] struct {
	delay time.Duration

	mu      sync.Mutex
	slots   map[K]*slot
	stopped bool
	running sync.WaitGroup
}

type slot struct {
	timer *time.Timer
	fn    func()
	due   time.Time
}

// New creates a Map that runs tasks delay after their last scheduling.
func New[K comparable](delay time.Duration) *Map[K] {
	return &Map[K]{
		delay: delay,
		slots: make(map[K]*slot),
	}
}

// Delay returns the quiet period.
func (m *Map[K]) Delay() time.Duration {
	return m.delay
}

// Schedule arms fn for key, replacing any task still waiting for key.
// It is a no-op after Stop.
func (m *Map[K]) Schedule(key K, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	if old, ok := m.slots[key]; ok {
		old.timer.Stop()
	}
	m.armLocked(key, fn)
}

// Restore arms fn for key only when key has no task waiting, so a newer
// Schedule is never replaced. It reports whether fn was armed.
func (m *Map[K]) Restore(key K, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return false
	}
	if _, ok := m.slots[key]; ok {
		return false
	}
	m.armLocked(key, fn)
	return true
}

func (m *Map[K]) armLocked(key K, fn func()) {
	s := &slot{fn: fn, due: time.Now().Add(m.delay)}
	s.timer = time.AfterFunc(m.delay, func() { m.fire(key, s) })
	m.slots[key] = s
}

// fire runs s unless it was replaced or cancelled after its timer started.
// Timer.Stop cannot recall a callback that is already running, so the slot
// identity check is what keeps a superseded task from executing.
func (m *Map[K]) fire(key K, s *slot) {
	m.mu.Lock()
	if cur, ok := m.slots[key]; !ok || cur != s {
		m.mu.Unlock()
		return
	}
	delete(m.slots, key)
	m.running.Add(1)
	m.mu.Unlock()

	defer m.running.Done()
	s.fn()
}

// Cancel drops the pending task for key and reports whether there was one.
func (m *Map[K]) Cancel(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[key]
	if !ok {
		return false
	}
	s.timer.Stop()
	delete(m.slots, key)
	return true
}

// Pending reports whether key has a task waiting.
func (m *Map[K]) Pending(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[key]
	return ok
}

// Due returns when the pending task for key will run.
func (m *Map[K]) Due(key K) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		return time.Time{}, false
	}
	return s.due, true
}

// Len returns the number of pending tasks.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Drain cancels every pending timer and hands the tasks back to the caller
// so they can be run immediately.
func (m *Map[K]) Drain() map[K]func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[K]func(), len(m.slots))
	for key, s := range m.slots {
		s.timer.Stop()
		out[key] = s.fn
	}
	m.slots = make(map[K]*slot)
	return out
}

// Stop cancels all pending tasks, rejects further scheduling and waits for
// tasks whose timer already fired. It must not be called from a task.
func (m *Map[K]) Stop() {
	m.mu.Lock()
	m.stopped = true
	for _, s := range m.slots {
		s.timer.Stop()
	}
	m.slots = make(map[K]*slot)
	m.mu.Unlock()

	m.running.Wait()
}
