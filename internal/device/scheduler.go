package device

import (
	"errors"
	"sync"
	"time"
)

// ErrSchedulerStopped is returned when scheduling after Stop.
var ErrSchedulerStopped = errors.New("device: scheduler stopped")

// Scheduler runs delayed callbacks grouped by key.
//
// A callback only runs if its entry is still registered when the timer
// fires, so cancelling or replacing a key reliably suppresses callbacks
// whose timers have already expired but not yet run.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Callbacks run on their own goroutine; Stop waits for running ones.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string][]*scheduledTask
	nextID  uint64
	stopped bool
	running sync.WaitGroup
}

type scheduledTask struct {
	id    uint64
	due   time.Time
	timer *time.Timer
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{entries: make(map[string][]*scheduledTask)}
}

// Schedule runs fn after d, cancelling anything already pending for key.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) error {
	return s.add(key, d, fn, true)
}

// Add runs fn after d alongside anything already pending for key.
func (s *Scheduler) Add(key string, d time.Duration, fn func()) error {
	return s.add(key, d, fn, false)
}

func (s *Scheduler) add(key string, d time.Duration, fn func(), replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if replace {
		s.cancelLocked(key)
	}

	s.nextID++
	task := &scheduledTask{id: s.nextID, due: time.Now().Add(d)}
	id := task.id
	task.timer = time.AfterFunc(d, func() { s.fire(key, id, fn) })
	s.entries[key] = append(s.entries[key], task)
	return nil
}

func (s *Scheduler) fire(key string, id uint64, fn func()) {
	s.mu.Lock()
	if !s.removeLocked(key, id) || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	fn()
}

// Cancel drops every pending callback for key.
//
// Returns:
//   - int: Number of callbacks cancelled
func (s *Scheduler) Cancel(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key)
}

// Pending returns the earliest due time for key.
func (s *Scheduler) Pending(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	for _, task := range s.entries[key] {
		if earliest.IsZero() || task.due.Before(earliest) {
			earliest = task.due
		}
	}
	return earliest, !earliest.IsZero()
}

// Stop cancels everything pending, rejects new work and waits for
// callbacks that are already running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key := range s.entries {
		s.cancelLocked(key)
	}
	s.mu.Unlock()

	s.running.Wait()
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler) cancelLocked(key string) int {
	tasks := s.entries[key]
	for _, task := range tasks {
		task.timer.Stop()
	}
	delete(s.entries, key)
	return len(tasks)
}

func (s *Scheduler) removeLocked(key string, id uint64) bool {
	tasks := s.entries[key]
	for i, task := range tasks {
		if task.id == id {
			tasks = append(tasks[:i], tasks[i+1:]...)
			if len(tasks) == 0 {
				delete(s.entries, key)
			} else {
				s.entries[key] = tasks
			}
			return true
		}
	}
	return false
}
