package timeout

import (
	"sync"
	"time"
)

// Scheduler keeps at most one pending timer per call id.
//
// A fired callback only knows the timer went off; it must re-check the
// authoritative call state before acting, since Disarm can lose the race with
// a timer that has already started running.
type Scheduler struct {
	delay time.Duration

	mu      sync.Mutex
	timers  map[string]*entry
	stopped bool
}

type entry struct {
	t *time.Timer
}

func New(delay time.Duration) *Scheduler {
	return &Scheduler{delay: delay, timers: make(map[string]*entry)}
}

// Arm schedules onFire for id after the configured delay, replacing any timer
// already armed for the same id. It is a no-op after Stop.
func (s *Scheduler) Arm(id string, onFire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[id]; ok {
		old.t.Stop()
	}
	e := &entry{}
	e.t = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		// A re-arm for the same id replaced us; the newer timer owns the slot.
		if cur, ok := s.timers[id]; !ok || cur != e {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()
		onFire()
	})
	s.timers[id] = e
}

// Disarm cancels the timer for id. It reports whether a pending timer was
// removed.
func (s *Scheduler) Disarm(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	e.t.Stop()
	return true
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) IsArmed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Stop cancels every pending timer and refuses new ones. Calls still ringing
// are picked up by the sweeper on whichever instance runs next.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, e := range s.timers {
		e.t.Stop()
		delete(s.timers, id)
	}
}
