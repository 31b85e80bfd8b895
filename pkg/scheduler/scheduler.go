// Package scheduler runs named one-shot and periodic callbacks. Scheduling a
// name that is already pending replaces it, which makes After a debounce.
package scheduler

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

type entry struct {
	gen   uint64
	timer *time.Timer
	stop  chan struct{}
}

// Scheduler owns a set of named timers.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
	closed  bool
	wg      sync.WaitGroup
}

// New returns an empty Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{logger: logger, entries: make(map[string]*entry)}
}

// After runs fn once after d. A pending timer with the same name is
// cancelled first.
func (s *Scheduler) After(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.clearLocked(name)
	s.gen++
	gen := s.gen
	e := &entry{gen: gen}
	e.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		cur, ok := s.entries[name]
		if !ok || cur.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.entries, name)
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()
		s.run(name, fn)
	})
	s.entries[name] = e
}

// Every runs fn every period until the name is cleared or the scheduler
// stops. Runs of the same name never overlap.
func (s *Scheduler) Every(name string, period time.Duration, fn func()) {
	if period <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.clearLocked(name)
	s.gen++
	e := &entry{gen: s.gen, stop: make(chan struct{})}
	s.entries[name] = e

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				s.run(name, fn)
			}
		}
	}()
}

// Clear cancels the named timer. It reports whether one was pending.
func (s *Scheduler) Clear(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(name)
}

func (s *Scheduler) clearLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	delete(s.entries, name)
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.stop != nil {
		close(e.stop)
	}
	return true
}

// Pending reports whether the named timer is scheduled.
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

// Names lists the scheduled timers.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop cancels every timer and waits for callbacks that are already running.
// Later calls to After and Every are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	for name := range s.entries {
		s.clearLocked(name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "name", name, "panic", r)
		}
	}()
	fn()
}
