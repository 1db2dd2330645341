// Package debounce coalesces rapid events into one delayed action per
// logical channel. Only the most recently scheduled callback for a channel
// fires; scheduling again cancels the pending one. No retries, no state: the
// scheduler purely delays.
package debounce

import (
	"sync"
	"time"
)

type pending struct {
	seq   uint64
	timer *time.Timer
}

type Scheduler struct {
	mu      sync.Mutex
	next    uint64
	entries map[string]*pending
	stopped bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{entries: make(map[string]*pending)}
}

// Schedule arms fn to run after delay on the given channel, cancelling any
// callback already pending there. It returns the sequence number of the
// armed callback.
func (s *Scheduler) Schedule(channel string, delay time.Duration, fn func()) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}

	if entry, ok := s.entries[channel]; ok {
		entry.timer.Stop()
	}

	s.next++
	seq := s.next
	entry := &pending{seq: seq}
	entry.timer = time.AfterFunc(delay, func() {
		if !s.claim(channel, seq) {
			return
		}
		fn()
	})
	s.entries[channel] = entry
	return seq
}

// claim removes the pending entry iff it is still the armed one. A timer
// that lost the race to a newer Schedule or a Cancel does not fire its fn.
func (s *Scheduler) claim(channel string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[channel]
	if !ok || entry.seq != seq || s.stopped {
		return false
	}
	delete(s.entries, channel)
	return true
}

// Cancel drops the pending callback for a channel, reporting whether one was
// armed.
func (s *Scheduler) Cancel(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[channel]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.entries, channel)
	return true
}

// Pending reports whether a callback is armed on the channel.
func (s *Scheduler) Pending(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[channel]
	return ok
}

// Stop cancels everything; the scheduler refuses further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for channel, entry := range s.entries {
		entry.timer.Stop()
		delete(s.entries, channel)
	}
}
