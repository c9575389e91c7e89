// ============================================================================
// Eventbus Result Store
// ============================================================================
//
// Package: internal/bus
// File: resultstore.go
// Purpose: An id-keyed map of finalized EventResults, drained by GetResults/
// Join rather than retained as a log.
//
// Grounded on jobmanager.JobManager's hybrid map-plus-indices design (a
// single map plus queue/in-flight/completed/dead secondary state), here
// collapsed to one map since the bus has no persistence or in-flight index
// to maintain - only "has this id finished yet." A sync.Cond plays the
// part jobmanager's polling-free Pop/wait machinery plays, letting Join
// block without spinning.
//
// ============================================================================

package bus

import (
	"sync"
	"time"

	"github.com/ChuLiYu/eventbus/pkg/eventbus"
)

type resultStore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	results map[eventbus.EventID]eventbus.EventResult
}

func newResultStore() *resultStore {
	s := &resultStore{results: make(map[eventbus.EventID]eventbus.EventResult)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// put records a finalized result and wakes any Join waiting on it.
func (s *resultStore) put(res eventbus.EventResult) {
	s.mu.Lock()
	s.results[res.EventID] = res
	s.mu.Unlock()
	s.cond.Broadcast()
}

// drain returns and removes whichever of ids already have a result,
// leaving unfinished ids untouched.
func (s *resultStore) drain(ids []eventbus.EventID) map[eventbus.EventID]eventbus.EventResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[eventbus.EventID]eventbus.EventResult, len(ids))
	for _, id := range ids {
		if r, ok := s.results[id]; ok {
			out[id] = r
			delete(s.results, id)
		}
	}
	return out
}

// drainAll returns and removes every currently finalized result, used when
// GetResults is called with ids == nil.
func (s *resultStore) drainAll() map[eventbus.EventID]eventbus.EventResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.results
	s.results = make(map[eventbus.EventID]eventbus.EventResult)
	return out
}

// join blocks until every id in ids has a result or timeout elapses. It
// returns whatever results resolved (draining them from the store) and
// whether every id resolved in time.
func (s *resultStore) join(ids []eventbus.EventID, timeout time.Duration) (map[eventbus.EventID]eventbus.EventResult, bool) {
	deadline := time.Now().Add(timeout)
	out := make(map[eventbus.EventID]eventbus.EventResult, len(ids))
	pending := make(map[eventbus.EventID]struct{}, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		for id := range pending {
			if r, ok := s.results[id]; ok {
				out[id] = r
				delete(s.results, id)
				delete(pending, id)
			}
		}
		if len(pending) == 0 {
			return out, true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return out, false
		}
		waitWithTimeout(s.cond, remaining)
	}
}

// waitWithTimeout blocks on cond.Wait() but is guaranteed to return within
// d, since sync.Cond has no native deadline: a timer fires after d,
// re-acquires the same lock, and broadcasts to unblock the waiter so the
// caller can re-check its own deadline.
func waitWithTimeout(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
}
