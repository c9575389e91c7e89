// ============================================================================
// Eventbus Worker-Process Health Monitoring
// ============================================================================
//
// Package: internal/corelet
// File: health.go
// Purpose: One monitor goroutine per worker process, pinging on an interval
// and interpreting the reply per spec.md §4.C "Health monitoring".
//
// Graceful-miss semantics (spec.md §9 Open Question #2, resolved in
// SPEC_FULL.md §11 from original_source/corelet_alive_handler.py): an
// ALIVE record arriving between pings is proof of life and resets the
// graceful-miss counter to zero, not just the dead-declaration counter -
// so a ping that races a long-running handler never accumulates toward
// "two consecutive misses."
//
// ============================================================================

package corelet

import (
	"bufio"
	"time"

	"github.com/ChuLiYu/eventbus/internal/corelet/wire"
)

func (p *Pool) monitorHealth(w *workerProcess) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		stopped := p.stopped
		_, stillTracked := p.all[w.id]
		p.mu.Unlock()
		if stopped || !stillTracked {
			return
		}

		if err := wire.Encode(w.healthW, wire.KindPing, struct{}{}); err != nil {
			p.declareDead(w)
			return
		}

		rec, err := readWithDeadline(w.healthR, p.cfg.HealthInterval)
		if err != nil {
			dead := p.recordMiss(w)
			if dead {
				p.declareDead(w)
				return
			}
			continue
		}

		switch rec.Kind {
		case wire.KindPong:
			w.mu.Lock()
			w.gracefulMisses = 0
			w.mu.Unlock()
			w.markActivity()
		case wire.KindAlive:
			// An ALIVE in-band progress signal is proof of life too -
			// reset the graceful-miss counter, not just suppress the
			// death declaration (SPEC_FULL.md §11).
			w.mu.Lock()
			w.gracefulMisses = 0
			w.mu.Unlock()
			w.markActivity()
		case wire.KindDied:
			p.declareDead(w)
			return
		}
	}
}

// recordMiss increments the worker's consecutive-miss counter and reports
// whether it has now reached HealthGraceMisses+1 (i.e. should be declared
// dead). The first missed reply is always graceful per spec.md §4.C.
func (p *Pool) recordMiss(w *workerProcess) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gracefulMisses++
	return w.gracefulMisses > p.cfg.HealthGraceMisses
}

func (p *Pool) declareDead(w *workerProcess) {
	log.Warn("corelet worker declared dead", "worker_id", w.id)
	p.destroy(w)
}

// readWithDeadline decodes one record from r, giving up after d. The
// decode runs in its own goroutine because a bufio.Reader wrapping a pipe
// has no portable read-deadline primitive across platforms; on timeout the
// caller is expected to kill the worker, which unblocks (and discards) the
// leaked read.
func readWithDeadline(r *bufio.Reader, d time.Duration) (wire.Record, error) {
	type outcome struct {
		rec wire.Record
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		rec, err := wire.Decode(r)
		ch <- outcome{rec, err}
	}()

	select {
	case o := <-ch:
		return o.rec, o.err
	case <-time.After(d):
		return wire.Record{}, errTimedOut
	}
}
