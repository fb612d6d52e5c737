package dispatch

import (
	"fmt"
	"sync"
)

// Dispatcher hands out backends per the expanded-slot weighted
// round-robin schedule: each backend is conceptually replicated
// weight times into one sequence (backend 0 repeated w0 times,
// backend 1 repeated w1 times, ...), and Next walks that sequence
// cyclically. The schedule is built once at construction time so
// Next itself is an O(1) cursor bump under a mutex.
type Dispatcher struct {
	backends []Backend
	schedule []int // indices into backends, length == total weight

	mu     sync.Mutex
	cursor int
}

// New builds a Dispatcher over backends in the given order. Returns an
// error if backends is empty or any backend has weight < 1 — this is
// a startup-time (ConfigError-class) failure, never observed at
// Next() time per the invariant that the backend set is immutable
// after startup.
func New(backends []Backend) (*Dispatcher, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("dispatch: at least one backend is required")
	}

	total := 0
	for i, b := range backends {
		if b.Weight() < 1 {
			return nil, fmt.Errorf("dispatch: backend %d (%s): weight must be >= 1, got %d", i, b, b.Weight())
		}
		total += b.Weight()
	}

	schedule := make([]int, 0, total)
	for i, b := range backends {
		for n := 0; n < b.Weight(); n++ {
			schedule = append(schedule, i)
		}
	}

	return &Dispatcher{backends: backends, schedule: schedule}, nil
}

// Next returns the next backend per the expanded-slot schedule.
// Concurrent callers are linearized: each call observes and advances
// a single shared cursor, so the sequence of returns across all
// callers is the cyclic repetition of the schedule with no gaps or
// repeats introduced by concurrency.
func (d *Dispatcher) Next() Backend {
	d.mu.Lock()
	b := d.backends[d.schedule[d.cursor]]
	d.cursor = (d.cursor + 1) % len(d.schedule)
	d.mu.Unlock()
	return b
}

// Backends returns the configured backend set in input order. Callers
// must not mutate the returned slice.
func (d *Dispatcher) Backends() []Backend {
	return d.backends
}

// TotalWeight is the sum of all backend weights, i.e. the schedule
// length and the window size over which the WRR distribution
// invariant holds exactly.
func (d *Dispatcher) TotalWeight() int {
	return len(d.schedule)
}
