package governor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/openvoiced/voiced/internal/fault"
)

// MemoryBudget bounds the total bytes of audio buffered across the daemon
// and the bytes any single request may hold.
type MemoryBudget struct {
	global     int64
	perRequest int64
	used       atomic.Int64
}

// Reservation holds bytes against the global budget until released.
// Release is idempotent.
type Reservation struct {
	budget *MemoryBudget
	bytes  int64
	once   sync.Once
}

func NewMemoryBudget(globalMB, perRequestMB int) *MemoryBudget {
	return &MemoryBudget{
		global:     int64(globalMB) << 20,
		perRequest: int64(perRequestMB) << 20,
	}
}

// Reserve claims n bytes. It fails without changing the counter when n
// exceeds the per-request ceiling or would push usage past the global budget.
func (m *MemoryBudget) Reserve(n int64) (*Reservation, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: reservation size must be positive", fault.ErrMalformedInput)
	}
	if n > m.perRequest {
		return nil, fmt.Errorf("%w: %d bytes exceeds per-request ceiling of %d",
			fault.ErrResourceExhausted, n, m.perRequest)
	}
	for {
		used := m.used.Load()
		if used+n > m.global {
			return nil, fmt.Errorf("%w: global audio budget exhausted (%d of %d bytes in use)",
				fault.ErrResourceExhausted, used, m.global)
		}
		if m.used.CompareAndSwap(used, used+n) {
			return &Reservation{budget: m, bytes: n}, nil
		}
	}
}

// Used reports bytes currently reserved.
func (m *MemoryBudget) Used() int64 {
	return m.used.Load()
}

// Release returns the reservation's bytes to the budget. Safe to call more
// than once; only the first call has effect.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.budget.used.Add(-r.bytes)
	})
}

// Bytes reports the size of the reservation.
func (r *Reservation) Bytes() int64 {
	if r == nil {
		return 0
	}
	return r.bytes
}
