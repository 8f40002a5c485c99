package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo keeps audit events in process, indexed by call. Local runs
// without DB_HOST use it.
type MemoryRepo struct {
	mu     sync.Mutex
	all    []Event
	byCall map[string][]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byCall: make(map[string][]int)}
}

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCall[e.CallUUID] = append(r.byCall[e.CallUUID], len(r.all))
	r.all = append(r.all, e)
	return nil
}

// ListForCall returns a call's events oldest first, matching the Postgres
// ORDER BY created_at.
func (r *MemoryRepo) ListForCall(_ context.Context, callUUID string) ([]Event, error) {
	r.mu.Lock()
	idx := r.byCall[callUUID]
	out := make([]Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.all[i])
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Events returns every event in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.all...)
}
