package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
// It keeps insertion order so callers can assert creation order.
type MemoryRepo struct {
	mu      sync.Mutex
	order   []string
	records map[string]Record
	writes  int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{records: map[string]Record{}} }

func (r *MemoryRepo) Create(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.CallUUID]; ok {
		return ErrDuplicate
	}
	rec.CustomData = rec.CustomData.Clone()
	r.records[rec.CallUUID] = rec
	r.order = append(r.order, rec.CallUUID)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, callUUID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callUUID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.records[r.order[i]]
		if f.match(rec) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, callUUID string, fn UpdateFunc) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callUUID]
	if !ok {
		return Record{}, ErrNotFound
	}
	next := copyRecord(rec)
	if err := fn(&next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return copyRecord(rec), err
		}
		return Record{}, err
	}
	next.CallUUID = rec.CallUUID
	r.records[callUUID] = next
	r.writes++
	return copyRecord(next), nil
}

// Order returns call_uuids in creation order.
func (r *MemoryRepo) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Writes returns how many updates were applied.
func (r *MemoryRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func copyRecord(rec Record) Record {
	rec.CustomData = rec.CustomData.Clone()
	if rec.EndedAt != nil {
		t := *rec.EndedAt
		rec.EndedAt = &t
	}
	return rec
}
