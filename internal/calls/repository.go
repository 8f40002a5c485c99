package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("calls: not found")
	ErrDuplicate = errors.New("calls: duplicate call_uuid")
	// ErrNoChange is returned by an update func to leave the row untouched.
	ErrNoChange = errors.New("calls: no change")
)

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	UserID string
	From   time.Time
	To     time.Time
}

func (f ListFilter) match(r Record) bool {
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// UpdateFunc mutates a locked copy of a record. Returning ErrNoChange skips
// the write; any other error aborts it.
type UpdateFunc func(r *Record) error

// Repository is the persistence contract for call records.
//
// Records are never deleted. Update must apply fn atomically with respect to
// other updates of the same call_uuid.
type Repository interface {
	Create(ctx context.Context, r Record) error
	Get(ctx context.Context, callUUID string) (Record, error)
	// List returns records newest first.
	List(ctx context.Context, f ListFilter) ([]Record, error)
	Update(ctx context.Context, callUUID string, fn UpdateFunc) (Record, error)
}
