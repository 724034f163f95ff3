package reconcile

import (
	"sync"
	"sync/atomic"
)

const (
	opDelete = "delete"
	opUpdate = "update"
	opCreate = "create"
)

// Report accumulates operation outcomes from concurrently running
// operations. The zero value is ready to use.
type Report struct {
	deleted atomic.Int64
	updated atomic.Int64
	created atomic.Int64

	mu     sync.Mutex
	errors []string
}

// Record counts a successful op or appends "<op>: <err>" on failure.
func (r *Report) Record(op string, err error) {
	if err != nil {
		r.mu.Lock()
		r.errors = append(r.errors, op+": "+err.Error())
		r.mu.Unlock()
		return
	}
	switch op {
	case opDelete:
		r.deleted.Add(1)
	case opUpdate:
		r.updated.Add(1)
	case opCreate:
		r.created.Add(1)
	}
}

// Results snapshots the report. Call it once every operation has settled.
func (r *Report) Results() Results {
	r.mu.Lock()
	errs := make([]string, len(r.errors))
	copy(errs, r.errors)
	r.mu.Unlock()

	return Results{
		Deleted: int(r.deleted.Load()),
		Updated: int(r.updated.Load()),
		Created: int(r.created.Load()),
		Errors:  errs,
	}
}
