package video

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/videojobs/internal/store"
)

const DefaultMaxActiveJobs = 2

// Admission bounds how many non-terminal jobs a scope may hold.
//
// The count is read from the store on every call and the subsequent create is
// a separate write, so two concurrent submissions may both be admitted and
// exceed the ceiling by one. The bound is soft.
type Admission struct {
	store store.Store
	max   int
}

func NewAdmission(st store.Store, max int) *Admission {
	if max <= 0 {
		max = DefaultMaxActiveJobs
	}
	return &Admission{store: st, max: max}
}

func (a *Admission) Max() int { return a.max }

// Active returns the number of non-terminal jobs in scope. An empty scope
// counts every job.
func (a *Admission) Active(ctx context.Context, scope string) (int, error) {
	n, err := a.store.CountNonTerminalJobs(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("counting active jobs: %w", err)
	}
	return n, nil
}

// Admit reports whether a new job may enter scope, along with the current count.
func (a *Admission) Admit(ctx context.Context, scope string) (int, bool, error) {
	active, err := a.Active(ctx, scope)
	if err != nil {
		return 0, false, err
	}
	return active, active < a.max, nil
}
