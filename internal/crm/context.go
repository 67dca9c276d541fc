// Package crm assembles per-request snapshots of a user's CRM state.
package crm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kiwicrm/kiwi/internal/store"
)

// Snapshot is one consistent-enough view of a user's data: every lead
// with its tasks and notes, plus the two derived task views the prompt
// and dashboard both need.
type Snapshot struct {
	Leads        []store.Lead `json:"leads"`
	TodaysTasks  []store.Task `json:"todaysTasks"`
	OverdueTasks []store.Task `json:"overdueTasks"`
}

// Assembler builds snapshots from the persistence gateway.
type Assembler struct {
	store *store.Store
}

// NewAssembler creates a snapshot assembler over the given store.
func NewAssembler(st *store.Store) *Assembler {
	return &Assembler{store: st}
}

// Snapshot gathers the user's leads, today's tasks, and overdue tasks.
//
// The three reads run independently, without a shared transaction. A row
// created mid-assembly can appear in one list but not another; that read
// skew is an accepted tradeoff for keeping the gateway contract to plain
// per-operation calls, and callers must not assume cross-list
// consistency. Storage errors propagate to the caller; there is no retry.
func (a *Assembler) Snapshot(ctx context.Context, userID uuid.UUID, now time.Time) (*Snapshot, error) {
	leads, err := a.store.ListLeadsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("assemble leads: %w", err)
	}

	todays, err := a.store.TodaysTasks(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("assemble todays tasks: %w", err)
	}

	overdue, err := a.store.OverdueTasks(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("assemble overdue tasks: %w", err)
	}

	return &Snapshot{
		Leads:        leads,
		TodaysTasks:  todays,
		OverdueTasks: overdue,
	}, nil
}
