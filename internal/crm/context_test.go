package crm

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiwicrm/kiwi/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSnapshot_Empty(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	user, err := st.GetOrCreateUser(ctx, "sub-1", "u@example.com", "U")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	snap, err := NewAssembler(st).Snapshot(ctx, user.ID, time.Now())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	// A fresh user always has the provisioned Personal lead.
	if len(snap.Leads) != 1 || snap.Leads[0].Name != "Personal" {
		t.Fatalf("expected only the Personal lead, got %+v", snap.Leads)
	}
	if len(snap.TodaysTasks) != 0 {
		t.Errorf("expected no tasks today, got %d", len(snap.TodaysTasks))
	}
	if len(snap.OverdueTasks) != 0 {
		t.Errorf("expected no overdue tasks, got %d", len(snap.OverdueTasks))
	}
}

func TestSnapshot_SplitsTaskViews(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	user, err := st.GetOrCreateUser(ctx, "sub-1", "u@example.com", "U")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	lead, err := st.CreateLead(ctx, user.ID, "Acme Corp", nil)
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}

	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.Local)
	if _, err := st.CreateTask(ctx, user.ID, lead.ID, "Call today", now.Add(time.Hour)); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := st.CreateTask(ctx, user.ID, lead.ID, "Missed deadline", now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := st.CreateTask(ctx, user.ID, lead.ID, "Next week", now.Add(7*24*time.Hour)); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	snap, err := NewAssembler(st).Snapshot(ctx, user.ID, now)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if len(snap.TodaysTasks) != 1 || snap.TodaysTasks[0].Title != "Call today" {
		t.Errorf("todays tasks = %+v, want only %q", snap.TodaysTasks, "Call today")
	}
	if len(snap.OverdueTasks) != 1 || snap.OverdueTasks[0].Title != "Missed deadline" {
		t.Errorf("overdue tasks = %+v, want only %q", snap.OverdueTasks, "Missed deadline")
	}

	// Leads carry their tasks and notes for the prompt and dashboard.
	var acme *store.Lead
	for i := range snap.Leads {
		if snap.Leads[i].Name == "Acme Corp" {
			acme = &snap.Leads[i]
		}
	}
	if acme == nil {
		t.Fatalf("Acme Corp missing from snapshot leads: %+v", snap.Leads)
	}
	if len(acme.Tasks) != 3 {
		t.Errorf("Acme tasks = %d, want 3", len(acme.Tasks))
	}
}

func TestSnapshot_ScopedToUser(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	alice, err := st.GetOrCreateUser(ctx, "sub-alice", "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	bob, err := st.GetOrCreateUser(ctx, "sub-bob", "bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if _, err := st.CreateLead(ctx, alice.ID, "Alice Only", nil); err != nil {
		t.Fatalf("CreateLead: %v", err)
	}

	snap, err := NewAssembler(st).Snapshot(ctx, bob.ID, time.Now())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, l := range snap.Leads {
		if l.Name == "Alice Only" {
			t.Fatal("snapshot leaked another user's lead")
		}
	}
}
