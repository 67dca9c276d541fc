package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateTask inserts a task under a lead owned by the user. The status
// is always initialized to pending regardless of anything the caller
// supplies; status changes go through UpdateTaskStatus.
func (s *Store) CreateTask(ctx context.Context, userID, leadID uuid.UUID, title string, deadline time.Time) (*Task, error) {
	lead, err := s.GetLead(ctx, userID, leadID)
	if err != nil {
		return nil, err
	}

	task := Task{
		ID:       uuid.New(),
		LeadID:   leadID,
		Title:    title,
		Deadline: deadline,
		Status:   StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	lead.Tasks = nil
	lead.Notes = nil
	task.Lead = lead
	return &task, nil
}

// GetTask fetches a task by id, verifying through the parent lead that
// it belongs to the user.
func (s *Store) GetTask(ctx context.Context, userID, id uuid.UUID) (*Task, error) {
	var task Task
	err := s.db.WithContext(ctx).
		Joins("JOIN leads ON leads.id = tasks.lead_id").
		Where("tasks.id = ? AND leads.user_id = ?", id, userID).
		Preload("Lead").
		First(&task).Error
	if err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

// UpdateTask applies field changes to a task owned by the user. Nil
// fields are left untouched. A status change maintains the completion
// timestamp invariant: set on completed, cleared on anything else.
func (s *Store) UpdateTask(ctx context.Context, userID, id uuid.UUID, title *string, deadline *time.Time, status *TaskStatus) (*Task, error) {
	if _, err := s.GetTask(ctx, userID, id); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if title != nil {
		updates["title"] = *title
	}
	if deadline != nil {
		updates["deadline"] = *deadline
	}
	if status != nil {
		if !status.Valid() {
			return nil, fmt.Errorf("invalid status %q", *status)
		}
		updates["status"] = *status
		if *status == StatusCompleted {
			now := time.Now()
			updates["completed_at"] = &now
		} else {
			updates["completed_at"] = nil
		}
	}

	if len(updates) > 0 {
		err := s.db.WithContext(ctx).
			Model(&Task{}).
			Where("id = ?", id).
			Updates(updates).Error
		if err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
	}

	return s.GetTask(ctx, userID, id)
}

// UpdateTaskStatus transitions a task to the given status. Transitioning
// to completed stamps CompletedAt; transitioning away clears it.
func (s *Store) UpdateTaskStatus(ctx context.Context, userID, id uuid.UUID, status TaskStatus) (*Task, error) {
	return s.UpdateTask(ctx, userID, id, nil, nil, &status)
}

// DeleteTask removes a task owned by the user.
func (s *Store) DeleteTask(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.GetTask(ctx, userID, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&Task{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// TodaysTasks returns the user's non-completed tasks whose deadline falls
// within [midnight today, midnight tomorrow), ordered by deadline. A task
// due exactly at midnight today counts as today's, not overdue.
func (s *Store) TodaysTasks(ctx context.Context, userID uuid.UUID, now time.Time) ([]Task, error) {
	midnight := midnightOf(now)
	tomorrow := midnight.Add(24 * time.Hour)

	var tasks []Task
	err := s.db.WithContext(ctx).
		Joins("JOIN leads ON leads.id = tasks.lead_id").
		Where("leads.user_id = ? AND tasks.deadline >= ? AND tasks.deadline < ? AND tasks.status <> ?",
			userID, midnight, tomorrow, StatusCompleted).
		Order("tasks.deadline ASC").
		Preload("Lead").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("todays tasks: %w", err)
	}
	return tasks, nil
}

// OverdueTasks returns the user's non-completed tasks whose deadline is
// before midnight today, ordered by deadline.
func (s *Store) OverdueTasks(ctx context.Context, userID uuid.UUID, now time.Time) ([]Task, error) {
	midnight := midnightOf(now)

	var tasks []Task
	err := s.db.WithContext(ctx).
		Joins("JOIN leads ON leads.id = tasks.lead_id").
		Where("leads.user_id = ? AND tasks.deadline < ? AND tasks.status <> ?",
			userID, midnight, StatusCompleted).
		Order("tasks.deadline ASC").
		Preload("Lead").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("overdue tasks: %w", err)
	}
	return tasks, nil
}

// midnightOf truncates t to the start of its calendar day in t's location.
func midnightOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
