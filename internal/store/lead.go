package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateLead inserts a new lead for the user. Attributes may be nil.
// No duplicate-name check is performed: the server accepts any name,
// including one that already exists for this user.
func (s *Store) CreateLead(ctx context.Context, userID uuid.UUID, name string, attrs Attributes) (*Lead, error) {
	if attrs == nil {
		attrs = Attributes{}
	}

	lead := Lead{
		ID:         uuid.New(),
		UserID:     userID,
		Name:       name,
		Attributes: attrs,
	}
	if err := s.db.WithContext(ctx).Create(&lead).Error; err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	return &lead, nil
}

// GetLead fetches a single lead owned by the user, with its tasks and
// notes in their stable presentation order (tasks by ascending deadline,
// notes by descending creation time).
func (s *Store) GetLead(ctx context.Context, userID, id uuid.UUID) (*Lead, error) {
	var lead Lead
	err := s.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB {
			return db.Order("deadline ASC")
		}).
		Preload("Notes", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		Where("id = ? AND user_id = ?", id, userID).
		First(&lead).Error
	if err != nil {
		return nil, translate(err)
	}
	return &lead, nil
}

// ListLeadsByUser returns all of the user's leads, most recently updated
// first, with tasks and notes preloaded in presentation order.
func (s *Store) ListLeadsByUser(ctx context.Context, userID uuid.UUID) ([]Lead, error) {
	var leads []Lead
	err := s.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB {
			return db.Order("deadline ASC")
		}).
		Preload("Notes", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return leads, nil
}

// FindLeadsByName returns the user's leads whose name contains the given
// substring, case-insensitively.
func (s *Store) FindLeadsByName(ctx context.Context, userID uuid.UUID, name string) ([]Lead, error) {
	var leads []Lead
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(name) LIKE ?", userID, "%"+strings.ToLower(name)+"%").
		Order("updated_at DESC").
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("find leads: %w", err)
	}
	return leads, nil
}

// UpdateLead applies a name and/or attributes change to a lead owned by
// the user. Nil fields are left untouched.
func (s *Store) UpdateLead(ctx context.Context, userID, id uuid.UUID, name *string, attrs Attributes) (*Lead, error) {
	updates := map[string]any{}
	if name != nil {
		updates["name"] = *name
	}
	if attrs != nil {
		updates["attributes"] = attrs
	}

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).
			Model(&Lead{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("update lead: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}

	return s.GetLead(ctx, userID, id)
}

// DeleteLead removes a lead and all of its tasks and notes in a single
// transaction, so a failure partway leaves no orphan rows behind.
func (s *Store) DeleteLead(ctx context.Context, userID, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lead Lead
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&lead).Error; err != nil {
			return translate(err)
		}

		if err := tx.Where("lead_id = ?", id).Delete(&Task{}).Error; err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		if err := tx.Where("lead_id = ?", id).Delete(&Note{}).Error; err != nil {
			return fmt.Errorf("delete notes: %w", err)
		}
		if err := tx.Delete(&lead).Error; err != nil {
			return fmt.Errorf("delete lead: %w", err)
		}
		return nil
	})
}
