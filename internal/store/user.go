package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// defaultLeadName is created for every user on first login. The prompt
// policy routes unattributed tasks and notes to this lead.
const defaultLeadName = "Personal"

// GetOrCreateUser resolves the identity-provider subject to a local user,
// creating the account on first login. Creation also inserts the default
// "Personal" lead in the same transaction, so every user has at least one
// lead from their first session onward.
func (s *Store) GetOrCreateUser(ctx context.Context, subject, email, name string) (*User, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	var user User
	err := s.db.WithContext(ctx).Where("subject = ?", subject).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if translate(err) != ErrNotFound {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	user = User{
		ID:      uuid.New(),
		Subject: subject,
		Email:   email,
		Name:    name,
	}
	lead := Lead{
		ID:     uuid.New(),
		UserID: user.ID,
		Name:   defaultLeadName,
		Attributes: Attributes{
			"description": "Default lead for personal tasks and reminders",
		},
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&lead).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("new user created",
		"user_id", user.ID,
		"email", email,
	)
	return &user, nil
}
