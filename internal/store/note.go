package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateNote inserts a note under a lead owned by the user.
func (s *Store) CreateNote(ctx context.Context, userID, leadID uuid.UUID, content string) (*Note, error) {
	lead, err := s.GetLead(ctx, userID, leadID)
	if err != nil {
		return nil, err
	}

	note := Note{
		ID:      uuid.New(),
		LeadID:  leadID,
		Content: content,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}

	lead.Tasks = nil
	lead.Notes = nil
	note.Lead = lead
	return &note, nil
}

// GetNote fetches a note by id, verifying through the parent lead that
// it belongs to the user.
func (s *Store) GetNote(ctx context.Context, userID, id uuid.UUID) (*Note, error) {
	var note Note
	err := s.db.WithContext(ctx).
		Joins("JOIN leads ON leads.id = notes.lead_id").
		Where("notes.id = ? AND leads.user_id = ?", id, userID).
		Preload("Lead").
		First(&note).Error
	if err != nil {
		return nil, translate(err)
	}
	return &note, nil
}

// UpdateNote replaces a note's content. Content is the only mutable
// field; the creation timestamp never changes.
func (s *Store) UpdateNote(ctx context.Context, userID, id uuid.UUID, content string) (*Note, error) {
	if _, err := s.GetNote(ctx, userID, id); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).
		Model(&Note{}).
		Where("id = ?", id).
		Update("content", content).Error
	if err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}

	return s.GetNote(ctx, userID, id)
}

// DeleteNote removes a note owned by the user.
func (s *Store) DeleteNote(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.GetNote(ctx, userID, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&Note{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}
