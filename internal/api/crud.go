package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiwicrm/kiwi/internal/store"
)

// handleDashboard returns the same snapshot the chat loop sees, so the UI
// and the assistant always describe the same data.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	snapshot, err := s.assembler.Snapshot(r.Context(), user.ID, time.Now())
	if err != nil {
		s.logger.Error("dashboard snapshot failed", "user_id", user.ID, "error", err)
		s.internalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, snapshot, s.logger)
}

// Lead handlers

type leadCreateRequest struct {
	Name       string           `json:"name"`
	Attributes store.Attributes `json:"attributes,omitempty"`
}

func (s *Server) handleLeadCreate(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req leadCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.badRequest(w, "name is required")
		return
	}

	lead, err := s.store.CreateLead(r.Context(), user.ID, req.Name, req.Attributes)
	if err != nil {
		s.internalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, lead, s.logger)
}

type leadUpdateRequest struct {
	Name       *string          `json:"name,omitempty"`
	Attributes store.Attributes `json:"attributes,omitempty"`
}

func (s *Server) handleLeadUpdate(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.badRequest(w, "invalid lead id")
		return
	}

	var req leadUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		s.badRequest(w, "name cannot be empty")
		return
	}

	lead, err := s.store.UpdateLead(r.Context(), user.ID, id, req.Name, req.Attributes)
	if err != nil {
		s.storeError(w, err, "lead not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, lead, s.logger)
}

func (s *Server) handleLeadDelete(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.badRequest(w, "invalid lead id")
		return
	}

	if err := s.store.DeleteLead(r.Context(), user.ID, id); err != nil {
		s.storeError(w, err, "lead not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"success": true}, s.logger)
}

// Task handlers

type taskCreateRequest struct {
	LeadID   string `json:"leadId"`
	Title    string `json:"title"`
	Deadline string `json:"deadline"`
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req taskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	if req.LeadID == "" || strings.TrimSpace(req.Title) == "" || req.Deadline == "" {
		s.badRequest(w, "leadId, title, and deadline are required")
		return
	}

	leadID, err := uuid.Parse(req.LeadID)
	if err != nil {
		s.badRequest(w, "invalid leadId")
		return
	}
	deadline, err := parseDeadline(req.Deadline)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	task, err := s.store.CreateTask(r.Context(), user.ID, leadID, req.Title, deadline)
	if err != nil {
		s.storeError(w, err, "lead not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, task, s.logger)
}

type taskUpdateRequest struct {
	Title    *string `json:"title,omitempty"`
	Deadline *string `json:"deadline,omitempty"`
	Status   *string `json:"status,omitempty"`
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.badRequest(w, "invalid task id")
		return
	}

	var req taskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	var deadline *time.Time
	if req.Deadline != nil {
		d, err := parseDeadline(*req.Deadline)
		if err != nil {
			s.badRequest(w, err.Error())
			return
		}
		deadline = &d
	}

	var status *store.TaskStatus
	if req.Status != nil {
		st := store.TaskStatus(*req.Status)
		if !st.Valid() {
			s.badRequest(w, fmt.Sprintf("invalid status %q", *req.Status))
			return
		}
		status = &st
	}

	task, err := s.store.UpdateTask(r.Context(), user.ID, id, req.Title, deadline, status)
	if err != nil {
		s.storeError(w, err, "task not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, task, s.logger)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.badRequest(w, "invalid task id")
		return
	}

	if err := s.store.DeleteTask(r.Context(), user.ID, id); err != nil {
		s.storeError(w, err, "task not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"success": true}, s.logger)
}

// Note handlers

type noteCreateRequest struct {
	LeadID  string `json:"leadId"`
	Content string `json:"content"`
}

func (s *Server) handleNoteCreate(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req noteCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	if req.LeadID == "" || strings.TrimSpace(req.Content) == "" {
		s.badRequest(w, "leadId and content are required")
		return
	}

	leadID, err := uuid.Parse(req.LeadID)
	if err != nil {
		s.badRequest(w, "invalid leadId")
		return
	}

	note, err := s.store.CreateNote(r.Context(), user.ID, leadID, req.Content)
	if err != nil {
		s.storeError(w, err, "lead not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, note, s.logger)
}

type noteUpdateRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleNoteUpdate(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.badRequest(w, "invalid note id")
		return
	}

	var req noteUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.badRequest(w, "content is required")
		return
	}

	note, err := s.store.UpdateNote(r.Context(), user.ID, id, req.Content)
	if err != nil {
		s.storeError(w, err, "note not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, note, s.logger)
}

func (s *Server) handleNoteDelete(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.badRequest(w, "invalid note id")
		return
	}

	if err := s.store.DeleteNote(r.Context(), user.ID, id); err != nil {
		s.storeError(w, err, "note not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"success": true}, s.logger)
}

// parseDeadline accepts ISO 8601 timestamps with or without a time part.
func parseDeadline(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid deadline %q, expected YYYY-MM-DD or YYYY-MM-DDTHH:mm:ss", s)
}
