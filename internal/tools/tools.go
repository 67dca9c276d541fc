// Package tools defines the CRM tools available to the assistant.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiwicrm/kiwi/internal/store"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (map[string]any, error) `json:"-"`
}

// Registry holds the tools for a single user. Every handler is scoped to
// that user, so a tool call can never touch another user's data.
type Registry struct {
	tools  map[string]*Tool
	store  *store.Store
	userID uuid.UUID
	logger *slog.Logger
}

// NewRegistry creates a tool registry bound to one user.
func NewRegistry(st *store.Store, userID uuid.UUID, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		store:  st,
		userID: userID,
		logger: logger.With("component", "tools", "user_id", userID.String()),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "addLead",
		Description: "Create a new lead in the CRM. A lead can be a person, company, project, or any entity the user wants to track. IMPORTANT: Before calling this tool, always check if a similar lead already exists and confirm with the user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "The name or title of the lead",
				},
				"attributes": map[string]any{
					"type":        "object",
					"description": "Additional attributes as key-value pairs (e.g., email, phone, company, source, etc.)",
				},
			},
			"required": []string{"name"},
		},
		Handler: r.handleAddLead,
	})

	r.Register(&Tool{
		Name:        "addTask",
		Description: "Add a task with a deadline to an existing lead. Use this to track follow-ups, meetings, calls, or any action items related to a lead.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"leadId": map[string]any{
					"type":        "string",
					"description": "The ID of the lead this task belongs to",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "The title or description of the task",
				},
				"deadline": map[string]any{
					"type":        "string",
					"description": "The deadline for the task in ISO 8601 format (YYYY-MM-DD or YYYY-MM-DDTHH:mm:ss)",
				},
			},
			"required": []string{"leadId", "title", "deadline"},
		},
		Handler: r.handleAddTask,
	})

	r.Register(&Tool{
		Name:        "addNote",
		Description: "Add a note to an existing lead. Use this to record important information, conversation summaries, meeting notes, or any relevant details about a lead.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"leadId": map[string]any{
					"type":        "string",
					"description": "The ID of the lead this note belongs to",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The content of the note",
				},
			},
			"required": []string{"leadId", "content"},
		},
		Handler: r.handleAddNote,
	})

	r.Register(&Tool{
		Name:        "updateTaskStatus",
		Description: "Update the status of an existing task. Use this when the user says they completed a task, started working on something, or want to change a task's status. Status can be 'pending', 'in_progress', or 'completed'.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"taskId": map[string]any{
					"type":        "string",
					"description": "The ID of the task to update",
				},
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"pending", "in_progress", "completed"},
					"description": "The new status for the task: 'pending', 'in_progress', or 'completed'",
				},
			},
			"required": []string{"taskId", "status"},
		},
		Handler: r.handleUpdateTaskStatus,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tools in the wire format the LLM layer expects.
func (r *Registry) List() []map[string]any {
	names := []string{"addLead", "addTask", "addNote", "updateTaskStatus"}
	var result []map[string]any
	for _, name := range names {
		t := r.tools[name]
		if t == nil {
			continue
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name and returns a JSON result envelope. It never
// returns an error to the model loop: every failure, including an unknown
// tool name, becomes a {"success": false, "message": ...} envelope so the
// model can recover and explain the problem to the user.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	tool := r.tools[name]
	if tool == nil {
		r.logger.Warn("unknown tool requested", "tool", name)
		return envelope(map[string]any{
			"success": false,
			"message": fmt.Sprintf("Unknown tool: %s", name),
		})
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		// Handlers wrap their own failures; reaching here means the
		// envelope itself could not be built.
		r.logger.Error("tool handler error", "tool", name, "error", err)
		return envelope(map[string]any{
			"success": false,
			"message": fmt.Sprintf("Tool %s failed: %v", name, err),
		})
	}
	return envelope(result)
}

func envelope(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"success":false,"message":"failed to encode tool result"}`
	}
	return string(data)
}

func failure(format string, args ...any) map[string]any {
	return map[string]any{
		"success": false,
		"message": fmt.Sprintf(format, args...),
	}
}

// Tool handlers

func (r *Registry) handleAddLead(ctx context.Context, args map[string]any) (map[string]any, error) {
	name, _ := args["name"].(string)
	if strings.TrimSpace(name) == "" {
		return failure("Failed to create lead: name is required"), nil
	}

	var attrs store.Attributes
	if raw, ok := args["attributes"].(map[string]any); ok {
		attrs = store.Attributes(raw)
	}

	lead, err := r.store.CreateLead(ctx, r.userID, name, attrs)
	if err != nil {
		return failure("Failed to create lead: %v", err), nil
	}

	r.logger.Info("lead created via tool", "lead_id", lead.ID, "name", lead.Name)
	return map[string]any{
		"success": true,
		"lead": map[string]any{
			"id":         lead.ID.String(),
			"name":       lead.Name,
			"attributes": lead.Attributes,
		},
		"message": fmt.Sprintf("Lead %q created successfully.", name),
	}, nil
}

func (r *Registry) handleAddTask(ctx context.Context, args map[string]any) (map[string]any, error) {
	leadIDStr, _ := args["leadId"].(string)
	title, _ := args["title"].(string)
	deadlineStr, _ := args["deadline"].(string)

	if leadIDStr == "" || strings.TrimSpace(title) == "" || deadlineStr == "" {
		return failure("Failed to create task: leadId, title, and deadline are required"), nil
	}

	leadID, err := uuid.Parse(leadIDStr)
	if err != nil {
		return failure("Failed to create task: invalid lead ID %q", leadIDStr), nil
	}

	deadline, err := parseDeadline(deadlineStr)
	if err != nil {
		return failure("Failed to create task: %v", err), nil
	}

	task, err := r.store.CreateTask(ctx, r.userID, leadID, title, deadline)
	if err != nil {
		return failure("Failed to create task: %v", err), nil
	}

	leadName := ""
	if task.Lead != nil {
		leadName = task.Lead.Name
	}
	r.logger.Info("task created via tool", "task_id", task.ID, "lead_id", leadID)
	return map[string]any{
		"success": true,
		"task": map[string]any{
			"id":       task.ID.String(),
			"title":    task.Title,
			"deadline": task.Deadline.Format(time.RFC3339),
			"status":   string(task.Status),
			"leadName": leadName,
		},
		"message": fmt.Sprintf("Task %q added to %q with deadline %s.", title, leadName, deadlineStr),
	}, nil
}

func (r *Registry) handleAddNote(ctx context.Context, args map[string]any) (map[string]any, error) {
	leadIDStr, _ := args["leadId"].(string)
	content, _ := args["content"].(string)

	if leadIDStr == "" || strings.TrimSpace(content) == "" {
		return failure("Failed to add note: leadId and content are required"), nil
	}

	leadID, err := uuid.Parse(leadIDStr)
	if err != nil {
		return failure("Failed to add note: invalid lead ID %q", leadIDStr), nil
	}

	note, err := r.store.CreateNote(ctx, r.userID, leadID, content)
	if err != nil {
		return failure("Failed to add note: %v", err), nil
	}

	leadName := ""
	if note.Lead != nil {
		leadName = note.Lead.Name
	}
	r.logger.Info("note created via tool", "note_id", note.ID, "lead_id", leadID)
	return map[string]any{
		"success": true,
		"note": map[string]any{
			"id":       note.ID.String(),
			"content":  note.Content,
			"leadName": leadName,
		},
		"message": fmt.Sprintf("Note added to %q.", leadName),
	}, nil
}

func (r *Registry) handleUpdateTaskStatus(ctx context.Context, args map[string]any) (map[string]any, error) {
	taskIDStr, _ := args["taskId"].(string)
	statusStr, _ := args["status"].(string)

	if taskIDStr == "" || statusStr == "" {
		return failure("Failed to update task status: taskId and status are required"), nil
	}

	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		return failure("Failed to update task status: invalid task ID %q", taskIDStr), nil
	}

	status := store.TaskStatus(statusStr)
	if !status.Valid() {
		return failure("Failed to update task status: invalid status %q", statusStr), nil
	}

	task, err := r.store.UpdateTaskStatus(ctx, r.userID, taskID, status)
	if err != nil {
		return failure("Failed to update task status: %v", err), nil
	}

	var completedAt any
	if task.CompletedAt != nil {
		completedAt = task.CompletedAt.Format(time.RFC3339)
	}
	r.logger.Info("task status updated via tool", "task_id", task.ID, "status", status)
	return map[string]any{
		"success": true,
		"task": map[string]any{
			"id":          task.ID.String(),
			"title":       task.Title,
			"status":      string(task.Status),
			"completedAt": completedAt,
		},
		"message": fmt.Sprintf("Task %q marked as %s.", task.Title, strings.ReplaceAll(statusStr, "_", " ")),
	}, nil
}

// parseDeadline accepts the ISO 8601 shapes the tool schema advertises.
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
