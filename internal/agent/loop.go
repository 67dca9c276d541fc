// Package agent implements the core conversation loop.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiwicrm/kiwi/internal/crm"
	"github.com/kiwicrm/kiwi/internal/llm"
	"github.com/kiwicrm/kiwi/internal/prompts"
	"github.com/kiwicrm/kiwi/internal/store"
	"github.com/kiwicrm/kiwi/internal/tools"
)

// maxSteps bounds the number of model invocations per request. A run that
// hits the cap still returns whatever text accumulated along the way.
const maxSteps = 20

// Message represents one turn of conversation history from the client.
type Message struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// Request represents an incoming chat request.
type Request struct {
	Messages []Message `json:"messages"`
}

// Response represents the completed run.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason"`
	Steps        int    `json:"steps"`
	ToolCalls    int    `json:"tool_calls"`
}

// Loop runs the tool-calling conversation cycle for one request at a time.
type Loop struct {
	logger    *slog.Logger
	store     *store.Store
	assembler *crm.Assembler
	llm       llm.Client
	model     string
}

// NewLoop creates a new conversation loop.
func NewLoop(logger *slog.Logger, st *store.Store, client llm.Client, model string) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger:    logger.With("component", "agent"),
		store:     st,
		assembler: crm.NewAssembler(st),
		llm:       client,
		model:     model,
	}
}

// Run executes the conversation loop for one user request.
//
// Each cycle: assemble the CRM snapshot into a fresh system prompt, hand the
// model the conversation so far, then either stream its text answer or
// execute the tool calls it asked for and feed the results back. Tool
// failures are reported to the model rather than aborting the run.
func (l *Loop) Run(ctx context.Context, user *store.User, req *Request, callback llm.StreamCallback) (*Response, error) {
	now := time.Now()

	snapshot, err := l.assembler.Snapshot(ctx, user.ID, now)
	if err != nil {
		return nil, fmt.Errorf("assemble context: %w", err)
	}

	system := prompts.BuildSystemPrompt(snapshot, user.Name, now)

	messages := []llm.Message{{Role: "system", Content: system}}
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	registry := tools.NewRegistry(l.store, user.ID, l.logger)
	toolDefs := registry.List()

	l.logger.Info("conversation loop started",
		"user_id", user.ID,
		"messages", len(req.Messages),
		"leads", len(snapshot.Leads),
	)

	var (
		accumulated  string
		totalCalls   int
		finishReason string
		step         int
	)

	for step = 1; step <= maxSteps; step++ {
		resp, err := l.llm.ChatStream(ctx, l.model, messages, toolDefs, callback)
		if err != nil {
			return nil, fmt.Errorf("model step %d: %w", step, err)
		}

		accumulated += resp.Message.Content
		finishReason = resp.FinishReason

		if len(resp.Message.ToolCalls) == 0 {
			l.logger.Info("conversation loop completed",
				"user_id", user.ID,
				"steps", step,
				"tool_calls", totalCalls,
			)
			return &Response{
				Content:      accumulated,
				Model:        resp.Model,
				FinishReason: finishReason,
				Steps:        step,
				ToolCalls:    totalCalls,
			}, nil
		}

		messages = append(messages, resp.Message)

		// Sibling calls run sequentially in the order the model emitted
		// them, so later calls observe the effects of earlier ones.
		for _, tc := range resp.Message.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			if callback != nil {
				callback(llm.StreamEvent{Kind: llm.KindToolCallStart, ToolCall: &tc})
			}

			l.logger.Debug("executing tool", "tool", tc.Function.Name, "step", step)
			result := registry.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
			totalCalls++

			if callback != nil {
				callback(llm.StreamEvent{Kind: llm.KindToolCallDone, ToolName: tc.Function.Name, ToolResult: result})
			}

			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.Function.Name,
			})
		}
	}

	// Step cap reached. Return what we have instead of erroring: partial
	// progress with tool side effects already applied is still useful.
	l.logger.Warn("conversation loop hit step cap",
		"user_id", user.ID,
		"steps", maxSteps,
		"tool_calls", totalCalls,
	)
	return &Response{
		Content:      accumulated,
		Model:        l.model,
		FinishReason: "max_steps",
		Steps:        maxSteps,
		ToolCalls:    totalCalls,
	}, nil
}
