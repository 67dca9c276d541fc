package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiwicrm/kiwi/internal/httpkit"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiClient is a client for the Google Generative Language API.
type GeminiClient struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	// maxOutputTokens bounds every response; Kiwi is tuned for short
	// tool-augmented replies rather than long generations.
	maxOutputTokens int

	// disableThinking sets the model's thinking budget to zero. The
	// orchestration loop trades deliberation depth for latency.
	disableThinking bool
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithMaxOutputTokens sets the per-response output token cap.
func WithMaxOutputTokens(n int) GeminiOption {
	return func(c *GeminiClient) {
		if n > 0 {
			c.maxOutputTokens = n
		}
	}
}

// WithThinkingDisabled toggles the model's extended reasoning phase.
func WithThinkingDisabled(disabled bool) GeminiOption {
	return func(c *GeminiClient) { c.disableThinking = disabled }
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(apiKey string, logger *slog.Logger, opts ...GeminiOption) *GeminiClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Model responses can take significant time before sending headers
	// (large prompts, tool declarations). Use a custom transport with a
	// generous response header timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	c := &GeminiClient{
		apiKey: apiKey,
		logger: logger.With("provider", "gemini"),
		httpClient: httpkit.NewClient(
			// No global timeout — streaming responses can be long-lived.
			// Rely on ctx deadlines/cancellation for timeout control.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
		maxOutputTokens: 24000,
		disableThinking: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Gemini request/response types

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	Tools             []geminiToolSet  `json:"tools,omitempty"`
	GenerationConfig  geminiGenConfig  `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user or model
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResp `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiToolSet struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type geminiGenConfig struct {
	MaxOutputTokens int                   `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
	ModelVersion  string            `json:"modelVersion"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// Chat sends a non-streaming chat completion request.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, tools, nil)
}

// ChatStream sends a chat request, optionally streaming tokens via callback.
func (c *GeminiClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	stream := callback != nil

	contents, system := convertToGemini(messages)
	req := geminiRequest{
		Contents: contents,
		Tools:    convertToolsToGemini(tools),
		GenerationConfig: geminiGenConfig{
			MaxOutputTokens: c.maxOutputTokens,
		},
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: system}},
		}
	}
	if c.disableThinking {
		req.GenerationConfig.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: 0}
	}

	c.logger.Debug("preparing request",
		"model", model,
		"contents", len(contents),
		"tools", len(req.Tools),
		"stream", stream,
		"system_len", len(system),
	)

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	endpoint := fmt.Sprintf("%s/%s:generateContent", geminiBaseURL, model)
	if stream {
		endpoint = fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", geminiBaseURL, model)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("gemini API error %d: %s", resp.StatusCode, errBody)
	}

	if !stream {
		return c.handleNonStreaming(ctx, resp.Body, model)
	}
	return c.handleStreaming(ctx, resp.Body, model, callback)
}

// Ping checks if the Gemini API is reachable and the key is valid.
func (c *GeminiClient) Ping(ctx context.Context) error {
	endpoint := geminiBaseURL
	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 4096)

	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("invalid API key")
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from Gemini API: %d", httpResp.StatusCode)
	}
	return nil
}

func (c *GeminiClient) handleNonStreaming(ctx context.Context, body io.Reader, model string) (*ChatResponse, error) {
	var resp geminiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	result := convertFromGemini(&resp, model)

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

func (c *GeminiClient) handleStreaming(ctx context.Context, body io.Reader, model string, callback StreamCallback) (*ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	// Increase scanner buffer for large responses
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		contentBuilder strings.Builder
		toolCalls      []ToolCall
		finishReason   string
		usage          geminiUsage
		modelVersion   string
	)

	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: each chunk arrives as "data: <json>"
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed events
		}

		if chunk.ModelVersion != "" {
			modelVersion = chunk.ModelVersion
		}
		if chunk.UsageMetadata != nil {
			usage = *chunk.UsageMetadata
		}

		for _, cand := range chunk.Candidates {
			if cand.FinishReason != "" {
				finishReason = cand.FinishReason
			}
			for _, part := range cand.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					args := part.FunctionCall.Args
					if args == nil {
						args = map[string]any{}
					}
					tc := ToolCall{
						ID: fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, len(toolCalls)),
					}
					tc.Function.Name = part.FunctionCall.Name
					tc.Function.Arguments = args
					toolCalls = append(toolCalls, tc)

				case part.Text != "":
					contentBuilder.WriteString(part.Text)
					if callback != nil {
						callback(StreamEvent{Kind: KindToken, Token: part.Text})
					}
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	if modelVersion == "" {
		modelVersion = model
	}

	resp := &ChatResponse{
		Model: modelVersion,
		Message: Message{
			Role:      "assistant",
			Content:   contentBuilder.String(),
			ToolCalls: toolCalls,
		},
		Done:         true,
		FinishReason: finishReason,
		InputTokens:  usage.PromptTokenCount,
		OutputTokens: usage.CandidatesTokenCount,
	}

	c.logger.Debug("stream complete",
		"model", resp.Model,
		"finish_reason", finishReason,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"content_len", len(resp.Message.Content),
		"tool_calls", len(resp.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", resp.Message.Content)

	return resp, nil
}

// convertToGemini converts internal messages to Gemini contents.
// System messages are extracted into the separate system instruction.
func convertToGemini(messages []Message) ([]geminiContent, string) {
	var systemParts []string
	var result []geminiContent

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, msg.Content)

		case "assistant":
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{
						Name: tc.Function.Name,
						Args: args,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			result = append(result, geminiContent{Role: "model", Parts: parts})

		case "tool":
			// Tool results go back as functionResponse parts on a user
			// turn. Gemini correlates them by function name, so the
			// tool name rides in ToolCallID's place via the envelope.
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"output": msg.Content}
			}
			result = append(result, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResp{
						Name:     msg.ToolCallID,
						Response: response,
					},
				}},
			})

		case "user":
			result = append(result, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		}
	}

	system := strings.Join(systemParts, "\n\n")
	return result, system
}

// convertToolsToGemini converts OpenAI-format tool definitions to Gemini
// function declarations.
func convertToolsToGemini(tools []map[string]any) []geminiToolSet {
	if len(tools) == 0 {
		return nil
	}

	var decls []geminiFunctionDecl
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}

		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		params := fn["parameters"]

		decls = append(decls, geminiFunctionDecl{
			Name:        name,
			Description: desc,
			Parameters:  params,
		})
	}
	if len(decls) == 0 {
		return nil
	}

	return []geminiToolSet{{FunctionDeclarations: decls}}
}

// convertFromGemini converts a Gemini response to our internal format.
func convertFromGemini(resp *geminiResponse, model string) *ChatResponse {
	var content string
	var toolCalls []ToolCall
	var finishReason string

	for _, cand := range resp.Candidates {
		if cand.FinishReason != "" {
			finishReason = cand.FinishReason
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				tc := ToolCall{
					ID: fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, len(toolCalls)),
				}
				tc.Function.Name = part.FunctionCall.Name
				tc.Function.Arguments = args
				toolCalls = append(toolCalls, tc)
			case part.Text != "":
				content += part.Text
			}
		}
	}

	modelVersion := resp.ModelVersion
	if modelVersion == "" {
		modelVersion = model
	}

	result := &ChatResponse{
		Model: modelVersion,
		Message: Message{
			Role:      "assistant",
			Content:   content,
			ToolCalls: toolCalls,
		},
		Done:         true,
		FinishReason: finishReason,
	}
	if resp.UsageMetadata != nil {
		result.InputTokens = resp.UsageMetadata.PromptTokenCount
		result.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	return result
}
