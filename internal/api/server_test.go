package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiwicrm/kiwi/internal/agent"
	"github.com/kiwicrm/kiwi/internal/auth"
	"github.com/kiwicrm/kiwi/internal/config"
	"github.com/kiwicrm/kiwi/internal/llm"
	"github.com/kiwicrm/kiwi/internal/store"
)

const testToken = "test-token"

// echoClient answers every chat with a fixed text response.
type echoClient struct {
	reply string
}

func (c *echoClient) Chat(ctx context.Context, model string, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, tools, nil)
}

func (c *echoClient) ChatStream(ctx context.Context, model string, messages []llm.Message, tools []map[string]any, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	if callback != nil {
		callback(llm.StreamEvent{Kind: llm.KindToken, Token: c.reply})
	}
	return &llm.ChatResponse{
		Model:        model,
		Message:      llm.Message{Role: "assistant", Content: c.reply},
		Done:         true,
		FinishReason: "STOP",
	}, nil
}

func (c *echoClient) Ping(ctx context.Context) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	authn := auth.New([]config.SessionConfig{{
		Token:   testToken,
		Subject: "sub-1",
		Email:   "u@example.com",
		Name:    "Test User",
	}})

	loop := agent.NewLoop(logger, st, &echoClient{reply: "Hi from Kiwi."}, "test-model")
	srv := NewServer("", 0, st, authn, loop, logger)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, st
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func TestAuth_MissingToken(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{"GET", "/dashboard"},
		{"POST", "/chat"},
		{"POST", "/leads"},
	}
	for _, tt := range tests {
		resp := doRequest(t, ts, tt.method, tt.path, "", `{}`)
		body := readBody(t, resp)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", tt.method, tt.path, resp.StatusCode)
		}
		if strings.TrimSpace(body) != "Unauthorized" {
			t.Errorf("%s 401 body = %q, want Unauthorized", tt.path, body)
		}
	}
}

func TestAuth_WrongToken(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, "GET", "/dashboard", "wrong-token", "")
	readBody(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestDashboard_Shape(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, "GET", "/dashboard", testToken, "")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var snapshot struct {
		Leads        []json.RawMessage `json:"leads"`
		TodaysTasks  []json.RawMessage `json:"todaysTasks"`
		OverdueTasks []json.RawMessage `json:"overdueTasks"`
	}
	if err := json.Unmarshal([]byte(body), &snapshot); err != nil {
		t.Fatalf("dashboard body not JSON: %v\n%s", err, body)
	}
	// First contact provisions the Personal lead.
	if len(snapshot.Leads) != 1 {
		t.Errorf("leads = %d, want 1 (Personal)", len(snapshot.Leads))
	}
}

func TestLeadCRUD(t *testing.T) {
	ts, _ := newTestServer(t)

	// Create
	resp := doRequest(t, ts, "POST", "/leads", testToken, `{"name":"Acme Corp","attributes":{"email":"ceo@acme.test"}}`)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", resp.StatusCode, body)
	}
	var lead struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(body), &lead); err != nil {
		t.Fatalf("lead body: %v", err)
	}
	if lead.Name != "Acme Corp" {
		t.Errorf("name = %q", lead.Name)
	}

	// Update
	resp = doRequest(t, ts, "PATCH", "/leads/"+lead.ID, testToken, `{"name":"Acme Inc"}`)
	body = readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, body %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, "Acme Inc") {
		t.Errorf("updated lead = %s", body)
	}

	// Delete
	resp = doRequest(t, ts, "DELETE", "/leads/"+lead.ID, testToken, "")
	body = readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"success":true`) {
		t.Errorf("delete body = %s", body)
	}

	// Gone
	resp = doRequest(t, ts, "PATCH", "/leads/"+lead.ID, testToken, `{"name":"Ghost"}`)
	readBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("update deleted lead: status = %d, want 404", resp.StatusCode)
	}
}

func TestLeadCreate_MissingName(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, "POST", "/leads", testToken, `{"attributes":{}}`)
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTaskCreate_UnownedLead(t *testing.T) {
	ts, _ := newTestServer(t)

	body := `{"leadId":"99999999-9999-9999-9999-999999999999","title":"Call","deadline":"2026-04-01"}`
	resp := doRequest(t, ts, "POST", "/tasks", testToken, body)
	readBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTaskLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, "POST", "/leads", testToken, `{"name":"Acme"}`)
	var lead struct {
		ID string `json:"id"`
	}
	json.Unmarshal([]byte(readBody(t, resp)), &lead)

	resp = doRequest(t, ts, "POST", "/tasks", testToken,
		fmt.Sprintf(`{"leadId":%q,"title":"Send proposal","deadline":"2026-04-01"}`, lead.ID))
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task status = %d, body %s", resp.StatusCode, body)
	}
	var task struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	json.Unmarshal([]byte(body), &task)
	if task.Status != "pending" {
		t.Errorf("new task status = %q, want pending", task.Status)
	}

	resp = doRequest(t, ts, "PATCH", "/tasks/"+task.ID, testToken, `{"status":"completed"}`)
	body = readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch task status = %d, body %s", resp.StatusCode, body)
	}
	var updated struct {
		Status      string  `json:"status"`
		CompletedAt *string `json:"completedAt"`
	}
	json.Unmarshal([]byte(body), &updated)
	if updated.Status != "completed" || updated.CompletedAt == nil {
		t.Errorf("completed task = %s", body)
	}

	resp = doRequest(t, ts, "PATCH", "/tasks/"+task.ID, testToken, `{"status":"resting"}`)
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid status: status = %d, want 400", resp.StatusCode)
	}

	resp = doRequest(t, ts, "DELETE", "/tasks/"+task.ID, testToken, "")
	readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete task status = %d", resp.StatusCode)
	}
}

func TestNoteCRUD(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, "POST", "/leads", testToken, `{"name":"Acme"}`)
	var lead struct {
		ID string `json:"id"`
	}
	json.Unmarshal([]byte(readBody(t, resp)), &lead)

	resp = doRequest(t, ts, "POST", "/notes", testToken,
		fmt.Sprintf(`{"leadId":%q,"content":"met at conference"}`, lead.ID))
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create note status = %d, body %s", resp.StatusCode, body)
	}
	var note struct {
		ID string `json:"id"`
	}
	json.Unmarshal([]byte(body), &note)

	resp = doRequest(t, ts, "PATCH", "/notes/"+note.ID, testToken, `{"content":""}`)
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty content: status = %d, want 400", resp.StatusCode)
	}

	resp = doRequest(t, ts, "PATCH", "/notes/"+note.ID, testToken, `{"content":"updated"}`)
	body = readBody(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "updated") {
		t.Errorf("patch note: status = %d, body %s", resp.StatusCode, body)
	}

	resp = doRequest(t, ts, "DELETE", "/notes/"+note.ID, testToken, "")
	readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete note status = %d", resp.StatusCode)
	}
}

func TestChat_StreamsPlainText(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, "POST", "/chat", testToken, `{"messages":[{"role":"user","content":"hi"}]}`)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q, want text/plain", ct)
	}
	if body != "Hi from Kiwi." {
		t.Errorf("body = %q", body)
	}
}

func TestChat_Validation(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"no messages", `{"messages":[]}`},
		{"bad role", `{"messages":[{"role":"system","content":"x"}]}`},
		{"malformed", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, ts, "POST", "/chat", testToken, tt.body)
			readBody(t, resp)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, ts, "GET", "/health", "", "")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "healthy") {
		t.Errorf("/health: status = %d, body %s", resp.StatusCode, body)
	}

	resp = doRequest(t, ts, "GET", "/", "", "")
	body = readBody(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Kiwi") {
		t.Errorf("/: status = %d, body %s", resp.StatusCode, body)
	}

	resp = doRequest(t, ts, "GET", "/v1/version", "", "")
	readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/v1/version: status = %d", resp.StatusCode)
	}
}
