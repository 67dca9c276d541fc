package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kiwicrm/kiwi/internal/agent"
	"github.com/kiwicrm/kiwi/internal/llm"
)

// chatRequest is the chat endpoint body. The client sends the full
// conversation each turn; the server keeps no chat history of its own.
type chatRequest struct {
	Messages []agent.Message `json:"messages"`
}

// handleChat runs the conversation loop and streams the model's reply as
// plain text. Status codes are only meaningful before the first byte is
// written; once streaming starts, a failure simply ends the stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		s.badRequest(w, "messages are required")
		return
	}
	for _, m := range req.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			s.badRequest(w, "message roles must be user or assistant")
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.internalError(w, errStreamingUnsupported)
		return
	}
	rc := http.NewResponseController(w)

	streamed := false
	callback := func(event llm.StreamEvent) {
		switch event.Kind {
		case llm.KindToken:
			if !streamed {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
				streamed = true
			}
			w.Write([]byte(event.Token))
			flusher.Flush()
		}

		// Reset write deadline after every event to prevent timeout
		// during multi-iteration tool loops
		if err := rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}

	resp, err := s.loop.Run(r.Context(), user, &agent.Request{Messages: req.Messages}, callback)
	if err != nil {
		s.logger.Error("conversation loop failed", "user_id", user.ID, "error", err)
		if !streamed {
			s.internalError(w, err)
		}
		// Mid-stream there is nothing left to signal; just close.
		return
	}

	// Nothing streamed means the model produced its whole answer in one
	// piece (or none at all). Emit it now so the client always gets a body.
	if !streamed && resp.Content != "" {
		callback(llm.StreamEvent{Kind: llm.KindToken, Token: resp.Content})
	}
}

var errStreamingUnsupported = errors.New("streaming not supported")
