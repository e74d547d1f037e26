package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/docqa/docqa/internal/api/middlewares"
	"github.com/docqa/docqa/internal/chat"
)

// ChatHandler serves the buffered and streaming chat endpoints.
type ChatHandler struct {
	pipeline *chat.Pipeline
	logger   *slog.Logger
}

func NewChatHandler(p *chat.Pipeline) *ChatHandler {
	return &ChatHandler{pipeline: p, logger: slog.Default()}
}

func (h *ChatHandler) decodeRequest(r *http.Request) (*chat.Request, error) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}
	req.BearerToken = middlewares.BearerToken(r)
	req.IPAddress = clientIP(r)
	return &req, nil
}

func writeChatError(w http.ResponseWriter, cerr *chat.Error) {
	if cerr.RetryAfter > 0 {
		secs := int(cerr.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	httpError(w, cerr.Status, cerr.Type, cerr.Message)
}

// Query handles POST /api/chat/query, the buffered variant.
func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRequest(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, chat.ErrTypeValidation, "invalid request body")
		return
	}

	resp, cerr := h.pipeline.Ask(r.Context(), req)
	if cerr != nil {
		writeChatError(w, cerr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stream handles POST /api/chat/stream. Events are server-sent: each frame is
// a JSON object on a "data:" line. Gate failures before the first content
// frame are reported as plain JSON errors with their HTTP status; failures
// after streaming has begun become a terminal error event.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRequest(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, chat.ErrTypeValidation, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, chat.ErrTypeServer, "streaming unsupported")
		return
	}

	streaming := false
	emit := func(ev chat.StreamEvent) error {
		if !streaming {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			streaming = true
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if cerr := h.pipeline.AskStream(r.Context(), req, emit); cerr != nil {
		if !streaming {
			writeChatError(w, cerr)
			return
		}
		if err := emit(chat.StreamEvent{Type: "error", Error: cerr.Message}); err != nil {
			h.logger.Debug("client gone before error event", "error", err)
		}
	}
}
