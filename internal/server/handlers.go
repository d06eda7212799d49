// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API in front of the exchange core.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jeranaias/chatai/internal/export"
	"github.com/jeranaias/chatai/internal/model"
	"github.com/jeranaias/chatai/internal/ollama"
	"github.com/jeranaias/chatai/internal/session"
	"github.com/jeranaias/chatai/internal/storage"
)

// statusClientClosedRequest is reported when the client went away mid-exchange.
const statusClientClosedRequest = 499

// ============================================================================
// CHAT TYPES
// ============================================================================

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Prompt         string           `json:"prompt" validate:"required,max=100000"`
	Model          string           `json:"model" validate:"omitempty,max=200"`
	History        []HistoryMessage `json:"history" validate:"max=100,dive"`
	ConversationID string           `json:"conversation_id" validate:"omitempty,max=128"`
	Stream         *bool            `json:"stream"`
	Options        *ChatOptions     `json:"options"`
}

// HistoryMessage is one prior message supplied by the client.
type HistoryMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"max=100000"`
}

// ChatOptions are the generation options a client may set.
type ChatOptions struct {
	Temperature *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	NumCtx      int      `json:"num_ctx" validate:"gte=0,lte=1048576"`
	NumPredict  int      `json:"num_predict" validate:"gte=-2,lte=128000"`
	Seed        int      `json:"seed"`
}

func (o *ChatOptions) upstream() *ollama.Options {
	if o == nil {
		return nil
	}
	out := &ollama.Options{NumCtx: o.NumCtx, NumPredict: o.NumPredict, Seed: o.Seed}
	if o.Temperature != nil {
		out.Temperature = *o.Temperature
	}
	return out
}

// ChatEvent is one NDJSON line of a streamed chat reply. Type is "snapshot",
// "complete" or "error". Message is the committed model.Message on complete
// and the error text on error.
type ChatEvent struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	Message        any    `json:"message,omitempty"`
	Kind           string `json:"kind,omitempty"`
	StatusCode     int    `json:"status_code,omitempty"`
	Partial        string `json:"partial,omitempty"`
	Incomplete     bool   `json:"incomplete,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the reply of a buffered POST /api/chat.
type ChatResponse struct {
	Content        string        `json:"content"`
	Message        model.Message `json:"message"`
	ConversationID string        `json:"conversation_id,omitempty"`
}

// ChatErrorResponse is a buffered exchange failure.
type ChatErrorResponse struct {
	Error      errorDetail `json:"error"`
	Partial    string      `json:"partial,omitempty"`
	Incomplete bool        `json:"incomplete"`
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

// handleChat handles POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "prompt must not be blank")
		return
	}

	cur := s.current.Load()
	modelName := req.Model
	if modelName == "" {
		modelName = cur.defaultModel
	}

	transcript, ok := s.openTranscript(w, r, &req, modelName)
	if !ok {
		return
	}
	sreq := session.Request{Prompt: req.Prompt, Model: modelName, Options: req.Options.upstream()}

	streaming := req.Stream == nil || *req.Stream
	if streaming {
		s.streamChat(w, r, cur.exchanger, transcript, sreq, req.ConversationID)
		return
	}
	s.bufferChat(w, r, cur.exchanger, transcript, sreq, req.ConversationID)
}

// openTranscript builds the transcript an exchange commits to: a stored
// conversation when conversation_id is set, otherwise the supplied history.
// modelName is the resolved model recorded on a stored conversation.
func (s *Server) openTranscript(w http.ResponseWriter, r *http.Request, req *ChatRequest, modelName string) (session.Transcript, bool) {
	if req.ConversationID != "" {
		if len(req.History) > 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_request_error", "history and conversation_id are mutually exclusive")
			return nil, false
		}
		if s.store == nil {
			s.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "conversation storage is disabled")
			return nil, false
		}
		t, err := s.store.Conversations().OpenTranscript(r.Context(), req.ConversationID, modelName)
		if err != nil {
			s.log.Error("open conversation failed", zap.String("conversation", req.ConversationID), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "storage_error", "could not load conversation")
			return nil, false
		}
		return t, true
	}

	history := make([]model.Message, 0, len(req.History))
	for _, h := range req.History {
		history = append(history, model.NewMessage(model.Role(h.Role), h.Content))
	}
	t, err := model.NewTranscript(history...)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid history: "+err.Error())
		return nil, false
	}
	if n := len(history); n > 0 && history[n-1].Role == model.RoleUser {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid history: must not end with a user message")
		return nil, false
	}
	return t, true
}

// streamChat answers with NDJSON events. The client disconnecting cancels
// the exchange through the request context.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, ex *session.Exchanger, t session.Transcript, req session.Request, convID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "server_error", "streaming not supported")
		return
	}

	enc := json.NewEncoder(w)
	headerSent := false
	emit := func(ev ChatEvent) {
		if !headerSent {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			headerSent = true
		}
		if err := enc.Encode(ev); err != nil {
			return
		}
		flusher.Flush()
	}

	sess, err := ex.StartExchangeWith(r.Context(), t, req, session.Handlers{
		OnSnapshot: func(text string) {
			emit(ChatEvent{Type: "snapshot", Text: text})
		},
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	msg, err := sess.Wait()
	if err == nil {
		emit(ChatEvent{Type: "complete", Message: msg, ConversationID: convID})
		return
	}

	var ee *session.ExchangeError
	if !errors.As(err, &ee) {
		ee = &session.ExchangeError{Kind: session.KindTransport, Message: err.Error()}
	}
	if ee.Kind == session.KindCancelled {
		// The client is gone; there is nobody to tell.
		return
	}
	emit(ChatEvent{
		Type:           "error",
		Kind:           ee.Kind.String(),
		Message:        ee.Error(),
		StatusCode:     ee.StatusCode,
		Partial:        ee.Partial,
		Incomplete:     ee.Incomplete(),
		ConversationID: convID,
	})
}

// bufferChat waits for the whole reply and answers with one JSON document.
func (s *Server) bufferChat(w http.ResponseWriter, r *http.Request, ex *session.Exchanger, t session.Transcript, req session.Request, convID string) {
	sess, err := ex.StartExchangeWith(r.Context(), t, req, session.Handlers{})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	msg, err := sess.Wait()
	if err == nil {
		s.writeJSON(w, http.StatusOK, ChatResponse{Content: msg.Content, Message: msg, ConversationID: convID})
		return
	}

	var ee *session.ExchangeError
	if !errors.As(err, &ee) {
		ee = &session.ExchangeError{Kind: session.KindTransport, Message: err.Error()}
	}
	status := exchangeStatus(ee)
	s.writeJSON(w, status, ChatErrorResponse{
		Error:      errorDetail{Message: ee.Error(), Type: ee.Kind.String(), Code: status},
		Partial:    ee.Partial,
		Incomplete: ee.Incomplete(),
	})
}

// exchangeStatus maps an exchange failure to an HTTP status.
func exchangeStatus(ee *session.ExchangeError) int {
	switch ee.Kind {
	case session.KindTimeout:
		return http.StatusGatewayTimeout
	case session.KindCancelled:
		return statusClientClosedRequest
	case session.KindCommit:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

// ModelsResponse is the body of GET /api/models.
type ModelsResponse struct {
	Tags []ollama.ModelTag `json:"tags"`
}

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	tags, err := s.backend.ModelTags(r.Context())
	if err != nil {
		s.log.Warn("list models failed", zap.Error(err))
		status := http.StatusBadGateway
		if ollama.IsNotRunning(err) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, "upstream_error", "could not list models")
		return
	}
	if tags == nil {
		tags = []ollama.ModelTag{}
	}
	s.writeJSON(w, http.StatusOK, ModelsResponse{Tags: tags})
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "conversation storage is disabled")
		return false
	}
	return true
}

// handleConversationList handles GET /api/conversations[?q=text].
func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	metas, err := s.store.Conversations().Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.log.Error("list conversations failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage_error", "could not list conversations")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": metas})
}

// handleConversationCreate handles POST /api/conversations. The
// conversation is stored by its first committed exchange.
func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": storage.NewConversationID()})
}

// handleConversationGet handles GET /api/conversations/{id}.
func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := chi.URLParam(r, "id")
	conv, err := s.store.Conversations().Load(r.Context(), id)
	if errors.Is(err, storage.ErrConversationNotFound) {
		s.writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	if err != nil {
		s.log.Error("load conversation failed", zap.String("conversation", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage_error", "could not load conversation")
		return
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	s.writeJSON(w, http.StatusOK, conv)
}

// handleConversationExport handles GET /api/conversations/{id}/export[?format=json].
func (s *Server) handleConversationExport(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	exp, err := export.New(r.URL.Query().Get("format"), export.DefaultOptions())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	conv, err := s.store.Conversations().Load(r.Context(), id)
	if errors.Is(err, storage.ErrConversationNotFound) {
		s.writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	if err == nil {
		var data []byte
		if data, err = exp.Export(conv); err == nil {
			w.Header().Set("Content-Type", exp.MimeType())
			w.Header().Set("Content-Disposition",
				fmt.Sprintf("attachment; filename=%q", export.Filename(conv, exp, time.Now())))
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
	}
	s.log.Error("export conversation failed", zap.String("conversation", id), zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "storage_error", "could not export conversation")
}

// handleConversationDelete handles DELETE /api/conversations/{id}.
func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := chi.URLParam(r, "id")
	err := s.store.Conversations().DeleteConversation(r.Context(), id)
	if errors.Is(err, storage.ErrConversationNotFound) {
		s.writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	if err != nil {
		s.log.Error("delete conversation failed", zap.String("conversation", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage_error", "could not delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// SIGN-IN HANDLER
// ============================================================================

// SignInResponse is the body of POST /api/auth/signin.
type SignInResponse struct {
	Allowed bool   `json:"allowed"`
	UserID  int64  `json:"user_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// handleSignIn handles POST /api/auth/signin. A sign-in without an email or
// provider is denied; anything else is recorded and allowed.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var in storage.SignIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request format")
		return
	}
	if err := s.validate.Struct(&in); err != nil {
		s.writeJSON(w, http.StatusForbidden, SignInResponse{Reason: describeValidation(err)})
		return
	}

	id, err := s.store.Accounts().RecordSignIn(r.Context(), in)
	if errors.Is(err, storage.ErrMissingIdentity) {
		s.writeJSON(w, http.StatusForbidden, SignInResponse{Reason: err.Error()})
		return
	}
	if err != nil {
		s.log.Error("record sign-in failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage_error", "could not record sign-in")
		return
	}
	s.writeJSON(w, http.StatusOK, SignInResponse{Allowed: true, UserID: id})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	Ollama       string `json:"ollama"`
	Storage      string `json:"storage"`
	DefaultModel string `json:"default_model"`
}

// handleHealth handles GET /health. It always answers 200; Status is
// "degraded" when a dependency is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:       "ok",
		Version:      s.version,
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Ollama:       "ok",
		Storage:      "disabled",
		DefaultModel: s.DefaultModel(),
	}
	if err := s.backend.CheckRunning(ctx); err != nil {
		resp.Ollama = "unreachable"
		resp.Status = "degraded"
	}
	if s.store != nil {
		resp.Storage = "ok"
		if err := s.store.Ping(ctx); err != nil {
			resp.Storage = "error"
			resp.Status = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
