// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const tagsBody = `{"models":[
 {"name":"llama3.2:latest","modified_at":"2025-01-02T03:04:05Z","size":2019393189,
  "details":{"format":"gguf","family":"llama","parameter_size":"3.2B","quantization_level":"Q4_K_M"}},
 {"name":"qwen2.5:7b","modified_at":"2025-02-01T00:00:00Z","size":4683087332,
  "details":{"format":"gguf","family":"qwen2","parameter_size":"7.6B","quantization_level":"Q4_K_M"}}
]}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestNewClientWithConfig_FillsDefaults(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{})

	if c.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", c.BaseURL(), DefaultBaseURL)
	}
	if c.DefaultModel() == "" {
		t.Error("DefaultModel should be filled in")
	}
}

func TestNewClientWithConfig_DoesNotMutateInput(t *testing.T) {
	cfg := &ClientConfig{BaseURL: "http://example:1/"}
	_ = NewClientWithConfig(cfg)

	if cfg.BaseURL != "http://example:1/" {
		t.Errorf("input config mutated: %q", cfg.BaseURL)
	}
}

// =============================================================================
// MODEL TESTS
// =============================================================================

func TestClient_ModelTags(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		io.WriteString(w, tagsBody)
	})

	tags, err := c.ModelTags(context.Background())
	if err != nil {
		t.Fatalf("ModelTags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("len = %d, want 2", len(tags))
	}

	got := tags[0]
	if got.Name != "llama3.2:latest" || got.Size != "3.2B" || got.Format != "gguf" || got.Quant != "Q4_K_M" {
		t.Errorf("tag = %+v", got)
	}
	if !got.Updated.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("Updated = %v", got.Updated)
	}
}

func TestClient_HasModel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, tagsBody)
	})

	tests := []struct {
		name string
		want bool
	}{
		{"llama3.2", true},
		{"llama3.2:latest", true},
		{"qwen2.5:7b", true},
		{"qwen2.5", false},
		{"mistral", false},
	}
	for _, tc := range tests {
		got, err := c.HasModel(context.Background(), tc.name)
		if err != nil {
			t.Fatalf("HasModel(%q): %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("HasModel(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1 MB"},
		{2 * 1024 * 1024 * 1024, "2 GB"},
	}

	for _, tc := range tests {
		m := &ModelInfo{Size: tc.size}
		if got := m.FormatSize(); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestClient_OpenChat_SendsRequest(t *testing.T) {
	var got ChatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("%s %s, want POST /api/chat", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		io.WriteString(w, `{"message":{"content":"Hi"},"done":true}`)
	})

	body, err := c.OpenChat(context.Background(), ChatRequest{
		Messages: []Message{NewUserMessage("hello")},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	defer body.Close()

	raw, _ := io.ReadAll(body)
	if string(raw) != `{"message":{"content":"Hi"},"done":true}` {
		t.Errorf("body = %q", raw)
	}
	if got.Model != c.DefaultModel() {
		t.Errorf("Model = %q, want default %q", got.Model, c.DefaultModel())
	}
	if !got.Stream || len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("request = %+v", got)
	}
}

func TestClient_OpenChat_StatusError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType ErrorType
		wantMsg  string
	}{
		{"server error with body", 500, `{"error":"boom"}`, ErrTypeStatus, "chat request failed: boom"},
		{"model missing", 404, `{"error":"model 'x' not found"}`, ErrTypeModelNotFound, "chat request failed: model 'x' not found"},
		{"plain body", 503, "busy", ErrTypeStatus, "chat request failed: 503 Service Unavailable"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})

			_, err := c.OpenChat(context.Background(), ChatRequest{Model: "x"})
			var ce *ClientError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ClientError", err)
			}
			if ce.Type != tc.wantType {
				t.Errorf("Type = %v, want %v", ce.Type, tc.wantType)
			}
			if ce.StatusCode != tc.status || StatusCode(err) != tc.status {
				t.Errorf("StatusCode = %d, want %d", ce.StatusCode, tc.status)
			}
			if ce.Message != tc.wantMsg {
				t.Errorf("Message = %q, want %q", ce.Message, tc.wantMsg)
			}
		})
	}
}

func TestClient_OpenChat_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url})
	_, err := c.OpenChat(context.Background(), ChatRequest{Model: "x"})

	if !IsNotRunning(err) {
		t.Errorf("err = %v, want not running", err)
	}
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("errors.Is(err, ErrNotRunning) = false")
	}
}

func TestClient_OpenChat_Cancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.OpenChat(ctx, ChatRequest{Model: "x"})
	var ce *ClientError
	if !errors.As(err, &ce) || ce.Type != ErrTypeCancelled {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("cancelled error should wrap context.Canceled")
	}
}

func TestClient_CheckRunning(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Ollama is running")
	})
	if err := c.CheckRunning(context.Background()); err != nil {
		t.Errorf("CheckRunning: %v", err)
	}
}
