package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func userMessages(content string) []Message {
	return []Message{{Role: "user", Content: content}}
}

func TestClientCompleteSuccess(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not_found"}`))
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"gpt-4.1-2025",
			"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}],
			"usage":{"prompt_tokens":123,"completion_tokens":22,"total_tokens":145}
		}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIKey: "test-key", BaseURL: server.URL, Timeout: 2 * time.Second, MaxRetries: 1})
	result, err := client.Complete(context.Background(), CompletionRequest{
		Model:           "gpt-4.1",
		Messages:        userMessages("test prompt"),
		JSONOutput:      true,
		Temperature:     0.2,
		MaxOutputTokens: 500,
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if result.Message.Content != `{"ok":true}` || result.ModelID != "gpt-4.1-2025" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Usage.TotalTokens != 145 {
		t.Fatalf("expected total tokens 145, got %d", result.Usage.TotalTokens)
	}
	format, _ := payload["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected json response format, got %v", payload["response_format"])
	}
	if _, ok := payload["tools"]; ok {
		t.Fatalf("expected no tools in payload")
	}
}

func TestClientSendsToolsAndParsesToolCalls(t *testing.T) {
	var payload struct {
		Tools []struct {
			Type     string `json:"type"`
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"tools"`
		ToolChoice string `json:"tool_choice"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"url\":\"https://x.dev\"}"}}
			]}}]
		}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIKey: "test-key", BaseURL: server.URL, Timeout: 2 * time.Second})
	result, err := client.Complete(context.Background(), CompletionRequest{
		Model:    "gpt-4.1",
		Messages: userMessages("test"),
		Tools:    []Tool{searchTool},
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if len(payload.Tools) != 1 || payload.Tools[0].Function.Name != "search" || payload.ToolChoice != "auto" {
		t.Fatalf("unexpected tools payload %+v", payload)
	}
	if len(result.Message.ToolCalls) != 1 || result.Message.ToolCalls[0].Function.Arguments != `{"url":"https://x.dev"}` {
		t.Fatalf("unexpected tool calls %+v", result.Message.ToolCalls)
	}
	if result.ModelID != "gpt-4.1" {
		t.Fatalf("expected requested model as fallback id, got %q", result.ModelID)
	}
}

func TestClientRetriesOnRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIKey: "test-key", BaseURL: server.URL, Timeout: 2 * time.Second, MaxRetries: 2})
	if _, err := client.Complete(context.Background(), CompletionRequest{Model: "m", Messages: userMessages("test")}); err != nil {
		t.Fatalf("expected success after retry, got err=%v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIKey: "test-key", BaseURL: server.URL, Timeout: 2 * time.Second, MaxRetries: 3})
	_, err := client.Complete(context.Background(), CompletionRequest{Model: "m", Messages: userMessages("test")})
	var httpErr *providerHTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected provider 400 error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestClientParsesArrayContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"line 1"},{"type":"text","text":"line 2"}]}}]}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIKey: "test-key", BaseURL: server.URL, Timeout: 2 * time.Second})
	result, err := client.Complete(context.Background(), CompletionRequest{Model: "m", Messages: userMessages("test")})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if got := result.Message.Content; got != "line 1\nline 2" {
		t.Fatalf("unexpected parsed text: %q", got)
	}
}

func TestClientUnavailableWithoutKey(t *testing.T) {
	client := NewClient(ClientConfig{})
	_, err := client.Complete(context.Background(), CompletionRequest{Model: "m", Messages: userMessages("test")})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
