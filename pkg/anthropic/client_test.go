package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageJSON(text string) map[string]any {
	return map[string]any{
		"id":   "msg_test_001",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":                10,
			"output_tokens":               5,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     100,
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient("test-key", option.WithBaseURL(ts.URL), option.WithMaxRetries(0))
}

func TestCreateMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-haiku-4-5-20251001", body["model"])
		system, ok := body["system"].([]any)
		require.True(t, ok)
		require.Len(t, system, 1)
		block := system[0].(map[string]any)
		assert.Equal(t, "enrich leads", block["text"])
		cc, ok := block["cache_control"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "1h", cc["ttl"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageJSON(`[{"index":0,"notes":"x"}]`))
	})

	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   1024,
		System:      "enrich leads",
		CacheSystem: true,
		Messages:    []Message{{Role: "user", Content: "leads"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.False(t, resp.Truncated())
	assert.Equal(t, `[{"index":0,"notes":"x"}]`, resp.Text())
	assert.Equal(t, int64(100), resp.Usage.CacheReadTokens)
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
}

func TestCreateMessage_Error(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "invalid_request_error", "message": "bad"},
		})
	})

	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
		{Role: "other", Content: "q2"},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
}

func TestMessageResponse_TextSkipsNonText(t *testing.T) {
	r := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "b"},
	}}
	assert.Equal(t, "ab", r.Text())
}

func TestCreateMessage_NoSystem(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasSystem := body["system"]
		assert.False(t, hasSystem)

		msg := messageJSON("partial")
		msg["stop_reason"] = "max_tokens"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(msg)
	})

	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Truncated())
}

func TestUsage_Fields(t *testing.T) {
	fields := Usage{InputTokens: 10, OutputTokens: 5}.Fields()
	require.Len(t, fields, 4)
	assert.Equal(t, "input_tokens", fields[0].Key)
	assert.Equal(t, int64(10), fields[0].Integer)
}
