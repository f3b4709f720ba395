package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumemate/backend/pkg/config"
	"github.com/resumemate/backend/pkg/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, batch int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.LLMConfig{
		APIKey:         "test",
		BaseURL:        srv.URL + "/v1",
		Model:          "chat-model",
		EmbeddingModel: "embed-model",
		EmbedBatchSize: batch,
		TimeoutSec:     5,
	}, WithRetryConfig(retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}))
}

func writeEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input []string `json:"input"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	data := make([]map[string]any, 0, len(req.Input))
	// Reply in reverse order to check that Index is honoured.
	for i := len(req.Input) - 1; i >= 0; i-- {
		data = append(data, map[string]any{
			"object":    "embedding",
			"index":     i,
			"embedding": []float32{float32(len(req.Input[i])), 1},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  "embed-model",
		"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
	})
}

func writeChat(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "chat-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"message":"status %d","type":"test"}}`, status)
}

func TestEmbed(t *testing.T) {
	ctx := context.Background()

	t.Run("Should batch and keep input order", func(t *testing.T) {
		var requests int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requests, 1)
			writeEmbeddings(w, r)
		}, 2)

		vecs, err := c.Embed(ctx, []string{"a", "bb", "ccc"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		assert.Equal(t, float32(1), vecs[0][0])
		assert.Equal(t, float32(2), vecs[1][0])
		assert.Equal(t, float32(3), vecs[2][0])
		assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	})

	t.Run("Should retry rate limits a bounded number of times", func(t *testing.T) {
		var requests int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&requests, 1) < 3 {
				writeError(w, http.StatusTooManyRequests)
				return
			}
			writeEmbeddings(w, r)
		}, 8)

		vecs, err := c.Embed(ctx, []string{"go"})
		require.NoError(t, err)
		assert.Len(t, vecs, 1)
		assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
	})

	t.Run("Should give up after the last attempt", func(t *testing.T) {
		var requests int32
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&requests, 1)
			writeError(w, http.StatusServiceUnavailable)
		}, 8)

		_, err := c.Embed(ctx, []string{"go"})
		require.Error(t, err)
		assert.True(t, IsTransient(err))
		assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
	})

	t.Run("Should not retry client errors", func(t *testing.T) {
		var requests int32
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&requests, 1)
			writeError(w, http.StatusBadRequest)
		}, 8)

		_, err := c.Embed(ctx, []string{"go"})
		require.Error(t, err)
		var apiErr *openai.APIError
		assert.True(t, errors.As(err, &apiErr))
		assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	})
}

func TestDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("Should request JSON mode and decode the answer", func(t *testing.T) {
		var gotFormat string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var req openai.ChatCompletionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.ResponseFormat != nil {
				gotFormat = string(req.ResponseFormat.Type)
			}
			writeChat(w, `{"draft_answer":"I use Go daily.","sources":["skills"],"confidence":0.8,"question_type":"skill","decision":"retrieve","metadata":{}}`)
		}, 8)

		out, err := c.Draft(ctx, DraftRequest{Question: "What are your skills?", Passages: []Passage{{ID: "skills", Text: "Go"}}})
		require.NoError(t, err)
		assert.Equal(t, "json_object", gotFormat)
		assert.Equal(t, "I use Go daily.", out.DraftAnswer)
	})

	t.Run("Should surface malformed output with the raw payload", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			writeChat(w, `{"answer":"wrong field"}`)
		}, 8)

		_, err := c.Draft(ctx, DraftRequest{Question: "q"})
		m, ok := AsMalformed(err)
		require.True(t, ok)
		assert.Equal(t, `{"answer":"wrong field"}`, m.Raw)
	})

	t.Run("Should review with the review prompt", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			writeChat(w, `{"final_answer":"Polished","sources":["skills"],"confidence":0.9,"status":"ok","metadata":{}}`)
		}, 8)

		out, err := c.Review(ctx, ReviewRequest{Question: "q", DraftAnswer: "d"})
		require.NoError(t, err)
		assert.Equal(t, "Polished", out.FinalAnswer)
	})
}

func TestPrompts(t *testing.T) {
	system, user := draftPrompts(DraftRequest{
		OwnerName:     "Alex",
		Question:      "What do you build?",
		Context:       []string{"Hi"},
		Passages:      []Passage{{ID: "p1", Text: "Backend services"}},
		PreviousDraft: "Old",
		Suggestions:   []string{"Too long"},
	}, "brief")
	assert.Contains(t, system, "Alex")
	assert.Contains(t, system, "one or two short sentences")
	assert.Contains(t, user, `"id": "p1"`)
	assert.Contains(t, user, "- Too long")
	assert.Contains(t, user, "Earlier turns")
}
