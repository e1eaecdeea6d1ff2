package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto-arxiv-go/internal/config"
)

// newChatServer 返回一个按调用次数依次回复 replies 的假 chat 接口。
func newChatServer(t *testing.T, replies []string) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		reply := replies[len(replies)-1]
		if calls < len(replies) {
			reply = replies[calls]
		}
		calls++

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": reply}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(srv *httptest.Server) Client {
	return NewClient(config.LLMConfig{
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		Model:       "test-model",
		JSONRetries: 3,
	})
}

func TestGenerateReturnsContent(t *testing.T) {
	srv, _ := newChatServer(t, []string{"你好"})
	client := newTestClient(srv)

	got, err := client.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "你好", got)
}

func TestGenerateJSONStripsCodeFence(t *testing.T) {
	srv, _ := newChatServer(t, []string{"```json\n{\"query\": \"object detection\"}\n```"})
	client := newTestClient(srv)

	var out struct {
		Query string `json:"query"`
	}
	require.NoError(t, client.GenerateJSON(context.Background(), []Message{{Role: "user", Content: "q"}}, &out))
	assert.Equal(t, "object detection", out.Query)
}

func TestGenerateJSONIgnoresSurroundingProse(t *testing.T) {
	srv, _ := newChatServer(t, []string{"好的，结果如下:\n{\"query\": \"x\"}\n希望有帮助"})
	client := newTestClient(srv)

	var out struct {
		Query string `json:"query"`
	}
	require.NoError(t, client.GenerateJSON(context.Background(), []Message{{Role: "user", Content: "q"}}, &out))
	assert.Equal(t, "x", out.Query)
}

func TestGenerateJSONRetriesOnInvalidOutput(t *testing.T) {
	srv, calls := newChatServer(t, []string{"这不是 JSON", "{\"query\": \"fixed\"}"})
	client := newTestClient(srv)

	var out struct {
		Query string `json:"query"`
	}
	require.NoError(t, client.GenerateJSON(context.Background(), []Message{{Role: "user", Content: "q"}}, &out))
	assert.Equal(t, "fixed", out.Query)
	assert.Equal(t, 2, *calls)
}

func TestGenerateJSONExhaustsRetries(t *testing.T) {
	srv, calls := newChatServer(t, []string{"bad", "bad", "bad"})
	client := newTestClient(srv)

	var out map[string]interface{}
	err := client.GenerateJSON(context.Background(), []Message{{Role: "user", Content: "q"}}, &out)
	assert.Error(t, err)
	assert.Equal(t, 3, *calls)
}

func TestGenerateNon200Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	client := newTestClient(srv)

	_, err := client.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
}
