// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Paris"}}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClientWithBaseURL("gpt-4o-mini", "k", srv.URL)
	require.NoError(t, err)
	comp, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "capital of France?"}}, GenerateOptions{MaxTokens: 16})
	require.NoError(t, err)
	assert.Equal(t, "Paris", comp.Text)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, comp.Usage)
}

func TestOpenAIClient_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClientWithBaseURL("m", "k", srv.URL)
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, GenerateOptions{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
}

func TestProviderError_BodyNotInMessage(t *testing.T) {
	echo := `{"error":{"message":"invalid request: prompt 'my secret project plan for acquiring Acme Corp' too long"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(echo))
	}))
	defer srv.Close()

	c, err := NewOpenAIClientWithBaseURL("m", "k", srv.URL)
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, GenerateOptions{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.NotContains(t, err.Error(), "secret project")
	assert.Contains(t, err.Error(), "status 400")
	assert.NotContains(t, pe.Body.Preview, "secret project")
	assert.Equal(t, len([]rune(echo)), pe.Body.Runes)
}

func TestClaudeClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sys", body["system"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Par"},{"type":"text","text":"is"}],"usage":{"input_tokens":7,"output_tokens":2}}`))
	}))
	defer srv.Close()

	c, err := NewClaudeClient("claude-x", "k", srv.URL)
	require.NoError(t, err)
	comp, err := c.Chat(context.Background(), []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "q"}}, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Paris", comp.Text)
	assert.Equal(t, 9, comp.Usage.TotalTokens)
}

func TestGeminiClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-x:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Paris"}]}}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":1,"totalTokenCount":5}}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient("gemini-x", "k", srv.URL)
	require.NoError(t, err)
	comp, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Paris", comp.Text)
	assert.Equal(t, 5, comp.Usage.TotalTokens)
}

type fakeChatModel struct {
	in []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.in = input
	return &schema.Message{
		Role:    schema.Assistant,
		Content: "Paris",
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
		},
	}, nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

func TestEinoClient_Chat(t *testing.T) {
	cm := &fakeChatModel{}
	c := NewEinoClient("eino", "m", cm)
	comp, err := c.Chat(context.Background(), []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "q"}}, GenerateOptions{MaxTokens: 8})
	require.NoError(t, err)
	assert.Equal(t, "Paris", comp.Text)
	assert.Equal(t, 4, comp.Usage.TotalTokens)
	require.Len(t, cm.in, 2)
	assert.Equal(t, schema.System, cm.in[0].Role)
}

func TestNewClient_UnknownType(t *testing.T) {
	_, err := NewClient("nope", "m", "k", "")
	assert.Error(t, err)
	c, err := NewClient("claude", "m", "k", "http://localhost")
	require.NoError(t, err)
	assert.Equal(t, "claude", c.Provider())
}
