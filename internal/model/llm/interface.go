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
	"errors"
	"fmt"
	"net/http"
	"time"

	"llm-council/pkg/redaction"
)

var (
	// ErrTimeout 模型调用超时
	ErrTimeout = errors.New("model call timed out")
	// ErrEmptyCompletion 模型返回空文本
	ErrEmptyCompletion = errors.New("model returned empty output")
	// ErrUnknownModel 路由表中没有该模型
	ErrUnknownModel = errors.New("unknown model")
)

// ProviderError 上游 Provider 返回的错误；响应体可能回显提示词，只以摘要形式保留且不进入 Error()
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Body       redaction.Text
	Err        error
}

// statusError 非 200 响应
func statusError(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    http.StatusText(status),
		Body:       redaction.NewText(body, ""),
	}
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Message 聊天消息
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// GenerateOptions 生成选项
type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion 一次生成的结果
type Completion struct {
	Text  string
	Usage Usage
	Cost  float64 // 由 Router 按价格表填充（美元）
	Model string
}

// Client 单个 Provider/模型的客户端
type Client interface {
	// Chat 聊天，返回文本与用量
	Chat(ctx context.Context, messages []Message, options GenerateOptions) (*Completion, error)
	// Model 返回模型名称
	Model() string
	// Provider 返回提供商名称
	Provider() string
}

// Request 议会对模型的一次调用
type Request struct {
	ModelID     string // provider/model 或在路由表中唯一的 model
	System      string // 可为空
	Prompt      string
	Timeout     time.Duration // 单次调用超时；<=0 不额外限制
	MaxTokens   int
	Temperature float64
}

// Generator 议会执行器依赖的模型能力；须容忍任意延迟与空输出
type Generator interface {
	Generate(ctx context.Context, req Request) (*Completion, error)
}

// NewClient 按 provider 类型创建客户端；baseURL 用于 OpenAI 兼容端点，空则用默认或环境变量
func NewClient(providerType, model, apiKey, baseURL string) (Client, error) {
	switch providerType {
	case "claude", "anthropic":
		return NewClaudeClient(model, apiKey, baseURL)
	case "gemini", "google":
		return NewGeminiClient(model, apiKey, baseURL)
	case "eino":
		return NewEinoOpenAIClient(context.Background(), model, apiKey, baseURL)
	case "openai", "qwen", "":
		return NewOpenAIClientWithBaseURL(model, apiKey, baseURL)
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %s", providerType)
	}
}

func toMessages(req Request) []Message {
	msgs := make([]Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	return append(msgs, Message{Role: "user", Content: req.Prompt})
}
