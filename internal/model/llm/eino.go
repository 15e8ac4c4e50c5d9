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
	"fmt"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoClient 把 eino ChatModel 适配为 Client
type EinoClient struct {
	provider string
	model    string
	cm       model.BaseChatModel
}

// NewEinoClient 包装已有的 ChatModel
func NewEinoClient(provider, modelName string, cm model.BaseChatModel) *EinoClient {
	return &EinoClient{provider: provider, model: modelName, cm: cm}
}

// NewEinoOpenAIClient 通过 eino-ext OpenAI ChatModel 创建客户端
func NewEinoOpenAIClient(ctx context.Context, modelName, apiKey, baseURL string) (*EinoClient, error) {
	if modelName == "" {
		return nil, fmt.Errorf("eino: model is required")
	}
	cm, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:   modelName,
		APIKey:  apiKey,
		BaseURL: baseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 OpenAI ChatModel failed: %w", err)
	}
	return NewEinoClient("eino", modelName, cm), nil
}

// Chat 聊天
func (c *EinoClient) Chat(ctx context.Context, messages []Message, options GenerateOptions) (*Completion, error) {
	in := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			in = append(in, schema.SystemMessage(m.Content))
		case "assistant":
			in = append(in, schema.AssistantMessage(m.Content, nil))
		default:
			in = append(in, schema.UserMessage(m.Content))
		}
	}
	opts := []model.Option{model.WithTemperature(float32(options.Temperature))}
	if options.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(options.MaxTokens))
	}

	out, err := c.cm.Generate(ctx, in, opts...)
	if err != nil {
		return nil, transportError(ctx, c.provider, err)
	}
	if out == nil {
		return nil, &ProviderError{Provider: c.provider, Message: "nil message"}
	}
	comp := &Completion{Text: out.Content, Model: c.model}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		u := out.ResponseMeta.Usage
		comp.Usage = Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return comp, nil
}

// Model 返回模型名称
func (c *EinoClient) Model() string { return c.model }

// Provider 返回提供商名称
func (c *EinoClient) Provider() string { return c.provider }
