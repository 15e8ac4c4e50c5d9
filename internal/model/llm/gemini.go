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
	"net/http"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"
)

// GeminiClient Google Gemini generateContent 客户端
type GeminiClient struct {
	provider string
	model    string
	apiKey   string
	baseURL  string
	client   *resty.Client
}

// NewGeminiClient 创建新的 Gemini 客户端；baseURL 为空时用默认或 GEMINI_BASE_URL
func NewGeminiClient(model, apiKey, baseURL string) (*GeminiClient, error) {
	if model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
		if envURL := os.Getenv("GEMINI_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}
	return &GeminiClient{
		provider: "gemini",
		model:    model,
		apiKey:   apiKey,
		baseURL:  baseURL,
		client:   newRestyClient(),
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// Chat 聊天；assistant 角色映射为 model
func (c *GeminiClient) Chat(ctx context.Context, messages []Message, options GenerateOptions) (*Completion, error) {
	request := map[string]interface{}{}
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			request["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case "assistant":
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	request["contents"] = contents
	genCfg := map[string]interface{}{"temperature": options.Temperature}
	if options.MaxTokens > 0 {
		genCfg["maxOutputTokens"] = options.MaxTokens
	}
	request["generationConfig"] = genCfg

	var result struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", c.apiKey).
		SetBody(request).
		SetResult(&result).
		Post(c.baseURL + "/models/" + c.model + ":generateContent")
	if err != nil {
		return nil, transportError(ctx, c.provider, err)
	}
	if response.StatusCode() != http.StatusOK {
		return nil, statusError(c.provider, response.StatusCode(), response.String())
	}
	if len(result.Candidates) == 0 {
		return nil, &ProviderError{Provider: c.provider, Message: "no candidates in response"}
	}
	var text strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return &Completion{
		Text: text.String(),
		Usage: Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      result.UsageMetadata.TotalTokenCount,
		},
		Model: c.model,
	}, nil
}

// Model 返回模型名称
func (c *GeminiClient) Model() string { return c.model }

// Provider 返回提供商名称
func (c *GeminiClient) Provider() string { return c.provider }
