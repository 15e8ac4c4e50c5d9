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
	"sort"
	"strings"
	"sync"

	"llm-council/pkg/metrics"
)

// Router 按 model id 分发到已注册的客户端，实现 Generator
type Router struct {
	mu      sync.RWMutex
	clients map[string]Client // provider/model -> client
	byModel map[string][]string
	pricing Pricing
}

// NewRouter 创建 Router
func NewRouter(pricing Pricing) *Router {
	if pricing == nil {
		pricing = Pricing{}
	}
	return &Router{
		clients: make(map[string]Client),
		byModel: make(map[string][]string),
		pricing: pricing,
	}
}

// Register 注册客户端；键为 provider/model
func (r *Router) Register(provider, model string, c Client) {
	key := provider + "/" + model
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[key]; !exists {
		r.byModel[model] = append(r.byModel[model], key)
	}
	r.clients[key] = c
}

// SetPrice 设置模型价格
func (r *Router) SetPrice(provider, model string, p Price) {
	r.mu.Lock()
	r.pricing[provider+"/"+model] = p
	r.mu.Unlock()
}

// Models 返回已注册的模型键（排序）
func (r *Router) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.clients))
	for k := range r.clients {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Router) lookup(modelID string) (string, Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clients[modelID]; ok {
		return modelID, c, nil
	}
	if !strings.Contains(modelID, "/") {
		if keys := r.byModel[modelID]; len(keys) == 1 {
			return keys[0], r.clients[keys[0]], nil
		}
	}
	return "", nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
}

// Generate 实现 Generator：超时、空输出归一化，并按价格表计费
func (r *Router) Generate(ctx context.Context, req Request) (*Completion, error) {
	key, client, err := r.lookup(req.ModelID)
	if err != nil {
		return nil, err
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	comp, err := client.Chat(ctx, toMessages(req), GenerateOptions{Temperature: req.Temperature, MaxTokens: req.MaxTokens})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s: %w", key, ErrTimeout)
		}
		return nil, err
	}
	if strings.TrimSpace(comp.Text) == "" {
		return nil, fmt.Errorf("%s: %w", key, ErrEmptyCompletion)
	}

	r.mu.RLock()
	comp.Cost = r.pricing.Cost(key, comp.Usage)
	r.mu.RUnlock()
	metrics.LLMTokensTotal.WithLabelValues("input").Add(float64(comp.Usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues("output").Add(float64(comp.Usage.CompletionTokens))
	metrics.LLMCostTotal.Add(comp.Cost)
	return comp, nil
}
