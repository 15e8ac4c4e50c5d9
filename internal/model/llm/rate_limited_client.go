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
	"time"

	"llm-council/pkg/metrics"
)

// RateLimitedClient 包装任意 Client，在真实调用前后执行 Provider 限流
type RateLimitedClient struct {
	inner       Client
	rateLimiter *LLMRateLimiter
}

// NewRateLimitedClient 创建带限流的客户端；rateLimiter 为 nil 时退化为直接调用
func NewRateLimitedClient(inner Client, rateLimiter *LLMRateLimiter) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, rateLimiter: rateLimiter}
}

// Chat 实现 Client.Chat
func (c *RateLimitedClient) Chat(ctx context.Context, messages []Message, options GenerateOptions) (*Completion, error) {
	if c.rateLimiter == nil {
		return c.inner.Chat(ctx, messages, options)
	}
	provider := c.inner.Provider()
	start := time.Now()
	if err := c.rateLimiter.Wait(ctx, provider, estimateTokens(messages, options.MaxTokens)); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, err
	}
	metrics.RateLimitWaitSeconds.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	defer c.rateLimiter.Release(provider)

	comp, err := c.inner.Chat(ctx, messages, options)
	if err != nil {
		return nil, err
	}
	used := comp.Usage.TotalTokens
	if used == 0 {
		used = options.MaxTokens
	}
	c.rateLimiter.RecordTokenUsage(provider, used)
	return comp, nil
}

// Model 返回底层 Client 的模型名称
func (c *RateLimitedClient) Model() string { return c.inner.Model() }

// Provider 返回底层 Client 的提供商名称
func (c *RateLimitedClient) Provider() string { return c.inner.Provider() }

// estimateTokens 粗略估算请求的 token 数（4 字节 ≈ 1 token）
func estimateTokens(msgs []Message, maxTokens int) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
	}
	estimated := total / 4
	if maxTokens > 0 {
		estimated += maxTokens
	}
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}
