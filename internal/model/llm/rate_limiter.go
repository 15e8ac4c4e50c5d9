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
	"sync"

	"golang.org/x/time/rate"
)

// LLMLimitConfig LLM Provider 限流配置
type LLMLimitConfig struct {
	TokensPerMinute   int     // 每分钟 token 配额
	RequestsPerMinute float64 // 每分钟请求数
	MaxConcurrent     int     // 最大并发请求数
}

// DefaultLLMLimit 未配置 Provider 时的默认限额
var DefaultLLMLimit = LLMLimitConfig{
	TokensPerMinute:   90000,
	RequestsPerMinute: 3500,
	MaxConcurrent:     50,
}

// LLMRateLimiter Provider 维度的限流器：请求速率 + token 预算 + 并发
type LLMRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*llmLimiter // provider -> limiter
	defaults LLMLimitConfig
}

type llmLimiter struct {
	requestLimiter *rate.Limiter
	tokenLimiter   *rate.Limiter
	semaphore      chan struct{}
	config         LLMLimitConfig

	mu         sync.Mutex
	tokensUsed int64
}

// LimiterStats 某 Provider 的限流统计
type LimiterStats struct {
	Config       LLMLimitConfig
	TokensUsed   int64
	InFlight     int
	FreeSlots    int
	HasSemaphore bool
}

// NewLLMRateLimiter 创建限流器；defaults 为 nil 时使用 DefaultLLMLimit
func NewLLMRateLimiter(configs map[string]LLMLimitConfig, defaults *LLMLimitConfig) *LLMRateLimiter {
	d := DefaultLLMLimit
	if defaults != nil {
		d = *defaults
	}
	l := &LLMRateLimiter{limiters: make(map[string]*llmLimiter), defaults: d}
	for provider, cfg := range configs {
		l.limiters[provider] = newLLMLimiter(cfg)
	}
	return l
}

func newLLMLimiter(config LLMLimitConfig) *llmLimiter {
	limiter := &llmLimiter{config: config}
	// burst = 2 秒的配额
	if config.RequestsPerMinute > 0 {
		burst := int(config.RequestsPerMinute / 60.0 * 2)
		if burst < 1 {
			burst = 1
		}
		limiter.requestLimiter = rate.NewLimiter(rate.Limit(config.RequestsPerMinute/60.0), burst)
	}
	if config.TokensPerMinute > 0 {
		burst := config.TokensPerMinute / 60 * 2
		if burst < 1 {
			burst = 1
		}
		limiter.tokenLimiter = rate.NewLimiter(rate.Limit(float64(config.TokensPerMinute)/60.0), burst)
	}
	if config.MaxConcurrent > 0 {
		limiter.semaphore = make(chan struct{}, config.MaxConcurrent)
	}
	return limiter
}

func (l *LLMRateLimiter) get(provider string) *llmLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[provider]
	if !ok {
		limiter = newLLMLimiter(l.defaults)
		l.limiters[provider] = limiter
	}
	return limiter
}

// Wait 阻塞直到可以执行；成功后须调用 Release
func (l *LLMRateLimiter) Wait(ctx context.Context, provider string, estimatedTokens int) error {
	limiter := l.get(provider)

	if limiter.requestLimiter != nil {
		if err := limiter.requestLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("request rate limit wait failed: %w", err)
		}
	}
	// 单次预估超过 burst 时按 burst 等待，避免 WaitN 直接报错
	if limiter.tokenLimiter != nil && estimatedTokens > 0 {
		n := estimatedTokens
		if b := limiter.tokenLimiter.Burst(); n > b {
			n = b
		}
		if err := limiter.tokenLimiter.WaitN(ctx, n); err != nil {
			return fmt.Errorf("token budget wait failed: %w", err)
		}
	}
	if limiter.semaphore != nil {
		select {
		case limiter.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Release 释放并发 slot（在 LLM 调用完成后调用）
func (l *LLMRateLimiter) Release(provider string) {
	limiter := l.get(provider)
	if limiter.semaphore == nil {
		return
	}
	select {
	case <-limiter.semaphore:
	default:
	}
}

// RecordTokenUsage 记录实际使用的 tokens
func (l *LLMRateLimiter) RecordTokenUsage(provider string, actualTokens int) {
	limiter := l.get(provider)
	limiter.mu.Lock()
	limiter.tokensUsed += int64(actualTokens)
	limiter.mu.Unlock()
}

// Stats 获取限流统计信息
func (l *LLMRateLimiter) Stats(provider string) LimiterStats {
	limiter := l.get(provider)
	limiter.mu.Lock()
	used := limiter.tokensUsed
	limiter.mu.Unlock()
	s := LimiterStats{Config: limiter.config, TokensUsed: used}
	if limiter.semaphore != nil {
		s.HasSemaphore = true
		s.InFlight = len(limiter.semaphore)
		s.FreeSlots = cap(limiter.semaphore) - len(limiter.semaphore)
	}
	return s
}
