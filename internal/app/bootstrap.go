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

package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"llm-council/internal/admission"
	"llm-council/internal/council"
	"llm-council/internal/guard"
	"llm-council/internal/model/llm"
	"llm-council/internal/runstore"
	"llm-council/pkg/config"
	"llm-council/pkg/log"
	"llm-council/pkg/secrets"
)

// Bootstrap 统一初始化，避免在 cmd 内写业务
type Bootstrap struct {
	Config      *config.Config
	Logger      *log.Logger
	Secrets     secrets.Store
	Models      *llm.Router
	RateLimiter *llm.LLMRateLimiter
	Admitter    admission.Admitter
	Limiter     *admission.Limiter // 内存准入时非 nil，需要周期回收
	RunStore    runstore.Store
	Guard       *guard.Guard
	Executor    *council.Executor

	closers []func() error
}

// NewBootstrap 根据配置创建 Bootstrap（Secrets/Models/Admission/Storage/Executor）
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	b := &Bootstrap{Config: cfg, Logger: logger}

	b.Secrets, err = secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Vault: secrets.VaultConfig{
			Address:    cfg.Secrets.Vault.Address,
			Token:      cfg.Secrets.Vault.Token,
			PathPrefix: cfg.Secrets.Vault.PathPrefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 secret store 失败: %w", err)
	}

	b.RateLimiter = newLLMRateLimiter(cfg.RateLimits)
	if b.Models, err = buildModels(ctx, cfg.Model.LLM, b.Secrets, b.RateLimiter); err != nil {
		return nil, err
	}
	logger.Info("模型已注册", "models", b.Models.Models())

	if err := b.initAdmission(ctx); err != nil {
		b.Close()
		return nil, err
	}

	if b.RunStore, err = runstore.New(ctx, cfg.Storage.Runs); err != nil {
		b.Close()
		return nil, fmt.Errorf("初始化运行记录存储失败: %w", err)
	}
	b.closers = append(b.closers, b.RunStore.Close)

	if b.Guard, err = guard.New(cfg.Council.MaxQueryLen, cfg.Guard.ExtraPatterns); err != nil {
		b.Close()
		return nil, fmt.Errorf("初始化输入防护失败: %w", err)
	}

	b.Executor, err = council.NewExecutor(b.Models, b.RunStore, b.Guard, b.Admitter, ExecutorOptions(cfg), logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// ExecutorOptions 从配置转换执行参数
func ExecutorOptions(cfg *config.Config) council.Options {
	c := cfg.Council
	return council.Options{
		Limits: council.Limits{
			MaxNodes:          c.MaxNodes,
			MaxEdges:          c.MaxEdges,
			MaxInstructionLen: c.MaxInstructionLen,
		},
		WorkerPool:       c.WorkerPool,
		AgentTimeout:     config.ParseDuration(c.AgentTimeout, 0),
		RankingTimeout:   config.ParseDuration(c.RankingTimeout, 0),
		SynthesisTimeout: config.ParseDuration(c.SynthesisTimeout, 0),
		MaxRunDuration:   config.ParseDuration(c.MaxRunDuration, 0),
		MaxTokens:        c.MaxTokens,
		PerNodeCost:      c.PerNodeCost,
		LogSalt:          cfg.Redaction.Salt,
	}
}

func newLLMRateLimiter(cfg config.RateLimitsConfig) *llm.LLMRateLimiter {
	limits := make(map[string]llm.LLMLimitConfig, len(cfg.LLM))
	for provider, l := range cfg.LLM {
		limits[provider] = llm.LLMLimitConfig{
			TokensPerMinute:   l.TokensPerMinute,
			RequestsPerMinute: l.RequestsPerMinute,
			MaxConcurrent:     l.MaxConcurrent,
		}
	}
	return llm.NewLLMRateLimiter(limits, nil)
}

// buildModels 为每个 provider/model 创建客户端并注册到 Router；api_key 支持 ${ENV} 与 secret:// 引用
func buildModels(ctx context.Context, cfg config.LLMConfig, store secrets.Store, rl *llm.LLMRateLimiter) (*llm.Router, error) {
	router := llm.NewRouter(nil)
	providers := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		providers = append(providers, name)
	}
	sort.Strings(providers)

	for _, name := range providers {
		pc := cfg.Providers[name]
		apiKey, err := secrets.Resolve(ctx, store, pc.APIKey)
		if err != nil {
			return nil, fmt.Errorf("解析 %s 的 api_key 失败: %w", name, err)
		}
		typ := pc.Type
		if typ == "" {
			typ = name
		}
		for key, mi := range pc.Models {
			modelName := mi.Name
			if modelName == "" {
				modelName = key
			}
			client, err := llm.NewClient(strings.ToLower(typ), modelName, apiKey, pc.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("创建模型客户端 %s/%s 失败: %w", name, key, err)
			}
			router.Register(name, key, llm.NewRateLimitedClient(client, rl))
			router.SetPrice(name, key, llm.Price{InputPer1K: mi.InputPrice, OutputPer1K: mi.OutputPrice})
		}
	}
	return router, nil
}

func (b *Bootstrap) initAdmission(ctx context.Context) error {
	ac := b.Config.Admission
	limits := admission.Config{
		MaxRequests:   ac.MaxRequests,
		RequestWindow: config.ParseDuration(ac.RequestWindow, 0),
		MaxSpend:      ac.MaxSpend,
		SpendWindow:   config.ParseDuration(ac.SpendWindow, 0),
		MaxConcurrent: ac.MaxConcurrent,
		GCInterval:    config.ParseDuration(ac.GCInterval, 0),
	}
	switch strings.ToLower(ac.Type) {
	case "", "memory":
		b.Limiter = admission.NewLimiter(limits)
		b.Admitter = b.Limiter
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     ac.Redis.Addr,
			DB:       ac.Redis.DB,
			Password: ac.Redis.Password,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("连接准入 Redis 失败: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.Admitter = admission.NewRedisLimiter(client, ac.Redis.Prefix, limits)
	default:
		return fmt.Errorf("未知的 admission.type %q", ac.Type)
	}
	return nil
}

// JWTClients 解析 client secret 中的 secret:// 引用
func (b *Bootstrap) JWTClients(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(b.Config.API.Middleware.Clients))
	for id, v := range b.Config.API.Middleware.Clients {
		secret, err := secrets.Resolve(ctx, b.Secrets, v)
		if err != nil {
			return nil, fmt.Errorf("解析 client %s 的 secret 失败: %w", id, err)
		}
		out[id] = secret
	}
	return out, nil
}

// Close 释放外部连接；可重复调用
func (b *Bootstrap) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}
