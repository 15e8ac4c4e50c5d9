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

package runstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"llm-council/internal/council"
	"llm-council/pkg/config"
	"llm-council/pkg/errors"
)

// ErrNotFound 运行记录不存在
var ErrNotFound = errors.ErrNotFound

var errInvalidRun = errors.ErrInvalidArg

// DefaultListLimit ListRuns 默认条数
const DefaultListLimit = 50

// Summary 列表用的运行摘要，不含响应正文
type Summary struct {
	ID           string         `json:"id"`
	Status       council.Status `json:"status"`
	QueryPreview string         `json:"query_preview"`
	TotalCost    float64        `json:"total_cost"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ListOptions 列表过滤
type ListOptions struct {
	ClientKey string
	Limit     int
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return DefaultListLimit
	}
	return o.Limit
}

// Store 运行记录存储；已关闭的运行不可再覆盖
type Store interface {
	SaveRun(ctx context.Context, run *council.Run) error
	LoadRun(ctx context.Context, id string) (*council.Run, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]Summary, error)
	Close() error
}

func summarize(r *council.Run) Summary {
	return Summary{
		ID:           r.ID,
		Status:       r.Status,
		QueryPreview: r.QueryPreview,
		TotalCost:    r.TotalCost,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// New 按配置创建存储：memory（默认）、postgres、redis
func New(ctx context.Context, cfg config.RunStoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres", "pg":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("runstore: postgres requires dsn")
		}
		return NewPostgresStore(ctx, cfg.DSN)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("runstore: redis ping: %w", err)
		}
		return NewRedisStore(client, cfg.Redis.Prefix, config.ParseDuration(cfg.TTL, 0)), nil
	default:
		return nil, fmt.Errorf("runstore: unknown type %q", cfg.Type)
	}
}
