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

package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"

	"llm-council/pkg/log"
)

// AuditMiddleware 访问审计中间件
type AuditMiddleware struct {
	auditStore AuditStore
}

// AuditStore 审计日志存储接口
type AuditStore interface {
	LogAccess(ctx context.Context, log AuditLog) error
}

// AuditLog 审计日志记录；ClientKey 已是 hash
type AuditLog struct {
	ClientKey    string
	Action       string
	ResourceType string
	ResourceID   string
	Status       int
	Success      bool
	DurationMS   int64
	CreatedAt    time.Time
}

// NewAuditMiddleware 创建审计中间件
func NewAuditMiddleware(auditStore AuditStore) *AuditMiddleware {
	return &AuditMiddleware{auditStore: auditStore}
}

// AuditAccess 记录 API 访问
func (a *AuditMiddleware) AuditAccess() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)

		method, path := string(c.Method()), string(c.Path())
		resourceType, resourceID := extractResource(path)
		status := c.Response.StatusCode()
		entry := AuditLog{
			ClientKey:    ClientKey(c),
			Action:       determineAction(method, path),
			ResourceType: resourceType,
			ResourceID:   resourceID,
			Status:       status,
			Success:      status < 400,
			DurationMS:   time.Since(start).Milliseconds(),
			CreatedAt:    time.Now().UTC(),
		}
		_ = a.auditStore.LogAccess(context.WithoutCancel(ctx), entry)
	}
}

// determineAction 根据 HTTP 方法和路径确定操作类型
func determineAction(method string, path string) string {
	switch {
	case strings.HasSuffix(path, "/auth/token"):
		return "issue_token"
	case strings.HasSuffix(path, "/council/validate"):
		return "validate_graph"
	case strings.Contains(path, "/council/runs"):
		_, id := extractResource(path)
		switch {
		case method == "POST":
			return "create_run"
		case id != "":
			return "view_run"
		default:
			return "list_runs"
		}
	}
	return "unknown"
}

// extractResource 从路径提取资源类型和 ID
func extractResource(path string) (resourceType string, resourceID string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	// /api/council/runs/:id
	if len(parts) >= 3 && parts[1] == "council" && parts[2] == "runs" {
		if len(parts) >= 4 {
			return "run", parts[3]
		}
		return "run", ""
	}
	return "unknown", ""
}

// logAuditStore 写入结构化日志的审计存储
type logAuditStore struct {
	logger *log.Logger
}

// NewLogAuditStore 以 Logger 作为审计输出
func NewLogAuditStore(logger *log.Logger) AuditStore {
	return &logAuditStore{logger: logger}
}

func (s *logAuditStore) LogAccess(ctx context.Context, l AuditLog) error {
	s.logger.InfoContext(ctx, "audit",
		"client", l.ClientKey,
		"action", l.Action,
		"resource_type", l.ResourceType,
		"resource_id", l.ResourceID,
		"status", l.Status,
		"success", l.Success,
		"duration_ms", l.DurationMS,
	)
	return nil
}
