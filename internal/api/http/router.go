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

package http

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/jwt"

	"llm-council/internal/api/http/middleware"
)

// Router HTTP 路由
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	jwt        *jwt.HertzJWTMiddleware
	audit      *middleware.AuditMiddleware
	global     []app.HandlerFunc
	noMetrics  bool
}

// NewRouter 创建路由
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// SetJWT 启用 Bearer 认证；议会路由要求有效 token
func (r *Router) SetJWT(j *jwt.HertzJWTMiddleware) { r.jwt = j }

// SetAudit 启用访问审计
func (r *Router) SetAudit(a *middleware.AuditMiddleware) { r.audit = a }

// DisableMetrics 不暴露 /metrics
func (r *Router) DisableMetrics() { r.noMetrics = true }

// Use 追加全局中间件（如链路追踪），在 CORS 之前执行
func (r *Router) Use(h ...app.HandlerFunc) { r.global = append(r.global, h...) }

// Build 创建 Hertz 实例并注册路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{
		server.WithHostPorts(addr),
		server.WithMaxRequestBodySize(MaxBodyBytes),
	}, opts...)
	h := server.New(opts...)
	r.Register(h)
	return h
}

// Register 在已有的 Hertz 实例上注册路由
func (r *Router) Register(h *server.Hertz) {
	if len(r.global) > 0 {
		h.Use(r.global...)
	}
	h.Use(r.middleware.CORS())
	h.OPTIONS("/*path", func(ctx context.Context, c *app.RequestContext) {
		c.AbortWithStatus(consts.StatusNoContent)
	})

	h.GET("/api/health", r.handler.HealthCheck)
	if !r.noMetrics {
		h.GET("/metrics", r.handler.Metrics)
	}

	api := h.Group("/api")
	if r.jwt != nil {
		api.POST("/auth/token", r.jwt.LoginHandler)
		api.POST("/auth/refresh", r.jwt.RefreshHandler)
	}

	chain := []app.HandlerFunc{}
	if r.jwt != nil {
		chain = append(chain, r.jwt.MiddlewareFunc())
	}
	chain = append(chain, r.middleware.ClientIdentity())
	if r.audit != nil {
		chain = append(chain, r.audit.AuditAccess())
	}

	council := api.Group("/council", chain...)
	{
		council.POST("/runs", r.handler.CreateRun)
		council.GET("/runs", r.handler.ListRuns)
		council.GET("/runs/:id", r.handler.GetRun)
		council.POST("/validate", r.handler.ValidateGraph)
	}
}
