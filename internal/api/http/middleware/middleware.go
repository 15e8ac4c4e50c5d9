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
	"net"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"llm-council/internal/admission"
)

// ClientKeyContextKey 请求上下文中客户端限流键的 key
const ClientKeyContextKey = "council_client_key"

// Middleware 通用中间件
type Middleware struct {
	allowOrigins []string
	trustProxy   bool
	salt         string
}

// Option Middleware 选项
type Option func(*Middleware)

// WithAllowOrigins 设置 CORS 允许的来源；为空时允许全部
func WithAllowOrigins(origins []string) Option {
	return func(m *Middleware) { m.allowOrigins = origins }
}

// WithTrustProxy 从 X-Forwarded-For 取客户端地址
func WithTrustProxy(trust bool) Option {
	return func(m *Middleware) { m.trustProxy = trust }
}

// WithClientSalt 客户端标识 hash 的 salt
func WithClientSalt(salt string) Option {
	return func(m *Middleware) { m.salt = salt }
}

// NewMiddleware 创建中间件
func NewMiddleware(opts ...Option) *Middleware {
	m := &Middleware{}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CORS CORS 中间件
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		origin := string(c.GetHeader("Origin"))
		if allowed := m.allowOrigin(origin); allowed != "" {
			c.Header("Access-Control-Allow-Origin", allowed)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

func (m *Middleware) allowOrigin(origin string) string {
	if len(m.allowOrigins) == 0 {
		return "*"
	}
	for _, o := range m.allowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

// ClientIdentity 计算客户端限流键：有 JWT 身份时用身份，否则用客户端地址；只保存 hash
func (m *Middleware) ClientIdentity() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		raw := "ip:" + m.clientAddr(c)
		if v, ok := c.Get(IdentityKey); ok {
			if id, ok := v.(string); ok && id != "" {
				raw = "sub:" + id
			}
		}
		c.Set(ClientKeyContextKey, admission.ClientKey(raw, m.salt))
		c.Next(ctx)
	}
}

func (m *Middleware) clientAddr(c *app.RequestContext) string {
	if m.trustProxy {
		if xff := string(c.GetHeader("X-Forwarded-For")); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	addr := c.RemoteAddr()
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// ClientKey 取出 ClientIdentity 写入的限流键
func ClientKey(c *app.RequestContext) string {
	return c.GetString(ClientKeyContextKey)
}
