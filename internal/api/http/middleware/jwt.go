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
	"crypto/subtle"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/jwt"
)

// IdentityKey JWT 中的客户端身份字段
const IdentityKey = "sub"

var errBadCredentials = errors.New("invalid client credentials")

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// NewJWTAuth 创建 JWT 中间件；clients 为 client_id -> secret，登录成功后 token 的 sub 即 client_id
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration, clients map[string]string) (*jwt.HertzJWTMiddleware, error) {
	if timeout <= 0 {
		timeout = time.Hour
	}
	if maxRefresh <= 0 {
		maxRefresh = timeout
	}
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:         "llm-council",
		Key:           key,
		Timeout:       timeout,
		MaxRefresh:    maxRefresh,
		IdentityKey:   IdentityKey,
		TokenLookup:   "header: Authorization",
		TokenHeadName: "Bearer",
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if id, ok := data.(string); ok {
				return jwt.MapClaims{IdentityKey: id}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			id, _ := claims[IdentityKey].(string)
			return id
		},
		Authenticator: func(ctx context.Context, c *app.RequestContext) (interface{}, error) {
			var req tokenRequest
			if err := c.BindJSON(&req); err != nil || req.ClientID == "" {
				return nil, jwt.ErrMissingLoginValues
			}
			secret, ok := clients[req.ClientID]
			if !ok || subtle.ConstantTimeCompare([]byte(secret), []byte(req.ClientSecret)) != 1 {
				return nil, errBadCredentials
			}
			return req.ClientID, nil
		},
		Authorizator: func(data interface{}, ctx context.Context, c *app.RequestContext) bool {
			id, ok := data.(string)
			return ok && id != ""
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(code, map[string]string{"error": message})
		},
		LoginResponse: func(ctx context.Context, c *app.RequestContext, code int, token string, expire time.Time) {
			c.JSON(consts.StatusOK, map[string]interface{}{
				"token":  token,
				"expire": expire.Format(time.RFC3339),
			})
		},
	})
}
