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
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-council/internal/api/http/middleware"
	"llm-council/internal/council"
	"llm-council/internal/runstore"
)

type auditRecorder struct {
	mu      sync.Mutex
	entries []middleware.AuditLog
}

func (a *auditRecorder) LogAccess(_ context.Context, l middleware.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, l)
	return nil
}

func buildAuthRouter(t *testing.T, audit *auditRecorder) *Router {
	t.Helper()
	store := runstore.NewMemoryStore()
	ex, err := council.NewExecutor(echoGen{}, store, nil, nil, council.Options{}, nil)
	require.NoError(t, err)
	r := NewRouter(NewHandler(ex, store, nil, nil), middleware.NewMiddleware())
	j, err := middleware.NewJWTAuth([]byte("test-key"), time.Hour, time.Hour, map[string]string{"cli": "s3cret"})
	require.NoError(t, err)
	r.SetJWT(j)
	if audit != nil {
		r.SetAudit(middleware.NewAuditMiddleware(audit))
	}
	return r
}

func TestRouter_JWTRequiredWhenEnabled(t *testing.T) {
	s := buildAuthRouter(t, nil).Build(":0")

	body, _ := json.Marshal(map[string]interface{}{"graph": testGraph(2)})
	w := ut.PerformRequest(s.Engine, "POST", "/api/council/validate", &ut.Body{Body: bytes.NewReader(body), Len: len(body)})
	assert.Equal(t, 401, w.Result().StatusCode())

	assert.Equal(t, 200, get(s, "/api/health").Result().StatusCode())

	w = postJSON(s, "/api/auth/token", map[string]string{"client_id": "cli", "client_secret": "wrong"})
	assert.Equal(t, 401, w.Result().StatusCode())

	w = postJSON(s, "/api/auth/token", map[string]string{"client_id": "cli", "client_secret": "s3cret"})
	require.Equal(t, 200, w.Result().StatusCode())
	var tok struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Result().Body(), &tok))
	require.NotEmpty(t, tok.Token)

	w = postJSON(s, "/api/council/validate", map[string]interface{}{"graph": testGraph(2)},
		ut.Header{Key: "Authorization", Value: "Bearer " + tok.Token})
	assert.Equal(t, 200, w.Result().StatusCode())
}

func TestRouter_AuditRecordsAction(t *testing.T) {
	audit := &auditRecorder{}
	r := buildAuthRouter(t, audit)
	r.SetJWT(nil)
	s := r.Build(":0")

	w := postJSON(s, "/api/council/validate", map[string]interface{}{"graph": testGraph(2)})
	require.Equal(t, 200, w.Result().StatusCode())
	get(s, "/api/council/runs/abc")

	audit.mu.Lock()
	defer audit.mu.Unlock()
	require.Len(t, audit.entries, 2)
	assert.Equal(t, "validate_graph", audit.entries[0].Action)
	assert.True(t, audit.entries[0].Success)
	assert.NotEmpty(t, audit.entries[0].ClientKey)
	assert.Equal(t, "view_run", audit.entries[1].Action)
	assert.Equal(t, "abc", audit.entries[1].ResourceID)
	assert.False(t, audit.entries[1].Success)
}

func TestRouter_CORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	w := ut.PerformRequest(s.Engine, "OPTIONS", "/api/council/runs", &ut.Body{Body: bytes.NewReader(nil), Len: 0},
		ut.Header{Key: "Origin", Value: "https://example.com"})
	assert.Equal(t, 204, w.Result().StatusCode())
	assert.Equal(t, "*", string(w.Result().Header.Peek("Access-Control-Allow-Origin")))
}
