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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"llm-council/internal/council"
)

func apiBaseURL() string {
	if u := os.Getenv("COUNCIL_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

// apiClient 议会 API 客户端
type apiClient struct {
	http *resty.Client
}

func newClient(baseURL, token string) *apiClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &apiClient{http: c}
}

func (c *apiClient) health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/api/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("GET /api/health: %s", resp.String())
	}
	return nil
}

func (c *apiClient) token(ctx context.Context, clientID, secret string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"client_id": clientID, "client_secret": secret}).
		SetResult(&out).
		Post("/api/auth/token")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("POST /api/auth/token: %s", resp.String())
	}
	return out.Token, nil
}

func (c *apiClient) validate(ctx context.Context, g council.Graph) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(g).
		SetResult(&out).
		SetError(&out).
		Post("/api/council/validate")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusBadRequest {
		return nil, fmt.Errorf("POST /api/council/validate: %s", resp.String())
	}
	return out, nil
}

// run 提交运行并逐行回调 NDJSON 事件，返回最后一个事件
func (c *apiClient) run(ctx context.Context, sub council.Submission, onEvent func(council.Event)) (*council.Event, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sub).
		SetDoNotParseResponse(true).
		Post("/api/council/runs")
	if err != nil {
		return nil, err
	}
	body := resp.RawBody()
	defer body.Close()
	return readEvents(body, onEvent)
}

func readEvents(r io.Reader, onEvent func(council.Event)) (*council.Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var last *council.Event
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev council.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return last, fmt.Errorf("无法解析事件: %w", err)
		}
		if onEvent != nil {
			onEvent(ev)
		}
		last = &ev
	}
	if err := sc.Err(); err != nil {
		return last, err
	}
	if last == nil {
		return nil, fmt.Errorf("服务端未返回任何事件")
	}
	return last, nil
}

func (c *apiClient) getRun(ctx context.Context, id string, redact bool) (map[string]interface{}, error) {
	var out map[string]interface{}
	req := c.http.R().SetContext(ctx).SetResult(&out)
	if redact {
		req.SetQueryParam("redact", "true")
	}
	resp, err := req.Get("/api/council/runs/" + id)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/council/runs/%s: %s", id, resp.String())
	}
	return out, nil
}

func (c *apiClient) listRuns(ctx context.Context, limit int) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", fmt.Sprint(limit)).
		SetResult(&out).
		Get("/api/council/runs")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/council/runs: %s", resp.String())
	}
	return out, nil
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
