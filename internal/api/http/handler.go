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
	stderrors "errors"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"llm-council/internal/api/http/middleware"
	"llm-council/internal/council"
	"llm-council/internal/runstore"
	"llm-council/pkg/errors"
	"llm-council/pkg/log"
	"llm-council/pkg/metrics"
	"llm-council/pkg/redaction"
)

// MaxBodyBytes 提交请求体上限
const MaxBodyBytes = 1 << 20

// Handler HTTP 处理器
type Handler struct {
	executor *council.Executor
	store    runstore.Store
	redactor *redaction.Engine
	logger   *log.Logger
}

// NewHandler 创建 HTTP 处理器；redactor 为 nil 时使用默认运行记录策略
func NewHandler(executor *council.Executor, store runstore.Store, redactor *redaction.Engine, logger *log.Logger) *Handler {
	if redactor == nil {
		redactor = redaction.NewEngine(redaction.DefaultRunPolicy(""))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Handler{executor: executor, store: store, redactor: redactor, logger: logger}
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "llm-council",
	})
}

// Metrics Prometheus 文本格式
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		h.logger.Error("metrics export failed", "error", err)
		c.AbortWithStatus(consts.StatusInternalServerError)
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

type graphRequest struct {
	Graph council.Graph `json:"graph"`
}

func writeError(c *app.RequestContext, err error) {
	body := map[string]string{"error": errors.ReasonOf(err)}
	if k := errors.KindOf(err); k != "" {
		body["kind"] = string(k)
	}
	c.JSON(errors.HTTPStatus(err), body)
}

func decodeBody(c *app.RequestContext, v interface{}) error {
	body := c.Request.Body()
	if len(body) > MaxBodyBytes {
		return errors.Newf(errors.KindConfiguration, "request body exceeds %d bytes", MaxBodyBytes)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New(errors.KindConfiguration, "invalid request body").WithCause(err)
	}
	return nil
}

// CreateRun 提交一次议会运行；默认以 NDJSON 流推送阶段事件，stream=false 时整体返回
func (h *Handler) CreateRun(ctx context.Context, c *app.RequestContext) {
	var sub council.Submission
	if err := decodeBody(c, &sub); err != nil {
		writeError(c, err)
		return
	}
	sub.ClientKey = middleware.ClientKey(c)

	buffered := string(c.Query("stream")) == "false"
	sink := newNDJSONSink(c, buffered)

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	run, err := h.executor.Execute(ctx, sub, sink)
	if err != nil && run == nil && !sink.started {
		// 执行器总会先推送 error 事件；这里只兜底
		writeError(c, err)
		return
	}
	sink.finish(errors.HTTPStatus(err))
}

// ValidateGraph 只校验拓扑与节点指令，不调用模型
func (h *Handler) ValidateGraph(ctx context.Context, c *app.RequestContext) {
	var req graphRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	vg, err := h.executor.Preflight(req.Graph)
	if err != nil {
		c.JSON(errors.HTTPStatus(err), map[string]interface{}{
			"valid":  false,
			"kind":   string(errors.KindOf(err)),
			"reason": errors.ReasonOf(err),
		})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"valid":       true,
		"chairman_id": vg.ChairmanID,
		"tiers":       vg.Tiers,
	})
}

// GetRun 读取本客户端的运行记录（对外视图，不含标签映射）；redact=true 时再按脱敏策略输出
func (h *Handler) GetRun(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	run, err := h.store.LoadRun(ctx, id)
	if err != nil {
		if stderrors.Is(err, runstore.ErrNotFound) {
			c.JSON(consts.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		h.logger.Error("loading run failed", "run_id", id, "error", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to load run"})
		return
	}
	if run.ClientKey != middleware.ClientKey(c) {
		c.JSON(consts.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}

	data, err := json.Marshal(run.Public())
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to encode run"})
		return
	}
	if string(c.Query("redact")) == "true" {
		if data, err = h.redactor.RedactData(redaction.DocumentCouncilRun, data); err != nil {
			h.logger.Error("redacting run failed", "run_id", id, "error", err)
			c.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to redact run"})
			return
		}
	}
	c.Data(consts.StatusOK, "application/json; charset=utf-8", data)
}

// ListRuns 本客户端最近的运行
func (h *Handler) ListRuns(ctx context.Context, c *app.RequestContext) {
	limit, _ := strconv.Atoi(string(c.Query("limit")))
	runs, err := h.store.ListRuns(ctx, runstore.ListOptions{ClientKey: middleware.ClientKey(c), Limit: limit})
	if err != nil {
		h.logger.Error("listing runs failed", "error", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"runs":  runs,
		"total": len(runs),
	})
}
