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

package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RunTotal, StageDuration, AgentCallDuration,
		LLMTokensTotal, LLMCostTotal,
		AdmissionDeniedTotal, InjectionRejectedTotal,
		ActiveStreams, RateLimitWaitSeconds,
	)
}

// RunTotal 议会运行总数（按终态）
var RunTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "council_run_total",
		Help: "议会运行总数（按终态）",
	},
	[]string{"status"}, // completed | partially_failed | failed
)

// StageDuration 阶段耗时（秒）
var StageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "council_stage_duration_seconds",
		Help:    "阶段耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"stage"},
)

// AgentCallDuration 单次模型调用耗时（秒）
var AgentCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "council_agent_call_duration_seconds",
		Help:    "单次模型调用耗时（秒）",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
	},
	[]string{"stage", "outcome"}, // outcome: ok | error | timeout
)

// LLMTokensTotal LLM 调用 token 数
var LLMTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "council_llm_tokens_total",
		Help: "LLM 调用 token 总数",
	},
	[]string{"direction"}, // input | output
)

// LLMCostTotal 估算花费（美元）
var LLMCostTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "council_llm_cost_dollars_total",
		Help: "LLM 调用估算花费（美元）",
	},
)

// AdmissionDeniedTotal 准入拒绝次数
var AdmissionDeniedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "council_admission_denied_total",
		Help: "准入拒绝次数",
	},
	[]string{"reason"}, // requests | spend | concurrency | cost_mid_run
)

// InjectionRejectedTotal 注入检测拒绝次数
var InjectionRejectedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "council_injection_rejected_total",
		Help: "提示注入检测拒绝次数",
	},
)

// ActiveStreams 当前进行中的流式运行数
var ActiveStreams = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "council_active_streams",
		Help: "当前进行中的流式运行数",
	},
)

// RateLimitWaitSeconds 模型调用前在 Provider 限流器上的等待时间
var RateLimitWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "council_llm_rate_limit_wait_seconds",
		Help:    "Provider 限流等待时间（秒）",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	},
	[]string{"provider"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
