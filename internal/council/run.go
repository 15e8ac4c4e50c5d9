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

package council

import (
	"fmt"
	"time"
)

// Status 运行状态
type Status string

const (
	StatusPending         Status = "pending"
	StatusStage1          Status = "stage1"
	StatusStage2          Status = "stage2"
	StatusStage3          Status = "stage3"
	StatusCompleted       Status = "completed"
	StatusPartiallyFailed Status = "partially_failed" // 排名完成但主席综合不可用
	StatusFailed          Status = "failed"
)

// Closed 终态后运行记录不可再修改
func (s Status) Closed() bool {
	return s == StatusCompleted || s == StatusPartiallyFailed || s == StatusFailed
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AgentResponse Stage 1 单个节点的产出；失败节点保留占位并设置 Error
type AgentResponse struct {
	NodeID     string  `json:"node_id"`
	ModelID    string  `json:"model_id"`
	Text       string  `json:"text,omitempty"`
	Usage      Usage   `json:"usage"`
	Cost       float64 `json:"cost"`
	DurationMS int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
	Seq        int64   `json:"seq,omitempty"` // 完成顺序，从 1 开始；失败为 0
}

// OK 是否成功
func (r AgentResponse) OK() bool { return r.Error == "" }

// PeerRanking Stage 2 单个评审者的排名；解析失败时 ParsedOrder 为空，仅留作审计
type PeerRanking struct {
	RaterNodeID string   `json:"rater_node_id"`
	RawText     string   `json:"raw_text,omitempty"`
	ParsedOrder []string `json:"parsed_order"`
	// RankedNodeIDs 仅在对外视图中填充，代替标签
	RankedNodeIDs []string `json:"ranked_node_ids,omitempty"`
	Usage         Usage    `json:"usage"`
	Cost          float64  `json:"cost"`
	DurationMS    int64    `json:"duration_ms"`
	Error         string   `json:"error,omitempty"`
}

// Run 一次议会运行记录；执行器是唯一写入方
type Run struct {
	ID                 string             `json:"id"`
	ClientKey          string             `json:"client_key,omitempty"`
	Query              string             `json:"query"` // 已通过 guard 的查询
	QueryPreview       string             `json:"query_preview"`
	QueryHash          string             `json:"query_hash"`
	Graph              *ValidatedGraph    `json:"graph"`
	Status             Status             `json:"status"`
	Responses          []AgentResponse    `json:"responses,omitempty"`
	Labels             *AnonymizedSet     `json:"labels,omitempty"`
	PeerRankings       []PeerRanking      `json:"peer_rankings,omitempty"`
	Aggregate          []AggregateRanking `json:"aggregate,omitempty"`
	FinalAnswer        string             `json:"final_answer,omitempty"`
	SynthesisAvailable bool               `json:"synthesis_available"`
	FailureKind        string             `json:"failure_kind,omitempty"`
	FailureReason      string             `json:"failure_reason,omitempty"`
	TotalTokens        int                `json:"total_tokens"`
	TotalCost          float64            `json:"total_cost"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
}

// Public 对外读取的视图：去掉标签映射、聚合中的标签、评审原文与标签序列，
// 排名改为节点 id，与流式事件一致；完整记录只留在存储中
func (r *Run) Public() *Run {
	if r == nil {
		return nil
	}
	c := r.Clone()
	for i := range c.Aggregate {
		c.Aggregate[i].Label = ""
	}
	for i, pr := range c.PeerRankings {
		ids := make([]string, 0, len(pr.ParsedOrder))
		for _, label := range pr.ParsedOrder {
			if id, ok := r.Labels.Deanonymize(label); ok {
				ids = append(ids, id)
			}
		}
		pr.RankedNodeIDs = ids
		pr.ParsedOrder = nil
		pr.RawText = ""
		c.PeerRankings[i] = pr
	}
	c.Labels = nil
	return c
}

// ErrRunClosed 对已关闭运行的修改
type ErrRunClosed struct {
	ID     string
	Status Status
}

func (e *ErrRunClosed) Error() string {
	return fmt.Sprintf("run %s is closed (%s)", e.ID, e.Status)
}

// advance 推进状态；终态后拒绝
func (r *Run) advance(s Status, now time.Time) error {
	if r.Status.Closed() {
		return &ErrRunClosed{ID: r.ID, Status: r.Status}
	}
	r.Status = s
	r.UpdatedAt = now
	if s.Closed() {
		t := now
		r.CompletedAt = &t
	}
	return nil
}

// account 累计 token 与花费
func (r *Run) account(u Usage, cost float64) {
	r.TotalTokens += u.TotalTokens
	r.TotalCost += cost
}

// Clone 深拷贝，供存储与事件负载使用，避免共享切片
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Responses = append([]AgentResponse(nil), r.Responses...)
	c.PeerRankings = make([]PeerRanking, len(r.PeerRankings))
	for i, p := range r.PeerRankings {
		p.ParsedOrder = append([]string(nil), p.ParsedOrder...)
		c.PeerRankings[i] = p
	}
	if r.PeerRankings == nil {
		c.PeerRankings = nil
	}
	c.Aggregate = append([]AggregateRanking(nil), r.Aggregate...)
	if r.Labels != nil {
		c.Labels = &AnonymizedSet{Entries: append([]LabelEntry(nil), r.Labels.Entries...)}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
