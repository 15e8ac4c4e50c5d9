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
	"context"
)

// EventType 流式事件类型
type EventType string

const (
	EventStage1 EventType = "stage1"
	EventStage2 EventType = "stage2"
	EventStage3 EventType = "stage3"
	EventError  EventType = "error"
	EventDone   EventType = "done"
)

// Event 推送给客户端的阶段事件；以 done 或 error 结束
type Event struct {
	Type    EventType   `json:"type"`
	RunID   string      `json:"run_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// Sink 事件出口；返回错误视为客户端已断开
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc 函数适配
type SinkFunc func(ctx context.Context, ev Event) error

// Emit 实现 Sink
func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Stage1Payload Stage 1 结束后的负载
type Stage1Payload struct {
	Responses []AgentResponse `json:"responses"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

// RankingView 流式输出的排名视图，不含原文与标签
type RankingView struct {
	RaterNodeID   string   `json:"rater_node_id"`
	RankedNodeIDs []string `json:"ranked_node_ids"`
	Parsed        bool     `json:"parsed"`
	Error         string   `json:"error,omitempty"`
}

// Stage2Payload Stage 2 结束后的负载
type Stage2Payload struct {
	Skipped    bool               `json:"skipped,omitempty"`
	SkipReason string             `json:"skip_reason,omitempty"`
	Rankings   []RankingView      `json:"rankings"`
	Aggregate  []AggregateRanking `json:"aggregate"`
}

// Stage3Payload Stage 3 结束后的负载
type Stage3Payload struct {
	ChairmanID         string             `json:"chairman_id"`
	SynthesisAvailable bool               `json:"synthesis_available"`
	FinalAnswer        string             `json:"final_answer,omitempty"`
	Reason             string             `json:"reason,omitempty"`
	Aggregate          []AggregateRanking `json:"aggregate"`
}

// DonePayload 结束事件负载
type DonePayload struct {
	Status      Status  `json:"status"`
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// publicAggregate 去掉标签，避免从公开输出还原标签映射
func publicAggregate(in []AggregateRanking) []AggregateRanking {
	out := make([]AggregateRanking, len(in))
	for i, a := range in {
		a.Label = ""
		out[i] = a
	}
	return out
}

func rankingViews(rankings []PeerRanking, set *AnonymizedSet) []RankingView {
	out := make([]RankingView, 0, len(rankings))
	for _, pr := range rankings {
		v := RankingView{RaterNodeID: pr.RaterNodeID, RankedNodeIDs: []string{}, Parsed: len(pr.ParsedOrder) > 0, Error: pr.Error}
		for _, label := range pr.ParsedOrder {
			if id, ok := set.Deanonymize(label); ok {
				v.RankedNodeIDs = append(v.RankedNodeIDs, id)
			}
		}
		out = append(out, v)
	}
	return out
}
