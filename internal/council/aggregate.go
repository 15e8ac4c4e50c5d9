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
	"sort"
)

// AggregateRanking 共识排名中的一项；派生数据，由各评审者的排名计算
type AggregateRanking struct {
	NodeID           string  `json:"node_id"`
	ModelID          string  `json:"model_id"`
	Label            string  `json:"label,omitempty"`
	AverageRank      float64 `json:"average_rank"`
	VoteCount        int     `json:"vote_count"`
	InsufficientData bool    `json:"insufficient_data,omitempty"`
}

// Aggregate 按 1 起始的位置求平均名次。
// 评审者未提及的节点不计票；零票节点排在最后并标记 InsufficientData；
// 平均名次升序，其次票数降序，最后保持标签顺序。
func Aggregate(rankings []PeerRanking, set *AnonymizedSet) []AggregateRanking {
	sums := make(map[string]int, set.Len())
	votes := make(map[string]int, set.Len())
	for _, pr := range rankings {
		if len(pr.ParsedOrder) == 0 {
			continue
		}
		counted := make(map[string]bool, len(pr.ParsedOrder))
		pos := 0
		for _, label := range pr.ParsedOrder {
			nodeID, ok := set.Deanonymize(label)
			if !ok || counted[nodeID] || nodeID == pr.RaterNodeID {
				continue
			}
			counted[nodeID] = true
			pos++
			sums[nodeID] += pos
			votes[nodeID]++
		}
	}

	out := make([]AggregateRanking, 0, set.Len())
	if set == nil {
		return out
	}
	for _, e := range set.Entries {
		ar := AggregateRanking{NodeID: e.NodeID, ModelID: e.ModelID, Label: e.Label, VoteCount: votes[e.NodeID]}
		if ar.VoteCount == 0 {
			ar.InsufficientData = true
		} else {
			ar.AverageRank = float64(sums[e.NodeID]) / float64(ar.VoteCount)
		}
		out = append(out, ar)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.InsufficientData != b.InsufficientData {
			return !a.InsufficientData
		}
		if a.AverageRank != b.AverageRank {
			return a.AverageRank < b.AverageRank
		}
		return a.VoteCount > b.VoteCount
	})
	return out
}
