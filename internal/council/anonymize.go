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

// LabelPrefix 匿名标签前缀
const LabelPrefix = "Response "

// LabelEntry 标签与节点的对应
type LabelEntry struct {
	Label   string `json:"label"`
	NodeID  string `json:"node_id"`
	ModelID string `json:"model_id"`
}

// AnonymizedSet 标签与节点的双向映射；只随运行记录保存
type AnonymizedSet struct {
	Entries []LabelEntry `json:"entries"`
}

// Anonymize 按完成顺序为成功的响应分配标签，主席的响应不参与
func Anonymize(responses []AgentResponse, chairmanID string) *AnonymizedSet {
	ok := make([]AgentResponse, 0, len(responses))
	for _, r := range responses {
		if r.OK() && r.NodeID != chairmanID {
			ok = append(ok, r)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Seq < ok[j].Seq })

	set := &AnonymizedSet{Entries: make([]LabelEntry, len(ok))}
	for i, r := range ok {
		set.Entries[i] = LabelEntry{Label: LabelFor(i), NodeID: r.NodeID, ModelID: r.ModelID}
	}
	return set
}

// LabelFor 第 i 个标签（从 0 开始）：A..Z，之后 AA, AB, ...
func LabelFor(i int) string {
	return LabelPrefix + letters(i)
}

func letters(i int) string {
	var buf []byte
	for n := i + 1; n > 0; n = (n - 1) / 26 {
		buf = append([]byte{byte('A' + (n-1)%26)}, buf...)
	}
	return string(buf)
}

// Len 标签数
func (s *AnonymizedSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Deanonymize 标签还原为节点 id
func (s *AnonymizedSet) Deanonymize(label string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, e := range s.Entries {
		if e.Label == label {
			return e.NodeID, true
		}
	}
	return "", false
}

// LabelOf 节点 id 对应的标签
func (s *AnonymizedSet) LabelOf(nodeID string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, e := range s.Entries {
		if e.NodeID == nodeID {
			return e.Label, true
		}
	}
	return "", false
}

// Labels 按分配顺序返回全部标签
func (s *AnonymizedSet) Labels() []string {
	out := make([]string, 0, s.Len())
	if s == nil {
		return out
	}
	for _, e := range s.Entries {
		out = append(out, e.Label)
	}
	return out
}

// Without 去掉某个节点后的视图；评审者看不到自己的响应
func (s *AnonymizedSet) Without(nodeID string) []LabelEntry {
	out := make([]LabelEntry, 0, s.Len())
	if s == nil {
		return out
	}
	for _, e := range s.Entries {
		if e.NodeID != nodeID {
			out = append(out, e)
		}
	}
	return out
}
