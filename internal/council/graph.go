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
	"regexp"
	"strings"
	"unicode/utf8"

	"llm-council/pkg/errors"
)

var (
	nodeIDPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
	modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:/-]{1,128}$`)
)

// 默认拓扑上限
const (
	DefaultMaxNodes          = 20
	DefaultMaxEdges          = 100
	DefaultMaxInstructionLen = 2000
)

// Node 议会中的一个 Agent 槽位
type Node struct {
	ID            string `json:"id"`
	ModelID       string `json:"model_id"`
	Role          string `json:"role,omitempty"`
	Instruction   string `json:"instruction,omitempty"`
	IsChairman    bool   `json:"is_chairman,omitempty"`
	SpeakingOrder int    `json:"speaking_order,omitempty"`
}

// Edge 上游上下文流向：Source 的输出作为 Target 的上下文
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph 客户端提交的议会拓扑
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges,omitempty"`
}

// Limits 拓扑校验上限；零值字段取默认
type Limits struct {
	MaxNodes          int
	MaxEdges          int
	MaxInstructionLen int
}

func (l Limits) withDefaults() Limits {
	if l.MaxNodes <= 0 {
		l.MaxNodes = DefaultMaxNodes
	}
	if l.MaxEdges <= 0 {
		l.MaxEdges = DefaultMaxEdges
	}
	if l.MaxInstructionLen <= 0 {
		l.MaxInstructionLen = DefaultMaxInstructionLen
	}
	return l
}

// ValidatedGraph 校验通过的拓扑，运行期间只读
type ValidatedGraph struct {
	Nodes      []Node              `json:"nodes"`
	Edges      []Edge              `json:"edges,omitempty"`
	ChairmanID string              `json:"chairman_id"`
	Upstream   map[string][]string `json:"upstream,omitempty"` // target -> sources
	Tiers      [][]string          `json:"tiers"`              // 按依赖深度分层，层内并行

	index map[string]int
}

// Node 按 id 查找节点
func (v *ValidatedGraph) Node(id string) (Node, bool) {
	if v.index == nil {
		v.reindex()
	}
	i, ok := v.index[id]
	if !ok {
		return Node{}, false
	}
	return v.Nodes[i], true
}

// Chairman 返回主席节点
func (v *ValidatedGraph) Chairman() Node {
	n, _ := v.Node(v.ChairmanID)
	return n
}

func (v *ValidatedGraph) reindex() {
	v.index = make(map[string]int, len(v.Nodes))
	for i, n := range v.Nodes {
		v.index[n.ID] = i
	}
}

func configErr(format string, args ...interface{}) error {
	return errors.Newf(errors.KindConfiguration, format, args...)
}

// Validate 按顺序校验：标识符、节点数、主席、边、无环；失败给出具体原因，从不静默修正
func Validate(g Graph, limits Limits) (*ValidatedGraph, error) {
	limits = limits.withDefaults()

	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if !nodeIDPattern.MatchString(n.ID) {
			return nil, configErr("node id %q must match %s", n.ID, nodeIDPattern.String())
		}
		if _, dup := index[n.ID]; dup {
			return nil, configErr("duplicate node id %q", n.ID)
		}
		if !modelIDPattern.MatchString(n.ModelID) {
			return nil, configErr("node %q has an invalid model id", n.ID)
		}
		if utf8.RuneCountInString(n.Instruction) > limits.MaxInstructionLen {
			return nil, configErr("node %q instruction exceeds %d characters", n.ID, limits.MaxInstructionLen)
		}
		index[n.ID] = i
	}

	if len(g.Nodes) == 0 {
		return nil, configErr("council has no nodes")
	}
	if len(g.Nodes) > limits.MaxNodes {
		return nil, configErr("council has %d nodes, at most %d allowed", len(g.Nodes), limits.MaxNodes)
	}

	chairman, err := pickChairman(g.Nodes)
	if err != nil {
		return nil, err
	}

	if len(g.Edges) > limits.MaxEdges {
		return nil, configErr("council has %d edges, at most %d allowed", len(g.Edges), limits.MaxEdges)
	}
	adj := make(map[string][]string, len(g.Nodes))
	seen := make(map[Edge]bool, len(g.Edges))
	for _, e := range g.Edges {
		if _, ok := index[e.Source]; !ok {
			return nil, configErr("edge references unknown source node %q", e.Source)
		}
		if _, ok := index[e.Target]; !ok {
			return nil, configErr("edge references unknown target node %q", e.Target)
		}
		if e.Source == e.Target {
			return nil, configErr("self-loop on node %q", e.Source)
		}
		if seen[e] {
			return nil, configErr("duplicate edge %s", e)
		}
		seen[e] = true
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	if cycle := findCycle(g.Nodes, adj); cycle != nil {
		return nil, configErr("cycle detected: %s", strings.Join(cycle, " -> "))
	}

	nodes := make([]Node, len(g.Nodes))
	copy(nodes, g.Nodes)
	for i := range nodes {
		nodes[i].IsChairman = nodes[i].ID == chairman
	}
	edges := make([]Edge, len(g.Edges))
	copy(edges, g.Edges)

	upstream := make(map[string][]string)
	for _, e := range edges {
		upstream[e.Target] = append(upstream[e.Target], e.Source)
	}

	vg := &ValidatedGraph{
		Nodes:      nodes,
		Edges:      edges,
		ChairmanID: chairman,
		Upstream:   upstream,
		Tiers:      buildTiers(nodes, adj),
	}
	vg.reindex()
	return vg, nil
}

// pickChairman 至多一个显式主席；没有时取 SpeakingOrder 最大者，相同取列表中靠后者
func pickChairman(nodes []Node) (string, error) {
	var flagged []string
	for _, n := range nodes {
		if n.IsChairman {
			flagged = append(flagged, n.ID)
		}
	}
	switch len(flagged) {
	case 0:
	case 1:
		return flagged[0], nil
	default:
		return "", configErr("more than one chairman flagged: %s", strings.Join(flagged, ", "))
	}
	best := 0
	for i, n := range nodes {
		if n.SpeakingOrder >= nodes[best].SpeakingOrder {
			best = i
		}
	}
	return nodes[best].ID, nil
}

const (
	white = iota
	visiting
	visited
)

// findCycle 深度优先，回边指向仍在递归栈上的节点即为环；返回首尾相同的路径
func findCycle(nodes []Node, adj map[string][]string) []string {
	color := make(map[string]int, len(nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = visiting
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case visiting:
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						break
					}
				}
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = visited
		return false
	}

	for _, n := range nodes {
		if color[n.ID] == white && visit(n.ID) {
			return cycle
		}
	}
	return nil
}

// buildTiers Kahn 拓扑排序按最长路径深度分层；层内保持节点列表顺序
func buildTiers(nodes []Node, adj map[string][]string) [][]string {
	inDegree := make(map[string]int, len(nodes))
	for _, tos := range adj {
		for _, to := range tos {
			inDegree[to]++
		}
	}
	depth := make(map[string]int, len(nodes))
	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	maxDepth := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if d := depth[id] + 1; d > depth[next] {
				depth[next] = d
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
		if depth[id] > maxDepth {
			maxDepth = depth[id]
		}
	}

	tiers := make([][]string, maxDepth+1)
	for _, n := range nodes {
		d := depth[n.ID]
		tiers[d] = append(tiers[d], n.ID)
	}
	return tiers
}

// String 便于日志输出
func (e Edge) String() string { return fmt.Sprintf("%s -> %s", e.Source, e.Target) }
