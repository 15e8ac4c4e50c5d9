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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-council/pkg/errors"
)

func nodes(ids ...string) []Node {
	out := make([]Node, len(ids))
	for i, id := range ids {
		out[i] = Node{ID: id, ModelID: "openai/gpt-4o-mini", SpeakingOrder: i}
	}
	return out
}

func TestValidate_Accepts(t *testing.T) {
	g := Graph{
		Nodes: nodes("a", "b", "c", "d"),
		Edges: []Edge{{Source: "a", Target: "c"}, {Source: "b", Target: "c"}, {Source: "c", Target: "d"}},
	}
	vg, err := Validate(g, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "d", vg.ChairmanID)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}, {"d"}}, vg.Tiers)
	assert.ElementsMatch(t, []string{"a", "b"}, vg.Upstream["c"])
	assert.True(t, vg.Chairman().IsChairman)
	n, ok := vg.Node("b")
	require.True(t, ok)
	assert.False(t, n.IsChairman)
}

func TestValidate_FlaggedChairman(t *testing.T) {
	ns := nodes("a", "b", "c")
	ns[0].IsChairman = true
	vg, err := Validate(Graph{Nodes: ns}, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "a", vg.ChairmanID)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, vg.Tiers)
}

func TestValidate_ChairmanTieGoesToLaterNode(t *testing.T) {
	ns := []Node{{ID: "x", ModelID: "m"}, {ID: "y", ModelID: "m"}}
	vg, err := Validate(Graph{Nodes: ns}, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "y", vg.ChairmanID)
}

func TestValidate_RejectsCycle(t *testing.T) {
	g := Graph{
		Nodes: nodes("a", "b", "c"),
		Edges: []Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}, {Source: "c", Target: "a"}},
	}
	_, err := Validate(g, Limits{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConfiguration))
	assert.Equal(t, "cycle detected: a -> b -> c -> a", errors.ReasonOf(err))
}

func TestValidate_Rejects(t *testing.T) {
	two := nodes("a", "b")
	flagged := nodes("a", "b")
	flagged[0].IsChairman = true
	flagged[1].IsChairman = true
	long := nodes("a")
	long[0].Instruction = strings.Repeat("x", 11)

	cases := []struct {
		name   string
		graph  Graph
		limits Limits
		reason string
	}{
		{"empty", Graph{}, Limits{}, "council has no nodes"},
		{"bad id", Graph{Nodes: []Node{{ID: "a b", ModelID: "m"}}}, Limits{}, "must match"},
		{"duplicate id", Graph{Nodes: []Node{{ID: "a", ModelID: "m"}, {ID: "a", ModelID: "m"}}}, Limits{}, "duplicate node id \"a\""},
		{"bad model", Graph{Nodes: []Node{{ID: "a", ModelID: "has space"}}}, Limits{}, "invalid model id"},
		{"too many nodes", Graph{Nodes: nodes("a", "b", "c")}, Limits{MaxNodes: 2}, "at most 2 allowed"},
		{"instruction too long", Graph{Nodes: long}, Limits{MaxInstructionLen: 10}, "exceeds 10 characters"},
		{"two chairmen", Graph{Nodes: flagged}, Limits{}, "more than one chairman flagged: a, b"},
		{"unknown source", Graph{Nodes: two, Edges: []Edge{{Source: "z", Target: "a"}}}, Limits{}, "unknown source node \"z\""},
		{"unknown target", Graph{Nodes: two, Edges: []Edge{{Source: "a", Target: "z"}}}, Limits{}, "unknown target node \"z\""},
		{"self loop", Graph{Nodes: two, Edges: []Edge{{Source: "a", Target: "a"}}}, Limits{}, "self-loop on node \"a\""},
		{"duplicate edge", Graph{Nodes: two, Edges: []Edge{{Source: "a", Target: "b"}, {Source: "a", Target: "b"}}}, Limits{}, "duplicate edge a -> b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(tc.graph, tc.limits)
			require.Error(t, err)
			assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
			assert.Contains(t, errors.ReasonOf(err), tc.reason)
		})
	}
}

func TestValidate_EdgeLimit(t *testing.T) {
	g := Graph{Nodes: nodes("a", "b", "c"), Edges: []Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}}}
	_, err := Validate(g, Limits{MaxEdges: 1})
	require.Error(t, err)
	assert.Contains(t, errors.ReasonOf(err), "at most 1 allowed")
}

func TestValidate_TiersUseLongestPath(t *testing.T) {
	g := Graph{
		Nodes: nodes("a", "b", "c"),
		Edges: []Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}, {Source: "a", Target: "c"}},
	}
	vg, err := Validate(g, Limits{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, vg.Tiers)
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	ns := nodes("a", "b")
	_, err := Validate(Graph{Nodes: ns}, Limits{})
	require.NoError(t, err)
	assert.False(t, ns[1].IsChairman)
}
