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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setOf(ids ...string) *AnonymizedSet {
	var responses []AgentResponse
	for i, id := range ids {
		responses = append(responses, AgentResponse{NodeID: id, ModelID: "m-" + id, Text: "t", Seq: int64(i + 1)})
	}
	return Anonymize(responses, "")
}

func ranking(rater string, letters ...string) PeerRanking {
	order := make([]string, len(letters))
	for i, l := range letters {
		order[i] = LabelPrefix + l
	}
	return PeerRanking{RaterNodeID: rater, ParsedOrder: order}
}

func byNode(agg []AggregateRanking) map[string]AggregateRanking {
	out := make(map[string]AggregateRanking, len(agg))
	for _, a := range agg {
		out[a.NodeID] = a
	}
	return out
}

func TestAggregate_AverageRank(t *testing.T) {
	set := setOf("a", "b", "c")
	agg := Aggregate([]PeerRanking{
		ranking("r1", "A", "B", "C"),
		ranking("r2", "B", "A", "C"),
		ranking("r3", "C", "A", "B"),
	}, set)

	require.Len(t, agg, 3)
	m := byNode(agg)
	assert.InDelta(t, 5.0/3.0, m["a"].AverageRank, 1e-9)
	assert.InDelta(t, 2.0, m["b"].AverageRank, 1e-9)
	assert.InDelta(t, 7.0/3.0, m["c"].AverageRank, 1e-9)
	assert.Equal(t, 3, m["a"].VoteCount)
	assert.Equal(t, []string{"a", "b", "c"}, []string{agg[0].NodeID, agg[1].NodeID, agg[2].NodeID})
}

func TestAggregate_SecondEverywhere(t *testing.T) {
	set := setOf("a", "b", "c")
	agg := Aggregate([]PeerRanking{
		ranking("r1", "B", "A", "C"),
		ranking("r2", "C", "A", "B"),
		ranking("r3", "B", "A", "C"),
	}, set)
	assert.InDelta(t, 2.0, byNode(agg)["a"].AverageRank, 1e-9)
}

func TestAggregate_ZeroVotesLast(t *testing.T) {
	set := setOf("a", "b", "c", "d")
	rankings := []PeerRanking{
		ranking("r1", "A", "B", "C"),
		ranking("r2", "B", "C"),
		ranking("r3", "C", "A"),
		{RaterNodeID: "r4", ParsedOrder: []string{}},
	}
	want := Aggregate(rankings, set)
	last := want[len(want)-1]
	assert.Equal(t, "d", last.NodeID)
	assert.True(t, last.InsufficientData)
	assert.Zero(t, last.AverageRank)
	assert.Zero(t, last.VoteCount)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]PeerRanking(nil), rankings...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, Aggregate(shuffled, set))
	}
}

func TestAggregate_SelfLabelsSkippedAndCompacted(t *testing.T) {
	set := setOf("a", "b", "c")
	agg := byNode(Aggregate([]PeerRanking{ranking("a", "A", "B", "C")}, set))
	assert.Zero(t, agg["a"].VoteCount)
	assert.InDelta(t, 1.0, agg["b"].AverageRank, 1e-9)
	assert.InDelta(t, 2.0, agg["c"].AverageRank, 1e-9)
}

func TestAggregate_UnknownAndDuplicateLabels(t *testing.T) {
	set := setOf("a", "b")
	rk := PeerRanking{RaterNodeID: "r", ParsedOrder: []string{"Response Q", "Response B", "Response B", "Response A"}}
	agg := byNode(Aggregate([]PeerRanking{rk}, set))
	assert.InDelta(t, 1.0, agg["b"].AverageRank, 1e-9)
	assert.Equal(t, 1, agg["b"].VoteCount)
	assert.InDelta(t, 2.0, agg["a"].AverageRank, 1e-9)
}

func TestAggregate_TieBreaks(t *testing.T) {
	set := setOf("x", "y", "z")
	agg := Aggregate([]PeerRanking{
		ranking("r1", "B", "A"),
		ranking("r2", "A", "B"),
		ranking("r3", "B", "C"),
		ranking("r4", "C", "B"),
	}, set)
	require.Len(t, agg, 3)
	for _, a := range agg {
		assert.InDelta(t, 1.5, a.AverageRank, 1e-9)
	}
	assert.Equal(t, "y", agg[0].NodeID)
	assert.Equal(t, 4, agg[0].VoteCount)
	assert.Equal(t, "x", agg[1].NodeID)
	assert.Equal(t, "z", agg[2].NodeID)
}

func TestAggregate_Monotonic(t *testing.T) {
	set := setOf("a", "b", "c", "d")
	base := []PeerRanking{
		ranking("r1", "A", "B", "C", "D"),
		ranking("r2", "B", "C", "D", "A"),
		ranking("r3", "D", "C", "A", "B"),
	}
	before := byNode(Aggregate(base, set))["c"].AverageRank

	improved := append([]PeerRanking(nil), base...)
	improved[0] = ranking("r1", "A", "C", "B", "D")
	after := byNode(Aggregate(improved, set))["c"].AverageRank
	assert.Less(t, after, before)
}

func TestAggregate_EmptyInputs(t *testing.T) {
	assert.Empty(t, Aggregate(nil, nil))
	agg := Aggregate(nil, setOf("a"))
	require.Len(t, agg, 1)
	assert.True(t, agg[0].InsufficientData)
}
