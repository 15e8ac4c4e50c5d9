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
	"testing"

	"github.com/stretchr/testify/assert"
)

var abc = []string{"Response A", "Response B", "Response C"}

func TestParseRanking(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "final ranking section",
			raw:  "Response A is thorough but Response B is sharper.\n\nFINAL RANKING:\n1. Response C\n2. Response A\n3. Response B",
			want: []string{"Response C", "Response A", "Response B"},
		},
		{
			name: "no header uses whole text",
			raw:  "I think Response B is best, then Response A, and finally Response C.",
			want: []string{"Response B", "Response A", "Response C"},
		},
		{
			name: "case insensitive",
			raw:  "final ranking:\n1. response b\n2. RESPONSE a",
			want: []string{"Response B", "Response A"},
		},
		{
			name: "last header wins",
			raw:  "FINAL RANKING: Response A, Response B\nCorrection.\nFinal Ranking:\n1. Response B\n2. Response A",
			want: []string{"Response B", "Response A"},
		},
		{
			name: "bare suffixes after first full label",
			raw:  "FINAL RANKING:\n1. Response C\n2. B\n3. A",
			want: []string{"Response C", "Response B", "Response A"},
		},
		{
			name: "bare suffixes after then",
			raw:  "Response B is best, then A, then C",
			want: []string{"Response B", "Response A", "Response C"},
		},
		{
			name: "article A in prose is not a label",
			raw:  "Response B is best. A close second is Response C.",
			want: []string{"Response B", "Response C"},
		},
		{
			name: "article A after the list is not a label",
			raw:  "FINAL RANKING:\n1. Response C\n2. Response B\nA clear winner overall.",
			want: []string{"Response C", "Response B"},
		},
		{
			name: "bare suffix after comma followed by prose",
			raw:  "Response C wins, A close call with Response B.",
			want: []string{"Response C", "Response B"},
		},
		{
			name: "repeats keep first occurrence",
			raw:  "FINAL RANKING:\n1. Response B\n2. Response A\nResponse B again",
			want: []string{"Response B", "Response A"},
		},
		{
			name: "unknown labels ignored",
			raw:  "FINAL RANKING:\n1. Response Q\n2. Response A\n3. Response C",
			want: []string{"Response A", "Response C"},
		},
		{
			name: "no opinion",
			raw:  "I have no strong opinion.",
			want: []string{},
		},
		{
			name: "single label is not a ranking",
			raw:  "Response A is the only good one.",
			want: []string{},
		},
		{
			name: "bare letters without a full label",
			raw:  "A, then B, then C.",
			want: []string{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseRanking(tc.raw, abc))
		})
	}
}

func TestParseRanking_ResultSubsetOfKnown(t *testing.T) {
	got := ParseRanking("FINAL RANKING:\n1. Response B\n2. Response D\n3. Response A", []string{"Response A", "Response B"})
	assert.Equal(t, []string{"Response B", "Response A"}, got)
}

func TestParseRanking_DoubleLetterLabels(t *testing.T) {
	known := []string{"Response A", "Response AA"}
	got := ParseRanking("FINAL RANKING:\n1. Response AA\n2. Response A", known)
	assert.Equal(t, []string{"Response AA", "Response A"}, got)
}

func TestParseRanking_TooFewKnown(t *testing.T) {
	assert.Equal(t, []string{}, ParseRanking("Response A", []string{"Response A"}))
	assert.Equal(t, []string{}, ParseRanking("", abc))
}
