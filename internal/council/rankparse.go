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
	"regexp"
	"sort"
	"strings"
)

var (
	finalRankingHeader = regexp.MustCompile(`(?i)final\s+ranking\s*:`)
	listMarkerPrefix   = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*$`)
	separatorSuffix    = regexp.MustCompile(`(?i)(?:[,;>]|\bthen|\band|\bor)\s*$`)
)

type mention struct {
	pos   int
	label string
}

// ParseRanking 从自由文本中提取已知标签的首次出现顺序。
// 存在 "FINAL RANKING:" 时只看最后一个标题之后的内容；完整标签大小写不敏感；
// 出现过完整标签后，处于列表位置的裸大写后缀（如 "2. B"、", then A"）也计入；
// 句中的冠词 "A" 之类不算。少于两个不同标签返回空，不做猜测。
func ParseRanking(raw string, known []string) []string {
	empty := []string{}
	if len(known) < 2 || strings.TrimSpace(raw) == "" {
		return empty
	}
	text := raw
	if locs := finalRankingHeader.FindAllStringIndex(raw, -1); len(locs) > 0 {
		text = raw[locs[len(locs)-1][1]:]
	}

	var full, bare []mention
	for _, label := range known {
		fields := strings.Fields(label)
		if len(fields) == 0 {
			continue
		}
		quoted := make([]string, len(fields))
		for i, f := range fields {
			quoted[i] = regexp.QuoteMeta(f)
		}
		re, err := regexp.Compile(`(?i)\b` + strings.Join(quoted, `\s+`) + `\b`)
		if err != nil {
			continue
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			full = append(full, mention{pos: loc[0], label: label})
		}

		suffix := fields[len(fields)-1]
		if len(fields) < 2 || !isUpperToken(suffix) {
			continue
		}
		bre, err := regexp.Compile(`\b` + regexp.QuoteMeta(suffix) + `\b`)
		if err != nil {
			continue
		}
		for _, loc := range bre.FindAllStringIndex(text, -1) {
			if inListPosition(text, loc[0], loc[1]) {
				bare = append(bare, mention{pos: loc[0], label: label})
			}
		}
	}
	if len(full) == 0 {
		return empty
	}

	first := full[0].pos
	for _, m := range full[1:] {
		if m.pos < first {
			first = m.pos
		}
	}
	all := full
	for _, m := range bare {
		if m.pos > first {
			all = append(all, m)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].pos < all[j].pos })

	seen := make(map[string]bool, len(known))
	order := make([]string, 0, len(known))
	for _, m := range all {
		if seen[m.label] {
			continue
		}
		seen[m.label] = true
		order = append(order, m.label)
	}
	if len(order) < 2 {
		return empty
	}
	return order
}

// inListPosition 裸标签须紧跟列表序号，或跟在分隔符/连接词之后且后面不接小写单词
func inListPosition(text string, start, end int) bool {
	lineStart := strings.LastIndexByte(text[:start], '\n') + 1
	if listMarkerPrefix.MatchString(text[lineStart:start]) {
		return true
	}
	if !separatorSuffix.MatchString(text[lineStart:start]) {
		return false
	}
	rest := strings.TrimLeft(text[end:], " \t")
	return rest == "" || rest[0] < 'a' || rest[0] > 'z'
}

func isUpperToken(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return s != ""
}
