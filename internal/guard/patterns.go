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

package guard

import (
	"fmt"
	"regexp"
)

// Pattern 一条注入特征；Name 只写入审计日志
type Pattern struct {
	Name string
	re   *regexp.Regexp
}

// Match 报告 s 是否命中
func (p Pattern) Match(s string) bool { return p.re.MatchString(s) }

// 维护中的指令覆盖特征。扫描在折叠空白之前进行，多行特征依赖 (?m)。
var defaultPatterns = []struct{ name, expr string }{
	{"ignore_previous", `\b(ignore|disregard|forget|skip)\s+(all\s+|any\s+)?(of\s+)?(the\s+|your\s+|my\s+)?(previous|prior|above|earlier|preceding|foregoing|system)\s+(instructions?|prompts?|messages?|rules|directions|guidelines|context)`},
	{"forget_everything", `\bforget\s+(everything|all\s+that)\s+(you|above|before)`},
	{"you_are_now", `\byou\s+are\s+now\b`},
	{"new_instructions", `\bnew\s+(system\s+)?instructions?\s*:`},
	{"override_rules", `\b(override|bypass|disable)\s+(your|the|all|any)\s+(safety|previous|system|content)\s*(rules|filters?|instructions|guidelines|policy|policies)?`},
	{"reveal_prompt", `\b(reveal|print|show|repeat|output|leak)\s+(me\s+)?(your|the)\s+(system\s+prompt|hidden\s+(prompt|instructions)|initial\s+instructions)`},
	{"role_marker_bracket", `\[\s*/?\s*(system|assistant|inst|sys)\s*\]`},
	{"role_marker_chatml", `<\|\s*(im_start|im_end|system|endoftext|assistant)\s*\|>`},
	{"role_marker_sys_tag", `<<\s*/?\s*sys\s*>>`},
	{"role_marker_heading", `(?m)^\s*#{2,}\s*(system|instructions?)\b`},
	{"role_marker_prefix", `(?m)^\s*(system|assistant)\s*:`},
	{"envelope_spoof", `</?\s*(user_query|untrusted_input|peer_response|council_context)\b[^>]*>`},
	{"developer_mode", `\b(developer|dan|jailbreak)\s+mode\b`},
}

func compile(name, expr string) (Pattern, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile guard pattern %s: %w", name, err)
	}
	return Pattern{Name: name, re: re}, nil
}

// DefaultPatterns 返回内置特征
func DefaultPatterns() []Pattern {
	out := make([]Pattern, 0, len(defaultPatterns))
	for _, p := range defaultPatterns {
		compiled, err := compile(p.name, p.expr)
		if err != nil {
			panic(err)
		}
		out = append(out, compiled)
	}
	return out
}
