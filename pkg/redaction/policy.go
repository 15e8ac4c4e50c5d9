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

package redaction

// RedactionPolicy 脱敏策略：按文档类型配置字段掩码
type RedactionPolicy struct {
	DocumentRules map[string][]FieldMask // document kind -> field masks
	GlobalRules   []FieldMask            // 全局规则（应用于所有文档）
}

// FieldMask 字段掩码配置
type FieldMask struct {
	FieldPath string        // 点分路径，"*" 匹配数组每个元素，如 "responses.*.text"
	Mode      RedactionMode // 脱敏模式
	Salt      string        // hash/preview 模式的 salt（可选）
}

// RedactionMode 脱敏模式
type RedactionMode string

const (
	RedactionModeRedact  RedactionMode = "redact"  // 替换为 "***REDACTED***"
	RedactionModeHash    RedactionMode = "hash"    // 替换为 SHA256 hash
	RedactionModePreview RedactionMode = "preview" // 截断预览 + hash
	RedactionModeRemove  RedactionMode = "remove"  // 完全移除字段
)

// DocumentCouncilRun 议会运行记录的文档类型
const DocumentCouncilRun = "council_run"

// PolicyConfig 脱敏策略配置（YAML）
type PolicyConfig struct {
	Enable   bool                   `mapstructure:"enable"`
	Salt     string                 `mapstructure:"salt"`
	Policies []DocumentPolicyConfig `mapstructure:"policies"`
}

// DocumentPolicyConfig 单个文档类型的脱敏策略
type DocumentPolicyConfig struct {
	Document string            `mapstructure:"document"`
	Fields   []FieldMaskConfig `mapstructure:"fields"`
}

// FieldMaskConfig 字段掩码配置（YAML）
type FieldMaskConfig struct {
	Path string        `mapstructure:"path"`
	Mode RedactionMode `mapstructure:"mode"`
}

// LoadPolicyFromConfig 从配置加载脱敏策略；未启用时返回默认的运行记录策略
func LoadPolicyFromConfig(config PolicyConfig) *RedactionPolicy {
	if !config.Enable || len(config.Policies) == 0 {
		return DefaultRunPolicy(config.Salt)
	}

	policy := &RedactionPolicy{
		DocumentRules: make(map[string][]FieldMask),
	}
	for _, dp := range config.Policies {
		masks := make([]FieldMask, 0, len(dp.Fields))
		for _, f := range dp.Fields {
			masks = append(masks, FieldMask{FieldPath: f.Path, Mode: f.Mode, Salt: config.Salt})
		}
		policy.DocumentRules[dp.Document] = masks
	}
	return policy
}

// DefaultRunPolicy 运行记录默认策略：用户查询与模型原文只保留预览和 hash
func DefaultRunPolicy(salt string) *RedactionPolicy {
	return &RedactionPolicy{
		DocumentRules: map[string][]FieldMask{
			DocumentCouncilRun: {
				{FieldPath: "query", Mode: RedactionModePreview, Salt: salt},
				{FieldPath: "responses.*.text", Mode: RedactionModePreview, Salt: salt},
				{FieldPath: "peer_rankings.*.raw_text", Mode: RedactionModePreview, Salt: salt},
				{FieldPath: "final_answer", Mode: RedactionModePreview, Salt: salt},
				{FieldPath: "client_key", Mode: RedactionModeRemove},
				{FieldPath: "labels", Mode: RedactionModeRemove},
				{FieldPath: "aggregate.*.label", Mode: RedactionModeRemove},
				{FieldPath: "peer_rankings.*.parsed_order", Mode: RedactionModeRemove},
			},
		},
	}
}
