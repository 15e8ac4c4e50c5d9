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

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Engine 脱敏引擎：对 JSON 文档按策略掩码字段
type Engine struct {
	policy *RedactionPolicy
}

// NewEngine 创建脱敏引擎
func NewEngine(policy *RedactionPolicy) *Engine {
	return &Engine{policy: policy}
}

// RedactData 对 JSON 数据应用脱敏策略
func (e *Engine) RedactData(document string, data []byte) ([]byte, error) {
	if e.policy == nil || len(data) == 0 {
		return data, nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return data, err
	}

	rules := append([]FieldMask{}, e.policy.DocumentRules[document]...)
	rules = append(rules, e.policy.GlobalRules...)
	for _, rule := range rules {
		applyMask(obj, strings.Split(rule.FieldPath, "."), rule)
	}

	return json.Marshal(obj)
}

// applyMask 沿路径下降；"*" 展开数组
func applyMask(node interface{}, parts []string, mask FieldMask) {
	if len(parts) == 0 {
		return
	}
	switch cur := node.(type) {
	case map[string]interface{}:
		key := parts[0]
		if len(parts) == 1 {
			maskField(cur, key, mask)
			return
		}
		if next, ok := cur[key]; ok {
			applyMask(next, parts[1:], mask)
		}
	case []interface{}:
		if parts[0] != "*" {
			return
		}
		for _, item := range cur {
			applyMask(item, parts[1:], mask)
		}
	}
}

func maskField(obj map[string]interface{}, key string, mask FieldMask) {
	value, exists := obj[key]
	if !exists || value == nil {
		return
	}
	switch mask.Mode {
	case RedactionModeRedact:
		obj[key] = "***REDACTED***"
	case RedactionModeHash:
		obj[key] = "hash:" + Fingerprint(fmt.Sprintf("%v", value), mask.Salt)
	case RedactionModePreview:
		obj[key] = NewText(fmt.Sprintf("%v", value), mask.Salt).String()
	case RedactionModeRemove:
		delete(obj, key)
	}
}
