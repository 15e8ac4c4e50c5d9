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

package admission

import (
	"llm-council/pkg/redaction"
)

// ClientKey 由原始客户端标识（IP 或 JWT subject）派生限流键；原始值不进入内存状态与日志
func ClientKey(raw, salt string) string {
	return "c_" + redaction.Fingerprint(raw, salt)[:32]
}

// EstimateCost 运行开始前的花费上界：节点数 × 每节点估算 × 三个阶段
func EstimateCost(nodeCount int, perNode float64) float64 {
	if nodeCount <= 0 || perNode <= 0 {
		return 0
	}
	return float64(nodeCount) * perNode * 3
}
