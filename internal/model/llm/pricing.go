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

package llm

// Price 每 1K token 的美元价格
type Price struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Pricing 模型键（provider/model）到价格的映射
type Pricing map[string]Price

// Cost 按用量估算花费；未知模型返回 0
func (p Pricing) Cost(modelKey string, u Usage) float64 {
	price, ok := p[modelKey]
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1000*price.InputPer1K + float64(u.CompletionTokens)/1000*price.OutputPer1K
}
