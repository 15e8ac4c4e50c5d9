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
	"context"

	"golang.org/x/sync/errgroup"
)

// fanOut 并发执行 n 个任务，limit 限制同时进行的数量；每个任务只写自己的槽位。
// 单个任务失败不取消其他任务，调用在全部返回后才结束（阶段屏障）。
func fanOut(ctx context.Context, limit, n int, task func(ctx context.Context, i int)) {
	if n == 0 {
		return
	}
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			task(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}
