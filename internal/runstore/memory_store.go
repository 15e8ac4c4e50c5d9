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

package runstore

import (
	"context"
	"sort"
	"sync"

	"llm-council/internal/council"
)

// memoryStore 内存实现；保存与读取都做深拷贝
type memoryStore struct {
	mu   sync.RWMutex
	runs map[string]*council.Run
}

// NewMemoryStore 创建内存版运行存储
func NewMemoryStore() Store {
	return &memoryStore{runs: make(map[string]*council.Run)}
}

func (s *memoryStore) SaveRun(ctx context.Context, run *council.Run) error {
	if run == nil || run.ID == "" {
		return errInvalidRun
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.runs[run.ID]; ok && cur.Status.Closed() {
		return &council.ErrRunClosed{ID: run.ID, Status: cur.Status}
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *memoryStore) LoadRun(ctx context.Context, id string) (*council.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *memoryStore) ListRuns(ctx context.Context, opts ListOptions) ([]Summary, error) {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.runs))
	for _, r := range s.runs {
		if opts.ClientKey != "" && r.ClientKey != opts.ClientKey {
			continue
		}
		out = append(out, summarize(r))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if n := opts.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *memoryStore) Close() error { return nil }
