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
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"llm-council/internal/council"
)

const defaultRedisPrefix = "council:runs"

// redisStore Redis 实现：记录 JSON 存字符串键，按创建时间维护全局与按客户端的有序集合索引
type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore ttl<=0 表示记录不过期
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) Store {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *redisStore) runKey(id string) string { return s.prefix + ":run:" + id }

func (s *redisStore) indexKey(clientKey string) string {
	if clientKey == "" {
		return s.prefix + ":index"
	}
	return s.prefix + ":client:" + clientKey
}

func (s *redisStore) SaveRun(ctx context.Context, run *council.Run) error {
	if run == nil || run.ID == "" {
		return errInvalidRun
	}
	record, err := json.Marshal(run)
	if err != nil {
		return err
	}
	key := s.runKey(run.ID)
	score := float64(run.CreatedAt.UnixNano())

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var prev struct {
				Status council.Status `json:"status"`
			}
			if json.Unmarshal(cur, &prev) == nil && prev.Status.Closed() {
				return &council.ErrRunClosed{ID: run.ID, Status: prev.Status}
			}
		case !stderrors.Is(err, redis.Nil):
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, record, s.ttl)
			p.ZAdd(ctx, s.indexKey(""), redis.Z{Score: score, Member: run.ID})
			if run.ClientKey != "" {
				p.ZAdd(ctx, s.indexKey(run.ClientKey), redis.Z{Score: score, Member: run.ID})
			}
			return nil
		})
		return err
	}
	for i := 0; i < 3; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !stderrors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *redisStore) LoadRun(ctx context.Context, id string) (*council.Run, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var run council.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns 索引里过期的记录在读取时顺带清理
func (s *redisStore) ListRuns(ctx context.Context, opts ListOptions) ([]Summary, error) {
	index := s.indexKey(opts.ClientKey)
	ids, err := s.client.ZRevRange(ctx, index, 0, int64(opts.limit())-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var stale []interface{}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var run council.Run
		if err := json.Unmarshal([]byte(str), &run); err != nil {
			continue
		}
		out = append(out, summarize(&run))
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, index, stale...).Err()
	}
	return out, nil
}

func (s *redisStore) Close() error { return s.client.Close() }
