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
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"llm-council/pkg/metrics"
)

// admitScript 原子地裁剪窗口并检查三项限额；返回 ok | concurrency | requests | spend
// KEYS: req, spend, active
// ARGV: now_ms, req_window_ms, max_req, spend_window_ms, max_spend, estimated, max_conc, member
var admitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - tonumber(ARGV[2]))
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now - tonumber(ARGV[4]))
local active = tonumber(redis.call('GET', KEYS[3]) or '0')
if active >= tonumber(ARGV[7]) then return 'concurrency' end
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then return 'requests' end
local spent = 0
for _, m in ipairs(redis.call('ZRANGE', KEYS[2], 0, -1)) do
  spent = spent + tonumber(string.match(m, '|(.+)$'))
end
local est = tonumber(ARGV[6])
if spent + est > tonumber(ARGV[5]) then return 'spend' end
redis.call('ZADD', KEYS[1], now, ARGV[8])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
if est > 0 then
  redis.call('ZADD', KEYS[2], now, ARGV[8] .. '|' .. ARGV[6])
  redis.call('PEXPIRE', KEYS[2], ARGV[4])
end
redis.call('INCR', KEYS[3])
redis.call('PEXPIRE', KEYS[3], ARGV[4])
return 'ok'
`)

// chargeScript 追加一笔花费并返回窗口内总额
// KEYS: spend; ARGV: now_ms, spend_window_ms, member, amount
var chargeScript = redis.NewScript(`
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - tonumber(ARGV[2]))
redis.call('ZADD', KEYS[1], now, ARGV[3] .. '|' .. ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
local spent = 0
for _, m in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
  spent = spent + tonumber(string.match(m, '|(.+)$'))
end
return tostring(spent)
`)

// releaseScript 并发计数减一，不低于 0
var releaseScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n > 0 then return redis.call('DECR', KEYS[1]) end
return 0
`)

// RedisLimiter 基于 Redis 有序集合的滑动窗口限流器，供多实例部署共享计数
type RedisLimiter struct {
	client *redis.Client
	prefix string
	cfg    Config
	now    func() time.Time
}

// NewRedisLimiter 创建 RedisLimiter；prefix 为空时使用 "council:admission"
func NewRedisLimiter(client *redis.Client, prefix string, cfg Config) *RedisLimiter {
	if prefix == "" {
		prefix = "council:admission"
	}
	return &RedisLimiter{client: client, prefix: prefix, cfg: cfg.withDefaults(), now: time.Now}
}

func (r *RedisLimiter) keys(clientKey string) []string {
	return []string{
		r.prefix + ":req:" + clientKey,
		r.prefix + ":spend:" + clientKey,
		r.prefix + ":active:" + clientKey,
	}
}

// Admit 实现 Admitter
func (r *RedisLimiter) Admit(ctx context.Context, clientKey string, estimatedCost float64) (*Ticket, error) {
	now := r.now().UnixMilli()
	res, err := admitScript.Run(ctx, r.client, r.keys(clientKey),
		now,
		r.cfg.RequestWindow.Milliseconds(),
		r.cfg.MaxRequests,
		r.cfg.SpendWindow.Milliseconds(),
		formatAmount(r.cfg.MaxSpend),
		formatAmount(estimatedCost),
		r.cfg.MaxConcurrent,
		uuid.NewString(),
	).Text()
	if err != nil {
		return nil, fmt.Errorf("redis admission: %w", err)
	}
	switch res {
	case "ok":
		return newTicket(r, clientKey, estimatedCost), nil
	case "concurrency":
		return nil, deny(ReasonConcurrency, "concurrency")
	case "requests":
		return nil, deny(ReasonRequests, "requests")
	case "spend":
		return nil, deny(ReasonSpend, "spend")
	}
	return nil, fmt.Errorf("redis admission: unexpected result %q", res)
}

func (r *RedisLimiter) charge(ctx context.Context, clientKey string, amount float64) error {
	k := r.keys(clientKey)
	res, err := chargeScript.Run(ctx, r.client, k[1:2],
		r.now().UnixMilli(),
		r.cfg.SpendWindow.Milliseconds(),
		uuid.NewString(),
		formatAmount(amount),
	).Text()
	if err != nil {
		return fmt.Errorf("redis charge: %w", err)
	}
	spent, err := strconv.ParseFloat(res, 64)
	if err != nil {
		return fmt.Errorf("redis charge: %w", err)
	}
	if spent > r.cfg.MaxSpend {
		metrics.AdmissionDeniedTotal.WithLabelValues("cost_mid_run").Inc()
		return ErrCostLimitExceeded
	}
	return nil
}

func (r *RedisLimiter) release(clientKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, r.client, r.keys(clientKey)[2:]).Err()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
