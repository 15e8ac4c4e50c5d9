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

// Package admission 提供按客户端的请求速率、花费与并发准入控制
package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"llm-council/pkg/errors"
	"llm-council/pkg/metrics"
)

// 拒绝原因（对外可见）
const (
	ReasonConcurrency = "too many concurrent runs for this client"
	ReasonRequests    = "request rate limit exceeded"
	ReasonSpend       = "cost limit exceeded"
)

// ErrCostLimitExceeded 运行中实际花费突破窗口预算
var ErrCostLimitExceeded = errors.New(errors.KindAdmissionDenied, "cost limit exceeded mid-run")

// Config 准入限额
type Config struct {
	MaxRequests   int           // 请求窗口内最大请求数
	RequestWindow time.Duration // 请求滑动窗口
	MaxSpend      float64       // 花费窗口内最大花费（美元）
	SpendWindow   time.Duration // 花费滑动窗口
	MaxConcurrent int           // 并发长连接上限
	GCInterval    time.Duration // 空闲客户端回收间隔
}

// DefaultConfig 默认限额：10 次/60s，$5/小时，3 个并发
func DefaultConfig() Config {
	return Config{
		MaxRequests:   10,
		RequestWindow: time.Minute,
		MaxSpend:      5,
		SpendWindow:   time.Hour,
		MaxConcurrent: 3,
		GCInterval:    time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRequests <= 0 {
		c.MaxRequests = d.MaxRequests
	}
	if c.RequestWindow <= 0 {
		c.RequestWindow = d.RequestWindow
	}
	if c.MaxSpend <= 0 {
		c.MaxSpend = d.MaxSpend
	}
	if c.SpendWindow <= 0 {
		c.SpendWindow = d.SpendWindow
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.GCInterval <= 0 {
		c.GCInterval = d.GCInterval
	}
	return c
}

// Admitter 准入接口；内存与 Redis 实现均满足
type Admitter interface {
	Admit(ctx context.Context, clientKey string, estimatedCost float64) (*Ticket, error)
}

// backend Ticket 回调的存储侧操作
type backend interface {
	charge(ctx context.Context, clientKey string, amount float64) error
	release(clientKey string)
}

// Ticket 一次已准入的运行；持有一个并发槽位直到 Release
type Ticket struct {
	clientKey string
	estimated float64
	b         backend

	mu       sync.Mutex
	actual   float64
	overage  float64
	released atomic.Bool
}

func newTicket(b backend, clientKey string, estimated float64) *Ticket {
	return &Ticket{b: b, clientKey: clientKey, estimated: estimated}
}

// ClientKey 返回限流键
func (t *Ticket) ClientKey() string { return t.clientKey }

// Estimated 返回准入时预扣的花费
func (t *Ticket) Estimated() float64 { return t.estimated }

// Charge 记录一次实际花费；累计超出预扣部分计入花费窗口，突破预算时返回 ErrCostLimitExceeded
func (t *Ticket) Charge(ctx context.Context, amount float64) error {
	if amount <= 0 {
		return nil
	}
	t.mu.Lock()
	t.actual += amount
	over := t.actual - t.estimated
	delta := over - t.overage
	if delta <= 0 {
		t.mu.Unlock()
		return nil
	}
	t.overage = over
	t.mu.Unlock()
	return t.b.charge(ctx, t.clientKey, delta)
}

// Release 释放并发槽位；可重复调用
func (t *Ticket) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.b.release(t.clientKey)
	}
}

type spendEntry struct {
	at     time.Time
	amount float64
}

// clientState 单个客户端的窗口；mu 只保护本客户端的切片
type clientState struct {
	mu       sync.Mutex
	requests []time.Time
	spend    []spendEntry
	evicted  bool
	active   atomic.Int32
}

func (s *clientState) prune(now time.Time, cfg Config) {
	cut := now.Add(-cfg.RequestWindow)
	i := 0
	for i < len(s.requests) && !s.requests[i].After(cut) {
		i++
	}
	s.requests = s.requests[i:]

	cut = now.Add(-cfg.SpendWindow)
	j := 0
	for j < len(s.spend) && !s.spend[j].at.After(cut) {
		j++
	}
	s.spend = s.spend[j:]
}

func (s *clientState) spent() float64 {
	var sum float64
	for _, e := range s.spend {
		sum += e.amount
	}
	return sum
}

// Limiter 进程内滑动窗口限流器；每进程构造一次并注入使用
type Limiter struct {
	cfg     Config
	now     func() time.Time
	clients sync.Map // clientKey -> *clientState
}

// Option Limiter 选项
type Option func(*Limiter)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter 创建 Limiter；零值字段取默认
func NewLimiter(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{cfg: cfg.withDefaults(), now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Config 返回生效的限额
func (l *Limiter) Config() Config { return l.cfg }

func (l *Limiter) state(clientKey string) *clientState {
	v, _ := l.clients.LoadOrStore(clientKey, &clientState{})
	return v.(*clientState)
}

// Admit 检查并发、请求数与估算花费；拒绝为终态，不排队
func (l *Limiter) Admit(ctx context.Context, clientKey string, estimatedCost float64) (*Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for {
		st := l.state(clientKey)
		st.mu.Lock()
		if st.evicted {
			st.mu.Unlock()
			continue
		}
		if !acquire(&st.active, int32(l.cfg.MaxConcurrent)) {
			st.mu.Unlock()
			return nil, deny(ReasonConcurrency, "concurrency")
		}
		now := l.now()
		st.prune(now, l.cfg)
		if len(st.requests) >= l.cfg.MaxRequests {
			st.active.Add(-1)
			st.mu.Unlock()
			return nil, deny(ReasonRequests, "requests")
		}
		if st.spent()+estimatedCost > l.cfg.MaxSpend {
			st.active.Add(-1)
			st.mu.Unlock()
			return nil, deny(ReasonSpend, "spend")
		}
		st.requests = append(st.requests, now)
		if estimatedCost > 0 {
			st.spend = append(st.spend, spendEntry{at: now, amount: estimatedCost})
		}
		st.mu.Unlock()
		return newTicket(l, clientKey, estimatedCost), nil
	}
}

// acquire CAS 占用一个并发槽位
func acquire(n *atomic.Int32, max int32) bool {
	for {
		cur := n.Load()
		if cur >= max {
			return false
		}
		if n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func deny(reason, label string) error {
	metrics.AdmissionDeniedTotal.WithLabelValues(label).Inc()
	return errors.New(errors.KindAdmissionDenied, reason)
}

func (l *Limiter) charge(ctx context.Context, clientKey string, amount float64) error {
	st := l.state(clientKey)
	st.mu.Lock()
	defer st.mu.Unlock()
	now := l.now()
	st.prune(now, l.cfg)
	st.spend = append(st.spend, spendEntry{at: now, amount: amount})
	if st.spent() > l.cfg.MaxSpend {
		metrics.AdmissionDeniedTotal.WithLabelValues("cost_mid_run").Inc()
		return ErrCostLimitExceeded
	}
	return nil
}

func (l *Limiter) release(clientKey string) {
	v, ok := l.clients.Load(clientKey)
	if !ok {
		return
	}
	n := &v.(*clientState).active
	for {
		cur := n.Load()
		if cur <= 0 || n.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Active 返回客户端当前占用的并发槽位数
func (l *Limiter) Active(clientKey string) int {
	if v, ok := l.clients.Load(clientKey); ok {
		return int(v.(*clientState).active.Load())
	}
	return 0
}

// Sweep 回收窗口已过期且无活动连接的客户端，返回回收数量
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	l.clients.Range(func(k, v any) bool {
		st := v.(*clientState)
		st.mu.Lock()
		st.prune(now, l.cfg)
		if len(st.requests) == 0 && len(st.spend) == 0 && st.active.Load() == 0 {
			st.evicted = true
			l.clients.Delete(k)
			removed++
		}
		st.mu.Unlock()
		return true
	})
	return removed
}

// Run 按 GCInterval 周期回收，直到 ctx 结束
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Reset 清空所有客户端状态（测试用）
func (l *Limiter) Reset() {
	l.clients.Range(func(k, v any) bool {
		st := v.(*clientState)
		st.mu.Lock()
		st.evicted = true
		l.clients.Delete(k)
		st.mu.Unlock()
		return true
	})
}
