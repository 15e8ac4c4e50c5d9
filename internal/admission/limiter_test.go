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
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-council/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiter_FourthRequestDenied(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{MaxRequests: 3, RequestWindow: 60 * time.Second, MaxConcurrent: 10}, WithClock(clock.Now))
	ctx := context.Background()

	denied := 0
	for i := 0; i < 4; i++ {
		ticket, err := l.Admit(ctx, "client", 0.01)
		if err != nil {
			denied++
			assert.Equal(t, 3, i, "only the fourth submission may be denied")
			assert.True(t, errors.Is(err, errors.KindAdmissionDenied))
			assert.Equal(t, ReasonRequests, errors.ReasonOf(err))
			continue
		}
		ticket.Release()
	}
	assert.Equal(t, 1, denied)

	clock.Advance(61 * time.Second)
	ticket, err := l.Admit(ctx, "client", 0.01)
	require.NoError(t, err)
	ticket.Release()
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 1})
	ctx := context.Background()
	_, err := l.Admit(ctx, "a", 0)
	require.NoError(t, err)
	_, err = l.Admit(ctx, "b", 0)
	require.NoError(t, err)
	_, err = l.Admit(ctx, "a", 0)
	assert.Error(t, err)
}

func TestLimiter_ConcurrencyCap(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 100, MaxConcurrent: 2})
	ctx := context.Background()

	t1, err := l.Admit(ctx, "c", 0)
	require.NoError(t, err)
	_, err = l.Admit(ctx, "c", 0)
	require.NoError(t, err)

	_, err = l.Admit(ctx, "c", 0)
	require.Error(t, err)
	assert.Equal(t, ReasonConcurrency, errors.ReasonOf(err))

	t1.Release()
	t1.Release()
	assert.Equal(t, 1, l.Active("c"))

	_, err = l.Admit(ctx, "c", 0)
	assert.NoError(t, err)
}

func TestLimiter_ConcurrentAdmitsRespectCap(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 1000, MaxConcurrent: 3, MaxSpend: 1000})
	ctx := context.Background()

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Admit(ctx, "burst", 0.01); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, 3, l.Active("burst"))
}

func TestLimiter_SpendWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{MaxRequests: 100, MaxSpend: 1, SpendWindow: time.Hour, MaxConcurrent: 10}, WithClock(clock.Now))
	ctx := context.Background()

	_, err := l.Admit(ctx, "s", 0.6)
	require.NoError(t, err)
	_, err = l.Admit(ctx, "s", 0.6)
	require.Error(t, err)
	assert.Equal(t, ReasonSpend, errors.ReasonOf(err))

	clock.Advance(time.Hour + time.Second)
	_, err = l.Admit(ctx, "s", 0.6)
	assert.NoError(t, err)
}

func TestTicket_ChargeBeyondBudget(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 100, MaxSpend: 1, MaxConcurrent: 10})
	ctx := context.Background()

	ticket, err := l.Admit(ctx, "m", 0.5)
	require.NoError(t, err)
	defer ticket.Release()

	require.NoError(t, ticket.Charge(ctx, 0.4))
	require.NoError(t, ticket.Charge(ctx, 0))
	err = ticket.Charge(ctx, 0.7)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrCostLimitExceeded))
	assert.True(t, errors.Is(err, errors.KindAdmissionDenied))
}

func TestLimiter_SweepAndReset(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{MaxRequests: 5, RequestWindow: time.Minute, SpendWindow: time.Hour}, WithClock(clock.Now))
	ctx := context.Background()

	held, err := l.Admit(ctx, "idle", 0.1)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Sweep())

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 0, l.Sweep(), "a client holding a slot is kept")
	held.Release()
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 0, l.Active("idle"))

	_, err = l.Admit(ctx, "r", 0)
	require.NoError(t, err)
	l.Reset()
	assert.Equal(t, 0, l.Active("r"))
}

func TestLimiter_RunStopsOnCancel(t *testing.T) {
	l := NewLimiter(Config{GCInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClientKey(t *testing.T) {
	k1 := ClientKey("203.0.113.7", "salt")
	assert.Equal(t, k1, ClientKey("203.0.113.7", "salt"))
	assert.NotEqual(t, k1, ClientKey("203.0.113.7", "other"))
	assert.NotContains(t, k1, "203.0.113.7")
	assert.Len(t, k1, 34)
}

func TestEstimateCost(t *testing.T) {
	assert.InDelta(t, 0.3, EstimateCost(5, 0.02), 1e-9)
	assert.Equal(t, 0.0, EstimateCost(0, 0.02))
}
