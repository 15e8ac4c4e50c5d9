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
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-council/pkg/errors"
)

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	prefix := "test:admission:" + uuid.NewString()
	l := NewRedisLimiter(client, prefix, Config{MaxRequests: 3, RequestWindow: time.Minute, MaxSpend: 1, MaxConcurrent: 2})

	t1, err := l.Admit(ctx, "k", 0.1)
	require.NoError(t, err)
	t2, err := l.Admit(ctx, "k", 0.1)
	require.NoError(t, err)
	_, err = l.Admit(ctx, "k", 0.1)
	require.Error(t, err)
	assert.Equal(t, ReasonConcurrency, errors.ReasonOf(err))

	t1.Release()
	t3, err := l.Admit(ctx, "k", 0.1)
	require.NoError(t, err)
	t2.Release()

	_, err = l.Admit(ctx, "k", 0.1)
	require.Error(t, err)
	assert.Equal(t, ReasonRequests, errors.ReasonOf(err))

	err = t3.Charge(ctx, 1.5)
	assert.ErrorIs(t, err, ErrCostLimitExceeded)
	t3.Release()
}
