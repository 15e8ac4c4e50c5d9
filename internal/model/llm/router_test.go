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

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	provider, model string
	text            string
	usage           Usage
	delay           time.Duration
	err             error
	got             []Message
}

func (s *stubClient) Chat(ctx context.Context, messages []Message, _ GenerateOptions) (*Completion, error) {
	s.got = messages
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Completion{Text: s.text, Usage: s.usage, Model: s.model}, nil
}

func (s *stubClient) Model() string    { return s.model }
func (s *stubClient) Provider() string { return s.provider }

func TestRouter_DispatchAndPricing(t *testing.T) {
	r := NewRouter(Pricing{"openai/gpt-4o-mini": {InputPer1K: 1, OutputPer1K: 2}})
	c := &stubClient{provider: "openai", model: "gpt-4o-mini", text: "hi", usage: Usage{PromptTokens: 500, CompletionTokens: 250, TotalTokens: 750}}
	r.Register("openai", "gpt-4o-mini", c)

	comp, err := r.Generate(context.Background(), Request{ModelID: "openai/gpt-4o-mini", System: "be brief", Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "hi", comp.Text)
	assert.InDelta(t, 1.0, comp.Cost, 1e-9)
	require.Len(t, c.got, 2)
	assert.Equal(t, "system", c.got[0].Role)
	assert.Equal(t, "user", c.got[1].Role)

	_, err = r.Generate(context.Background(), Request{ModelID: "gpt-4o-mini", Prompt: "q"})
	assert.NoError(t, err, "bare model name resolves when unique")
	assert.Equal(t, []string{"openai/gpt-4o-mini"}, r.Models())
}

func TestRouter_UnknownAndAmbiguous(t *testing.T) {
	r := NewRouter(nil)
	r.Register("openai", "m", &stubClient{text: "x"})
	r.Register("eino", "m", &stubClient{text: "y"})

	_, err := r.Generate(context.Background(), Request{ModelID: "m"})
	assert.ErrorIs(t, err, ErrUnknownModel)
	_, err = r.Generate(context.Background(), Request{ModelID: "nope/x"})
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestRouter_TimeoutAndEmpty(t *testing.T) {
	r := NewRouter(nil)
	r.Register("p", "slow", &stubClient{text: "late", delay: time.Second})
	r.Register("p", "blank", &stubClient{text: "  \n"})
	r.Register("p", "broken", &stubClient{err: &ProviderError{Provider: "p", StatusCode: 500, Message: "boom"}})

	_, err := r.Generate(context.Background(), Request{ModelID: "p/slow", Timeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = r.Generate(context.Background(), Request{ModelID: "p/blank"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)

	_, err = r.Generate(context.Background(), Request{ModelID: "p/broken"})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 500, pe.StatusCode)
}

func TestRateLimitedClient_RecordsUsage(t *testing.T) {
	rl := NewLLMRateLimiter(map[string]LLMLimitConfig{"p": {MaxConcurrent: 1, RequestsPerMinute: 6000, TokensPerMinute: 600000}}, nil)
	c := NewRateLimitedClient(&stubClient{provider: "p", model: "m", text: "ok", usage: Usage{TotalTokens: 42}}, rl)

	_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}}, GenerateOptions{MaxTokens: 10})
	require.NoError(t, err)
	s := rl.Stats("p")
	assert.Equal(t, int64(42), s.TokensUsed)
	assert.Equal(t, 0, s.InFlight)
	assert.Equal(t, 1, s.FreeSlots)
}

func TestLLMRateLimiter_ConcurrencyBlocksUntilRelease(t *testing.T) {
	rl := NewLLMRateLimiter(map[string]LLMLimitConfig{"p": {MaxConcurrent: 1}}, nil)
	require.NoError(t, rl.Wait(context.Background(), "p", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx, "p", 0))

	rl.Release("p")
	assert.NoError(t, rl.Wait(context.Background(), "p", 0))
}

func TestPricing_UnknownModelIsFree(t *testing.T) {
	assert.Equal(t, 0.0, Pricing{}.Cost("x/y", Usage{PromptTokens: 1000}))
}
