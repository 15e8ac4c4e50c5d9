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
	stderrors "errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"llm-council/internal/admission"
	"llm-council/internal/guard"
	"llm-council/internal/model/llm"
	"llm-council/pkg/errors"
	"llm-council/pkg/log"
	"llm-council/pkg/metrics"
	"llm-council/pkg/redaction"
	"llm-council/pkg/tracing"
)

// 运行终止原因
var (
	ErrNoSurvivors        = errors.New(errors.KindStageFailure, "all agents failed in stage 1")
	ErrClientDisconnected = errors.New(errors.KindStageFailure, "client disconnected")
	ErrRunDeadline        = errors.New(errors.KindStageFailure, "run exceeded maximum duration")
)

// NoSynthesisReason 主席综合失败时对客户端的说明
const NoSynthesisReason = "no synthesis available"

const reviewerSystem = "You are a careful, impartial reviewer of answers written by other AI advisers."

// RunSaver 执行器对持久化的唯一依赖
type RunSaver interface {
	SaveRun(ctx context.Context, run *Run) error
}

// Submission 一次提交
type Submission struct {
	Query     string `json:"query"`
	Graph     Graph  `json:"graph"`
	ClientKey string `json:"-"`
}

// Options 执行参数；零值字段取默认
type Options struct {
	Limits           Limits
	WorkerPool       int
	AgentTimeout     time.Duration
	RankingTimeout   time.Duration
	SynthesisTimeout time.Duration
	MaxRunDuration   time.Duration
	MaxTokens        int
	PerNodeCost      float64
	LogSalt          string // 日志中文本指纹的 salt
}

func (o Options) withDefaults() Options {
	o.Limits = o.Limits.withDefaults()
	if o.WorkerPool <= 0 {
		o.WorkerPool = 8
	}
	if o.AgentTimeout <= 0 {
		o.AgentTimeout = 60 * time.Second
	}
	if o.RankingTimeout <= 0 {
		o.RankingTimeout = 60 * time.Second
	}
	if o.SynthesisTimeout <= 0 {
		o.SynthesisTimeout = 90 * time.Second
	}
	if o.MaxRunDuration <= 0 {
		o.MaxRunDuration = 5 * time.Minute
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	if o.PerNodeCost <= 0 {
		o.PerNodeCost = 0.02
	}
	return o
}

// Executor 三阶段议会执行器
type Executor struct {
	gen      llm.Generator
	store    RunSaver
	guard    *guard.Guard
	admitter admission.Admitter
	opts     Options
	logger   *log.Logger
	now      func() time.Time
	newID    func() string
}

// NewExecutor 创建执行器；store、admitter 可为 nil
func NewExecutor(gen llm.Generator, store RunSaver, g *guard.Guard, admitter admission.Admitter, opts Options, logger *log.Logger) (*Executor, error) {
	if gen == nil {
		return nil, stderrors.New("council: generator is required")
	}
	opts = opts.withDefaults()
	if g == nil {
		var err error
		if g, err = guard.New(opts.Limits.MaxInstructionLen*2, nil); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Executor{
		gen:      gen,
		store:    store,
		guard:    g,
		admitter: admitter,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Options 返回生效的执行参数
func (e *Executor) Options() Options { return e.opts }

// Preflight 检查节点自定义内容并校验拓扑；不调用任何模型
func (e *Executor) Preflight(g Graph) (*ValidatedGraph, error) {
	for _, n := range g.Nodes {
		if err := e.guard.Inspect(n.Role + "\n" + n.Instruction); err != nil {
			var ce *errors.Error
			if stderrors.As(err, &ce) {
				return nil, errors.Newf(errors.KindInjectionRejected, "instruction of node %q rejected by content policy", n.ID).
					WithDetail(ce.Detail)
			}
			return nil, err
		}
	}
	return Validate(g, e.opts.Limits)
}

// runState 单次运行的可变上下文，只在驱动 goroutine 中访问
type runState struct {
	run          *Run
	safe         *guard.SafeText
	ticket       *admission.Ticket
	sink         Sink
	logger       *log.Logger
	reqCtx       context.Context
	disconnected bool
}

// Execute 依次执行准入、输入防护、拓扑校验与三个阶段，并通过 sink 推送阶段事件。
// 模型调用使用与请求取消解耦的 context；客户端断开后当前阶段跑完即停止。
func (e *Executor) Execute(ctx context.Context, sub Submission, sink Sink) (*Run, error) {
	if sink == nil {
		sink = SinkFunc(func(context.Context, Event) error { return nil })
	}
	runID := e.newID()
	logger := e.logger.With("run_id", runID)
	ctx, span := tracing.StartRunSpan(ctx, runID, len(sub.Graph.Nodes))
	run, err := e.execute(ctx, runID, sub, sink, logger)
	tracing.EndSpan(span, err)
	return run, err
}

func (e *Executor) execute(ctx context.Context, runID string, sub Submission, sink Sink, logger *log.Logger) (*Run, error) {
	var ticket *admission.Ticket
	if e.admitter != nil {
		n := len(sub.Graph.Nodes)
		if n > e.opts.Limits.MaxNodes {
			n = e.opts.Limits.MaxNodes
		}
		t, err := e.admitter.Admit(ctx, sub.ClientKey, admission.EstimateCost(n, e.opts.PerNodeCost))
		if err != nil {
			return nil, e.reject(ctx, sink, runID, err, logger)
		}
		ticket = t
		defer ticket.Release()
	}

	safe, err := e.guard.Sanitize(sub.Query)
	if err != nil {
		return nil, e.reject(ctx, sink, runID, err, logger)
	}
	vg, err := e.Preflight(sub.Graph)
	if err != nil {
		return nil, e.reject(ctx, sink, runID, err, logger)
	}

	now := e.now()
	q := redaction.NewText(safe.Text, e.opts.LogSalt)
	st := &runState{
		run: &Run{
			ID:           runID,
			ClientKey:    sub.ClientKey,
			Query:        safe.Text,
			QueryPreview: q.Preview,
			QueryHash:    q.Hash,
			Graph:        vg,
			Status:       StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		safe:   safe,
		ticket: ticket,
		sink:   sink,
		logger: logger,
		reqCtx: ctx,
	}
	e.save(st)
	logger.Info("council run started", "query", q, "nodes", len(vg.Nodes), "edges", len(vg.Edges), "chairman", vg.ChairmanID)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.MaxRunDuration)
	defer cancel()
	return e.drive(callCtx, st)
}

func (e *Executor) drive(ctx context.Context, st *runState) (*Run, error) {
	run := st.run

	// Stage 1
	_ = run.advance(StatusStage1, e.now())
	e.save(st)
	stageStart := time.Now()
	sctx, span := tracing.StartStageSpan(ctx, run.ID, string(StatusStage1))
	run.Responses = e.stage1(sctx, st)
	span.End()
	metrics.StageDuration.WithLabelValues(string(StatusStage1)).Observe(time.Since(stageStart).Seconds())

	var cost float64
	succeeded := 0
	for _, r := range run.Responses {
		run.account(r.Usage, r.Cost)
		cost += r.Cost
		if r.OK() {
			succeeded++
		}
	}
	e.save(st)
	emitErr := e.emit(st, Event{Type: EventStage1, RunID: run.ID, Payload: Stage1Payload{
		Responses: run.Responses,
		Succeeded: succeeded,
		Failed:    len(run.Responses) - succeeded,
	}})
	if succeeded == 0 {
		return e.fail(st, ErrNoSurvivors)
	}
	if err := e.checkpoint(ctx, st, cost, emitErr); err != nil {
		return e.fail(st, err)
	}

	// Stage 2
	set := Anonymize(run.Responses, run.Graph.ChairmanID)
	run.Labels = set
	payload := Stage2Payload{}
	cost = 0
	if set.Len() < 2 {
		payload.Skipped = true
		payload.SkipReason = "fewer than two responses to rank"
		run.Aggregate = Aggregate(nil, set)
	} else {
		_ = run.advance(StatusStage2, e.now())
		e.save(st)
		stageStart = time.Now()
		sctx, span = tracing.StartStageSpan(ctx, run.ID, string(StatusStage2))
		run.PeerRankings = e.stage2(sctx, st, set)
		span.End()
		metrics.StageDuration.WithLabelValues(string(StatusStage2)).Observe(time.Since(stageStart).Seconds())
		for _, pr := range run.PeerRankings {
			run.account(pr.Usage, pr.Cost)
			cost += pr.Cost
		}
		run.Aggregate = Aggregate(run.PeerRankings, set)
	}
	payload.Rankings = rankingViews(run.PeerRankings, set)
	payload.Aggregate = publicAggregate(run.Aggregate)
	e.save(st)
	emitErr = e.emit(st, Event{Type: EventStage2, RunID: run.ID, Payload: payload})
	if err := e.checkpoint(ctx, st, cost, emitErr); err != nil {
		return e.fail(st, err)
	}

	// Stage 3
	_ = run.advance(StatusStage3, e.now())
	e.save(st)
	stageStart = time.Now()
	sctx, span = tracing.StartStageSpan(ctx, run.ID, string(StatusStage3))
	comp, err := e.stage3(sctx, st)
	tracing.EndSpan(span, err)
	metrics.StageDuration.WithLabelValues(string(StatusStage3)).Observe(time.Since(stageStart).Seconds())

	p3 := Stage3Payload{ChairmanID: run.Graph.ChairmanID, Aggregate: publicAggregate(run.Aggregate)}
	if err != nil {
		run.SynthesisAvailable = false
		run.FailureKind = string(errors.KindSynthesisUnavailable)
		run.FailureReason = NoSynthesisReason
		p3.Reason = NoSynthesisReason
		_ = run.advance(StatusPartiallyFailed, e.now())
	} else {
		run.account(toUsage(comp.Usage), comp.Cost)
		if st.ticket != nil {
			if cerr := st.ticket.Charge(ctx, comp.Cost); cerr != nil {
				st.logger.Warn("cost budget exceeded by final synthesis", "error", cerr)
			}
		}
		run.FinalAnswer = comp.Text
		run.SynthesisAvailable = true
		p3.SynthesisAvailable = true
		p3.FinalAnswer = comp.Text
		_ = run.advance(StatusCompleted, e.now())
	}
	e.save(st)
	metrics.RunTotal.WithLabelValues(string(run.Status)).Inc()
	st.logger.Info("council run finished",
		"status", run.Status,
		"responses", succeeded,
		"rankings", len(run.PeerRankings),
		"tokens", run.TotalTokens,
		"cost", run.TotalCost,
	)

	if e.emit(st, Event{Type: EventStage3, RunID: run.ID, Payload: p3}) == nil {
		_ = e.emit(st, Event{Type: EventDone, RunID: run.ID, Payload: DonePayload{
			Status:      run.Status,
			TotalTokens: run.TotalTokens,
			TotalCost:   run.TotalCost,
		}})
	}
	return run, nil
}

// checkpoint 阶段之间的检查：客户端断开、实际花费、运行时长
func (e *Executor) checkpoint(ctx context.Context, st *runState, cost float64, emitErr error) error {
	if st.ticket != nil {
		if err := st.ticket.Charge(ctx, cost); err != nil {
			if stderrors.Is(err, admission.ErrCostLimitExceeded) {
				return err
			}
			st.logger.Warn("recording run cost failed", "error", err)
		}
	}
	if emitErr != nil {
		return emitErr
	}
	if ctx.Err() != nil {
		return ErrRunDeadline
	}
	return nil
}

func (e *Executor) stage1(ctx context.Context, st *runState) []AgentResponse {
	vg := st.run.Graph
	nodes := vg.Nodes
	pos := make(map[string]int, len(nodes))
	for i, n := range nodes {
		pos[n.ID] = i
	}
	out := make([]AgentResponse, len(nodes))
	var seq atomic.Int64

	for _, tier := range vg.Tiers {
		fanOut(ctx, e.opts.WorkerPool, len(tier), func(ctx context.Context, i int) {
			idx := pos[tier[i]]
			node := nodes[idx]
			var upstream []UpstreamInput
			for _, src := range vg.Upstream[node.ID] {
				if r := out[pos[src]]; r.OK() && r.Text != "" {
					upstream = append(upstream, UpstreamInput{Role: nodes[pos[src]].Role, Text: r.Text})
				}
			}

			resp := AgentResponse{NodeID: node.ID, ModelID: node.ModelID}
			comp, dur, err := e.call(ctx, st, "stage1", node, llm.Request{
				System:    stage1System(node),
				Prompt:    stage1Prompt(st.safe.Envelope, upstream),
				Timeout:   e.opts.AgentTimeout,
				MaxTokens: e.opts.MaxTokens,
			})
			resp.DurationMS = dur.Milliseconds()
			if err != nil {
				resp.Error = failureText(err)
			} else {
				resp.Text = comp.Text
				resp.Usage = toUsage(comp.Usage)
				resp.Cost = comp.Cost
				resp.Seq = seq.Add(1)
			}
			out[idx] = resp
		})
	}
	return out
}

func (e *Executor) stage2(ctx context.Context, st *runState, set *AnonymizedSet) []PeerRanking {
	texts := make(map[string]string, len(st.run.Responses))
	for _, r := range st.run.Responses {
		if r.OK() {
			texts[r.NodeID] = r.Text
		}
	}
	raters := set.Entries
	slots := make([]*PeerRanking, len(raters))

	fanOut(ctx, e.opts.WorkerPool, len(raters), func(ctx context.Context, i int) {
		rater := raters[i]
		view := set.Without(rater.NodeID)
		if len(view) < 2 {
			return
		}
		node, _ := st.run.Graph.Node(rater.NodeID)
		known := make([]string, len(view))
		for j, v := range view {
			known[j] = v.Label
		}

		pr := &PeerRanking{RaterNodeID: rater.NodeID, ParsedOrder: []string{}}
		comp, dur, err := e.call(ctx, st, "stage2", node, llm.Request{
			System:    reviewerSystem,
			Prompt:    rankingPrompt(st.safe.Envelope, view, texts),
			Timeout:   e.opts.RankingTimeout,
			MaxTokens: e.opts.MaxTokens,
		})
		pr.DurationMS = dur.Milliseconds()
		if err != nil {
			pr.Error = failureText(err)
		} else {
			pr.RawText = comp.Text
			pr.Usage = toUsage(comp.Usage)
			pr.Cost = comp.Cost
			pr.ParsedOrder = ParseRanking(comp.Text, known)
			if len(pr.ParsedOrder) == 0 {
				st.logger.Debug("ranking not parseable", "rater", rater.NodeID, "text", redaction.NewText(comp.Text, e.opts.LogSalt))
			}
		}
		slots[i] = pr
	})

	out := make([]PeerRanking, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func (e *Executor) stage3(ctx context.Context, st *runState) (*llm.Completion, error) {
	run := st.run
	chair := run.Graph.Chairman()
	inputs := make([]SynthesisInput, 0, len(run.Responses))
	for _, r := range run.Responses {
		if !r.OK() {
			continue
		}
		n, _ := run.Graph.Node(r.NodeID)
		inputs = append(inputs, SynthesisInput{NodeID: r.NodeID, ModelID: r.ModelID, Role: n.Role, Text: r.Text})
	}
	system := "You are the chairman of a council of AI advisers."
	if chair.Instruction != "" {
		system += "\n\nAdditional guidance for your answer:\n" + chair.Instruction
	}
	comp, _, err := e.call(ctx, st, "stage3", chair, llm.Request{
		System:    system,
		Prompt:    synthesisPrompt(st.safe.Envelope, inputs, run.Aggregate),
		Timeout:   e.opts.SynthesisTimeout,
		MaxTokens: e.opts.MaxTokens * 2,
	})
	return comp, err
}

// call 单次模型调用：独立超时、空输出视为失败、记录指标与 span
func (e *Executor) call(ctx context.Context, st *runState, stage string, node Node, req llm.Request) (*llm.Completion, time.Duration, error) {
	ctx, span := tracing.StartAgentSpan(ctx, stage, node.ID, node.ModelID)
	req.ModelID = node.ModelID
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	comp, err := e.gen.Generate(ctx, req)
	if err == nil && (comp == nil || strings.TrimSpace(comp.Text) == "") {
		err = llm.ErrEmptyCompletion
	}
	if err != nil && ctx.Err() == context.DeadlineExceeded && !stderrors.Is(err, llm.ErrTimeout) {
		err = stderrors.Join(llm.ErrTimeout, err)
	}
	dur := time.Since(start)

	outcome := "ok"
	switch {
	case err == nil:
	case stderrors.Is(err, llm.ErrTimeout):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	metrics.AgentCallDuration.WithLabelValues(stage, outcome).Observe(dur.Seconds())
	tracing.EndSpan(span, err)
	if err != nil {
		st.logger.Warn("agent call failed", "stage", stage, "node", node.ID, "model", node.ModelID, "outcome", outcome, "error", err)
		return nil, dur, err
	}
	return comp, dur, nil
}

func failureText(err error) string {
	switch {
	case stderrors.Is(err, llm.ErrTimeout):
		return "timed out"
	case stderrors.Is(err, llm.ErrEmptyCompletion):
		return "empty response"
	case stderrors.Is(err, llm.ErrUnknownModel):
		return "model not available"
	}
	return "provider error"
}

func toUsage(u llm.Usage) Usage {
	return Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

// emit 推送事件；失败即视为客户端断开，之后不再推送
func (e *Executor) emit(st *runState, ev Event) error {
	if st.disconnected {
		return ErrClientDisconnected
	}
	if st.reqCtx.Err() != nil {
		st.disconnected = true
		return ErrClientDisconnected
	}
	if err := st.sink.Emit(st.reqCtx, ev); err != nil {
		st.disconnected = true
		st.logger.Warn("event delivery failed, treating client as disconnected", "event", ev.Type, "error", err)
		return ErrClientDisconnected
	}
	return nil
}

// fail 运行进入 failed 终态；已有的部分结果保留在记录中
func (e *Executor) fail(st *runState, err error) (*Run, error) {
	run := st.run
	run.FailureKind = string(errors.KindOf(err))
	run.FailureReason = errors.ReasonOf(err)
	_ = run.advance(StatusFailed, e.now())
	e.save(st)
	metrics.RunTotal.WithLabelValues(string(StatusFailed)).Inc()
	st.logger.Warn("council run failed",
		"kind", run.FailureKind,
		"reason", run.FailureReason,
		"tokens", run.TotalTokens,
		"cost", run.TotalCost,
	)
	_ = e.emit(st, Event{Type: EventError, RunID: run.ID, Reason: run.FailureReason, Kind: run.FailureKind})
	return run, err
}

// reject 模型调用之前的拒绝：不创建运行记录
func (e *Executor) reject(ctx context.Context, sink Sink, runID string, err error, logger *log.Logger) error {
	kind := errors.KindOf(err)
	logger.Warn("council run rejected", "kind", kind, "reason", errors.ReasonOf(err), "detail", errors.DetailOf(err))
	metrics.RunTotal.WithLabelValues("rejected").Inc()
	_ = sink.Emit(ctx, Event{Type: EventError, RunID: runID, Reason: errors.ReasonOf(err), Kind: string(kind)})
	return err
}

func (e *Executor) save(st *runState) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(st.reqCtx), 5*time.Second)
	defer cancel()
	if err := e.store.SaveRun(ctx, st.run.Clone()); err != nil {
		st.logger.Warn("saving run failed", "status", st.run.Status, "error", err)
	}
}
