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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"llm-council/internal/council"
	"llm-council/pkg/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stdout)
		return 0
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "version":
		fmt.Fprintln(stdout, "llm-council cli 0.1.0")
		return 0
	case "config":
		return runConfig(stdout, stderr)
	case "health":
		return runHealth(args, stdout, stderr)
	case "token":
		return runToken(args, stdout, stderr)
	case "ask":
		return runAsk(args, stdout, stderr)
	case "run":
		return runGraph(args, stdout, stderr)
	case "validate":
		return runValidate(args, stdout, stderr)
	case "runs":
		return runList(args, stdout, stderr)
	case "show":
		return runShow(args, stdout, stderr)
	default:
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: council <command> [args]")
	fmt.Fprintln(w, "  version                          - 显示版本")
	fmt.Fprintln(w, "  config                           - 显示配置概要")
	fmt.Fprintln(w, "  health                           - 健康检查")
	fmt.Fprintln(w, "  token <client_id> <secret>       - 换取 JWT（服务端开启 auth 时）")
	fmt.Fprintln(w, "  ask -models m1,m2,m3 <query>     - 以平铺议会提问，最后一个模型为主席")
	fmt.Fprintln(w, "  run -graph graph.json <query>    - 按拓扑文件提交运行")
	fmt.Fprintln(w, "  validate -graph graph.json       - 仅校验拓扑")
	fmt.Fprintln(w, "  runs [-limit n]                  - 列出本客户端的运行")
	fmt.Fprintln(w, "  show [-redact] <run_id>          - 查看运行记录")
	fmt.Fprintln(w, "环境变量: COUNCIL_API_URL（默认 http://localhost:8080）, COUNCIL_TOKEN")
}

// commonFlags 所有远程命令共享的参数
type commonFlags struct {
	url     string
	token   string
	timeout time.Duration
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := &commonFlags{}
	fs.StringVar(&cf.url, "url", apiBaseURL(), "API 地址")
	fs.StringVar(&cf.token, "token", os.Getenv("COUNCIL_TOKEN"), "Bearer token")
	fs.DurationVar(&cf.timeout, "timeout", 10*time.Minute, "请求超时")
	return fs, cf
}

func (cf *commonFlags) client() *apiClient { return newClient(cf.url, cf.token) }

func runConfig(stdout, stderr io.Writer) int {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		fmt.Fprintf(stderr, "加载配置失败: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "api.port=%d\n", cfg.API.Port)
	fmt.Fprintf(stdout, "api.host=%s\n", cfg.API.Host)
	fmt.Fprintf(stdout, "council.max_nodes=%d\n", cfg.Council.MaxNodes)
	fmt.Fprintf(stdout, "admission.type=%s\n", cfg.Admission.Type)
	fmt.Fprintf(stdout, "storage.runs.type=%s\n", cfg.Storage.Runs.Type)
	for name, p := range cfg.Model.LLM.Providers {
		for key := range p.Models {
			fmt.Fprintf(stdout, "model=%s:%s\n", name, key)
		}
	}
	return 0
}

func runHealth(args []string, stdout, stderr io.Writer) int {
	fs, cf := newFlagSet("health", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ctx, cancel := withTimeout(cf.timeout)
	defer cancel()
	if err := cf.client().health(ctx); err != nil {
		fmt.Fprintf(stderr, "健康检查失败: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs, cf := newFlagSet("token", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(stderr, "Usage: council token <client_id> <secret>")
		return 2
	}
	ctx, cancel := withTimeout(cf.timeout)
	defer cancel()
	tok, err := cf.client().token(ctx, fs.Arg(0), fs.Arg(1))
	if err != nil {
		fmt.Fprintf(stderr, "换取 token 失败: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, tok)
	return 0
}

// flatGraph 无边的议会拓扑，最后一个模型担任主席
func flatGraph(models []string) council.Graph {
	g := council.Graph{}
	for i, m := range models {
		g.Nodes = append(g.Nodes, council.Node{
			ID:            fmt.Sprintf("n%d", i+1),
			ModelID:       m,
			SpeakingOrder: i + 1,
			IsChairman:    i == len(models)-1,
		})
	}
	return g
}

func splitModels(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func loadGraph(path string) (council.Graph, error) {
	var g council.Graph
	data, err := os.ReadFile(path)
	if err != nil {
		return g, err
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("解析 %s 失败: %w", path, err)
	}
	return g, nil
}

func runAsk(args []string, stdout, stderr io.Writer) int {
	fs, cf := newFlagSet("ask", stderr)
	models := fs.String("models", os.Getenv("COUNCIL_MODELS"), "逗号分隔的模型 id，至少两个")
	raw := fs.Bool("raw", false, "原样输出 NDJSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ms := splitModels(*models)
	query := strings.Join(fs.Args(), " ")
	if len(ms) < 2 || query == "" {
		fmt.Fprintln(stderr, "Usage: council ask -models m1,m2[,...] <query>")
		return 2
	}
	return submit(cf, council.Submission{Query: query, Graph: flatGraph(ms)}, *raw, stdout, stderr)
}

func runGraph(args []string, stdout, stderr io.Writer) int {
	fs, cf := newFlagSet("run", stderr)
	path := fs.String("graph", "", "拓扑 JSON 文件")
	raw := fs.Bool("raw", false, "原样输出 NDJSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	query := strings.Join(fs.Args(), " ")
	if *path == "" || query == "" {
		fmt.Fprintln(stderr, "Usage: council run -graph graph.json <query>")
		return 2
	}
	g, err := loadGraph(*path)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	return submit(cf, council.Submission{Query: query, Graph: g}, *raw, stdout, stderr)
}

func submit(cf *commonFlags, sub council.Submission, raw bool, stdout, stderr io.Writer) int {
	ctx, cancel := withTimeout(cf.timeout)
	defer cancel()
	last, err := cf.client().run(ctx, sub, func(ev council.Event) {
		if raw {
			b, _ := json.Marshal(ev)
			fmt.Fprintln(stdout, string(b))
			return
		}
		printEvent(stdout, ev)
	})
	if err != nil {
		fmt.Fprintf(stderr, "运行失败: %v\n", err)
		return 1
	}
	if last.Type == council.EventError {
		return 1
	}
	return 0
}

// printEvent 以人类可读的形式输出事件；负载按 JSON 往返解码
func printEvent(w io.Writer, ev council.Event) {
	data, _ := json.Marshal(ev.Payload)
	switch ev.Type {
	case council.EventStage1:
		var p council.Stage1Payload
		_ = json.Unmarshal(data, &p)
		fmt.Fprintf(w, "== stage1 (run %s): %d ok, %d failed\n", ev.RunID, p.Succeeded, p.Failed)
		for _, r := range p.Responses {
			if r.Error != "" {
				fmt.Fprintf(w, "  [%s %s] error: %s\n", r.NodeID, r.ModelID, r.Error)
				continue
			}
			fmt.Fprintf(w, "  [%s %s] %s\n", r.NodeID, r.ModelID, preview(r.Text, 160))
		}
	case council.EventStage2:
		var p council.Stage2Payload
		_ = json.Unmarshal(data, &p)
		if p.Skipped {
			fmt.Fprintf(w, "== stage2 skipped: %s\n", p.SkipReason)
			return
		}
		fmt.Fprintln(w, "== stage2 aggregate")
		printAggregate(w, p.Aggregate)
	case council.EventStage3:
		var p council.Stage3Payload
		_ = json.Unmarshal(data, &p)
		if !p.SynthesisAvailable {
			fmt.Fprintf(w, "== stage3 (%s): %s\n", p.ChairmanID, p.Reason)
			return
		}
		fmt.Fprintf(w, "== stage3 (%s)\n%s\n", p.ChairmanID, p.FinalAnswer)
	case council.EventDone:
		var p council.DonePayload
		_ = json.Unmarshal(data, &p)
		fmt.Fprintf(w, "== done: %s, %d tokens, $%.4f\n", p.Status, p.TotalTokens, p.TotalCost)
	case council.EventError:
		fmt.Fprintf(w, "== error (%s): %s\n", ev.Kind, ev.Reason)
	}
}

func printAggregate(w io.Writer, agg []council.AggregateRanking) {
	for i, a := range agg {
		if a.InsufficientData {
			fmt.Fprintf(w, "  %d. %s (%s) no votes\n", i+1, a.NodeID, a.ModelID)
			continue
		}
		fmt.Fprintf(w, "  %d. %s (%s) avg %.2f over %d votes\n", i+1, a.NodeID, a.ModelID, a.AverageRank, a.VoteCount)
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs, cf := newFlagSet("validate", stderr)
	path := fs.String("graph", "", "拓扑 JSON 文件")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(stderr, "Usage: council validate -graph graph.json")
		return 2
	}
	g, err := loadGraph(*path)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	ctx, cancel := withTimeout(cf.timeout)
	defer cancel()
	out, err := cf.client().validate(ctx, g)
	if err != nil {
		fmt.Fprintf(stderr, "校验失败: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, prettyJSON(out))
	if valid, _ := out["valid"].(bool); !valid {
		return 1
	}
	return 0
}

func runList(args []string, stdout, stderr io.Writer) int {
	fs, cf := newFlagSet("runs", stderr)
	limit := fs.Int("limit", 20, "最多条数")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ctx, cancel := withTimeout(cf.timeout)
	defer cancel()
	out, err := cf.client().listRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "列出运行失败: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, prettyJSON(out))
	return 0
}

func runShow(args []string, stdout, stderr io.Writer) int {
	fs, cf := newFlagSet("show", stderr)
	redact := fs.Bool("redact", false, "按脱敏策略输出")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: council show [-redact] <run_id>")
		return 2
	}
	ctx, cancel := withTimeout(cf.timeout)
	defer cancel()
	out, err := cf.client().getRun(ctx, fs.Arg(0), *redact)
	if err != nil {
		fmt.Fprintf(stderr, "获取运行失败: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, prettyJSON(out))
	return 0
}

func prettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
