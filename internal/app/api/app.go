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

package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	httpapi "llm-council/internal/api/http"
	"llm-council/internal/api/http/middleware"
	"llm-council/internal/app"
	"llm-council/pkg/config"
	"llm-council/pkg/log"
	"llm-council/pkg/redaction"
	"llm-council/pkg/tracing"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 服务
type App struct {
	config       *app.Bootstrap
	router       *httpapi.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
	stopGC       context.CancelFunc
}

// NewApp 组装 handler、中间件与路由
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	redactor := redaction.NewEngine(redaction.LoadPolicyFromConfig(cfg.Redaction))
	handler := httpapi.NewHandler(bootstrap.Executor, bootstrap.RunStore, redactor, bootstrap.Logger)

	mw := middleware.NewMiddleware(
		middleware.WithAllowOrigins(cfg.API.CORS.AllowOrigins),
		middleware.WithTrustProxy(cfg.API.Middleware.TrustProxy),
		middleware.WithClientSalt(cfg.Admission.ClientSalt),
	)
	router := httpapi.NewRouter(handler, mw)
	if !cfg.Monitoring.Prometheus.Enable {
		router.DisableMetrics()
	}
	router.SetAudit(middleware.NewAuditMiddleware(middleware.NewLogAuditStore(bootstrap.Logger.With("component", "audit"))))

	if cfg.API.Middleware.Auth {
		if cfg.API.Middleware.JWTKey == "" {
			return nil, fmt.Errorf("api.middleware.auth 需要 jwt_key")
		}
		clients, err := bootstrap.JWTClients(context.Background())
		if err != nil {
			return nil, err
		}
		jwtAuth, err := middleware.NewJWTAuth([]byte(cfg.API.Middleware.JWTKey),
			config.ParseDuration(cfg.API.Middleware.JWTTimeout, 0),
			config.ParseDuration(cfg.API.Middleware.JWTMaxRefresh, 0),
			clients)
		if err != nil {
			return nil, fmt.Errorf("初始化 JWT 失败: %w", err)
		}
		router.SetJWT(jwtAuth)
	}

	return &App{config: bootstrap, router: router}, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"；阻塞直到服务退出
func (a *App) Run(addr string) error {
	cfg := a.config.Config
	a.config.Logger.Info("API 服务启动", "addr", addr)

	// Hertz 访问日志走 slog，与 bootstrap 配置对齐
	var output io.Writer = os.Stdout
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(cfg.Log.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	var opts []server.Option
	if cfg.Monitoring.Tracing.Enable {
		if err := a.initTracing(cfg.Monitoring.Tracing); err != nil {
			a.config.Logger.Warn("链路追踪初始化失败", "error", err)
		} else {
			tracerOpt, tcfg := hertztracing.NewServerTracer()
			opts = append(opts, tracerOpt)
			a.router.Use(hertztracing.ServerMiddleware(tcfg))
		}
	}
	if d := config.ParseDuration(cfg.API.Timeout, 0); d > 0 {
		// 仅限制请求读取；流式响应时长由 council.max_run_duration 约束
		opts = append(opts, server.WithReadTimeout(d))
	}
	a.hertz = a.router.Build(addr, opts...)

	if a.config.Limiter != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopGC = cancel
		go a.config.Limiter.Run(ctx)
	}
	return a.hertz.Run()
}

// initTracing protocol=http 时用 OTLP/HTTP 导出，否则用 hertz-contrib provider（OTLP/gRPC）
func (a *App) initTracing(tc config.TracingConfig) error {
	serviceName := tc.ServiceName
	if serviceName == "" {
		serviceName = "llm-council"
	}
	endpoint := tc.ExportEndpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return fmt.Errorf("未配置 export_endpoint")
	}

	if strings.EqualFold(tc.Protocol, "http") {
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    serviceName,
			ExportEndpoint: endpoint,
			Insecure:       tc.Insecure,
		})
		if err != nil {
			return err
		}
		a.otelProvider = tp
	} else {
		opts := []provider.Option{
			provider.WithServiceName(serviceName),
			provider.WithExportEndpoint(endpoint),
		}
		if tc.Insecure {
			opts = append(opts, provider.WithInsecure())
		}
		a.otelProvider = provider.NewOpenTelemetryProvider(opts...)
	}
	a.config.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", endpoint, "protocol", tc.Protocol)
	return nil
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.stopGC != nil {
		a.stopGC()
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	return a.config.Close()
}
