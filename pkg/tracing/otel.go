// Copyright 2026 fanjia1024
// OpenTelemetry integration for distributed tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "llm-council"

// OTelConfig OpenTelemetry 配置
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer 初始化 OpenTelemetry tracer
func InitTracer(config OTelConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	serviceName := config.ServiceName
	if serviceName == "" {
		serviceName = tracerName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartRunSpan 开始议会运行 span
func StartRunSpan(ctx context.Context, runID string, nodeCount int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "council.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.node_count", nodeCount),
		),
	)
}

// StartStageSpan 开始阶段 span（stage1 / stage2 / stage3）
func StartStageSpan(ctx context.Context, runID string, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "council."+stage,
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("stage", stage),
		),
	)
}

// StartAgentSpan 开始单个节点的模型调用 span
func StartAgentSpan(ctx context.Context, stage, nodeID, modelID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent.generate",
		trace.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("node.id", nodeID),
			attribute.String("model.id", modelID),
		),
	)
}

// EndSpan 结束 span，err 非空时记录错误状态
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
