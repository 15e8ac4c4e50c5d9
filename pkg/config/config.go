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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"llm-council/pkg/redaction"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig              `mapstructure:"api"`
	Council    CouncilConfig          `mapstructure:"council"`
	Admission  AdmissionConfig        `mapstructure:"admission"`
	Guard      GuardConfig            `mapstructure:"guard"`
	Model      ModelConfig            `mapstructure:"model"`
	Storage    StorageConfig          `mapstructure:"storage"`
	Secrets    SecretsConfig          `mapstructure:"secrets"`
	Redaction  redaction.PolicyConfig `mapstructure:"redaction"`
	Log        LogConfig              `mapstructure:"log"`
	Monitoring MonitoringConfig       `mapstructure:"monitoring"`
	RateLimits RateLimitsConfig       `mapstructure:"rate_limits"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "1h"
	TrustProxy    bool   `mapstructure:"trust_proxy"`     // true 时从 X-Forwarded-For 取客户端地址

	Clients map[string]string `mapstructure:"clients"` // auth=true 时可换取 token 的 client_id -> secret（支持 secret:// 引用）
}

// CouncilConfig 议会执行配置
type CouncilConfig struct {
	MaxNodes          int     `mapstructure:"max_nodes"`           // 节点上限，<=0 默认 20
	MaxEdges          int     `mapstructure:"max_edges"`           // 边上限，<=0 默认 100
	MaxQueryLen       int     `mapstructure:"max_query_len"`       // 查询最大字符数（rune），<=0 默认 4000
	MaxInstructionLen int     `mapstructure:"max_instruction_len"` // 自定义指令最大字符数，<=0 默认 2000
	WorkerPool        int     `mapstructure:"worker_pool"`         // 单阶段最大并发模型调用数，<=0 默认 8
	AgentTimeout      string  `mapstructure:"agent_timeout"`       // Stage 1 单次调用超时，默认 "60s"
	RankingTimeout    string  `mapstructure:"ranking_timeout"`     // Stage 2 单次调用超时，默认 "60s"
	SynthesisTimeout  string  `mapstructure:"synthesis_timeout"`   // Stage 3 调用超时，默认 "90s"
	MaxRunDuration    string  `mapstructure:"max_run_duration"`    // 单次运行墙钟上限，默认 "5m"
	PerNodeCost       float64 `mapstructure:"per_node_cost"`       // 准入时每节点每阶段的花费估算（美元），<=0 默认 0.02
	MaxTokens         int     `mapstructure:"max_tokens"`          // 单次生成 max_tokens，<=0 默认 1024
}

// AdmissionConfig 准入控制配置
type AdmissionConfig struct {
	Type          string      `mapstructure:"type"`           // memory | redis
	MaxRequests   int         `mapstructure:"max_requests"`   // 请求窗口内最大请求数，<=0 默认 10
	RequestWindow string      `mapstructure:"request_window"` // 默认 "60s"
	MaxSpend      float64     `mapstructure:"max_spend"`      // 花费窗口内最大估算花费（美元），<=0 默认 5
	SpendWindow   string      `mapstructure:"spend_window"`   // 默认 "1h"
	MaxConcurrent int         `mapstructure:"max_concurrent"` // 每客户端并发长连接数，<=0 默认 3
	GCInterval    string      `mapstructure:"gc_interval"`    // 空闲客户端回收间隔，默认 "1m"
	ClientSalt    string      `mapstructure:"client_salt"`    // 客户端标识 hash 的 salt
	Redis         RedisConfig `mapstructure:"redis"`
}

// GuardConfig 注入防护配置
type GuardConfig struct {
	ExtraPatterns []string `mapstructure:"extra_patterns"` // 追加的正则（大小写不敏感）
}

// RateLimitsConfig 限流配置（LLM Provider 维度）
type RateLimitsConfig struct {
	LLM map[string]LLMRateLimitConfig `mapstructure:"llm"`
}

// LLMRateLimitConfig 单个 LLM Provider 的限流配置
type LLMRateLimitConfig struct {
	TokensPerMinute   int     `mapstructure:"tokens_per_minute"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
}

// ModelConfig 模型配置
type ModelConfig struct {
	LLM LLMConfig `mapstructure:"llm"`
}

// LLMConfig LLM 模型配置
type LLMConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig 模型提供商配置
type ProviderConfig struct {
	Type    string               `mapstructure:"type"` // openai | claude | gemini | eino；空则按 provider 名推断
	APIKey  string               `mapstructure:"api_key"`
	BaseURL string               `mapstructure:"base_url"`
	Models  map[string]ModelInfo `mapstructure:"models"`
}

// ModelInfo 模型信息
type ModelInfo struct {
	Name        string  `mapstructure:"name"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	InputPrice  float64 `mapstructure:"input_price"`  // 每 1K 输入 token 美元
	OutputPrice float64 `mapstructure:"output_price"` // 每 1K 输出 token 美元
}

// StorageConfig 存储配置
type StorageConfig struct {
	Runs RunStoreConfig `mapstructure:"runs"`
}

// RunStoreConfig 运行记录存储配置
type RunStoreConfig struct {
	Type  string      `mapstructure:"type"` // memory | postgres | redis
	DSN   string      `mapstructure:"dsn"`  // Postgres 连接串，type=postgres 时必填
	TTL   string      `mapstructure:"ttl"`  // type=redis 时记录保留时长，空则不过期
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	Prefix   string `mapstructure:"prefix"`
}

// SecretsConfig Secret 存储配置；api_key 以 secret:// 开头时从这里解析
type SecretsConfig struct {
	Provider string      `mapstructure:"provider"` // env | memory | vault
	Vault    VaultConfig `mapstructure:"vault"`
}

// VaultConfig Vault 连接配置
type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
	Protocol       string `mapstructure:"protocol"` // grpc（默认）| http
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// LoadAPIConfig 加载 API 配置；COUNCIL_CONFIG 优先，否则 configs/api.yaml
func LoadAPIConfig() (*Config, error) {
	if p := os.Getenv("COUNCIL_CONFIG"); p != "" {
		return LoadConfig(p)
	}
	return LoadConfig("configs/api.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("council.max_nodes", 20)
	v.SetDefault("council.max_edges", 100)
	v.SetDefault("council.max_query_len", 4000)
	v.SetDefault("council.max_instruction_len", 2000)
	v.SetDefault("council.worker_pool", 8)
	v.SetDefault("council.agent_timeout", "60s")
	v.SetDefault("council.ranking_timeout", "60s")
	v.SetDefault("council.synthesis_timeout", "90s")
	v.SetDefault("council.max_run_duration", "5m")
	v.SetDefault("council.per_node_cost", 0.02)
	v.SetDefault("council.max_tokens", 1024)
	v.SetDefault("admission.type", "memory")
	v.SetDefault("admission.max_requests", 10)
	v.SetDefault("admission.request_window", "60s")
	v.SetDefault("admission.max_spend", 5.0)
	v.SetDefault("admission.spend_window", "1h")
	v.SetDefault("admission.max_concurrent", 3)
	v.SetDefault("admission.gc_interval", "1m")
	v.SetDefault("storage.runs.type", "memory")
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// replaceEnvVars 替换配置中 ${VAR} 形式的环境变量
func replaceEnvVars(config *Config) {
	for provider, pc := range config.Model.LLM.Providers {
		pc.APIKey = expandEnv(pc.APIKey)
		config.Model.LLM.Providers[provider] = pc
	}
	config.Storage.Runs.DSN = expandEnv(config.Storage.Runs.DSN)
	config.Storage.Runs.Redis.Password = expandEnv(config.Storage.Runs.Redis.Password)
	config.Admission.Redis.Password = expandEnv(config.Admission.Redis.Password)
	config.Admission.ClientSalt = expandEnv(config.Admission.ClientSalt)
	config.Secrets.Vault.Token = expandEnv(config.Secrets.Vault.Token)
	config.API.Middleware.JWTKey = expandEnv(config.API.Middleware.JWTKey)
	for id, secret := range config.API.Middleware.Clients {
		config.API.Middleware.Clients[id] = expandEnv(secret)
	}
}

func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	envVar := strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return s
}

// ParseDuration 解析时长字符串，无效或空时返回 defaultVal
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
