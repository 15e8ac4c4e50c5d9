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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 9000
  host: "127.0.0.1"
log:
  level: "debug"
council:
  max_nodes: 5
admission:
  max_concurrent: 2
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Council.MaxNodes)
	assert.Equal(t, 2, cfg.Admission.MaxConcurrent)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "api:\n  port: 8081\n"))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Council.MaxNodes)
	assert.Equal(t, 100, cfg.Council.MaxEdges)
	assert.Equal(t, 10, cfg.Admission.MaxRequests)
	assert.Equal(t, 5.0, cfg.Admission.MaxSpend)
	assert.Equal(t, 3, cfg.Admission.MaxConcurrent)
	assert.Equal(t, "memory", cfg.Storage.Runs.Type)
	assert.Equal(t, "env", cfg.Secrets.Provider)
}

func TestLoadConfig_ExpandsEnvAPIKey(t *testing.T) {
	t.Setenv("COUNCIL_TEST_OPENAI_KEY", "sk-test")
	cfg, err := LoadConfig(writeConfig(t, `
model:
  llm:
    providers:
      openai:
        api_key: "${COUNCIL_TEST_OPENAI_KEY}"
        models:
          gpt-4o-mini:
            name: "gpt-4o-mini"
            input_price: 0.00015
            output_price: 0.0006
`))
	require.NoError(t, err)
	p := cfg.Model.LLM.Providers["openai"]
	assert.Equal(t, "sk-test", p.APIKey)
	assert.InDelta(t, 0.0006, p.Models["gpt-4o-mini"].OutputPrice, 1e-12)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, ParseDuration("2s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("bogus", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("-1s", time.Minute))
}

func TestLoadConfig_ShippedExample(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "api.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "grpc", cfg.Monitoring.Tracing.Protocol)
	assert.Equal(t, "claude", cfg.Model.LLM.Providers["anthropic"].Type)
	assert.Contains(t, cfg.API.Middleware.Clients, "dashboard")
	assert.Equal(t, 90*time.Second, ParseDuration(cfg.Council.SynthesisTimeout, 0))
}
