package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noEnvFile keeps a stray .env in the working directory out of the tests.
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(".", "models", "plant_disease.onnx"), cfg.ModelPath)
	assert.Equal(t, 1, cfg.Sessions)
	assert.Equal(t, 0, cfg.Workers)
	assert.Equal(t, 3, cfg.TopK)
	assert.Equal(t, "imaging", cfg.Resampler)
	assert.Equal(t, "linear", cfg.Filter)
	assert.Equal(t, 30*time.Second, cfg.InitTimeout)
	assert.False(t, cfg.Debug)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "leafdx.yaml", `
model_path: /opt/models/leaf.onnx
labels_path: /opt/models/labels.txt
sessions: 4
workers: 8
resampler: nfnt
filter: lanczos
top_k: 5
init_timeout: 1m
monitor_addr: 127.0.0.1:9090
log_format: json
`)

	cfg, err := Load(path, noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "/opt/models/leaf.onnx", cfg.ModelPath)
	assert.Equal(t, "/opt/models/labels.txt", cfg.LabelsPath)
	assert.Equal(t, 4, cfg.Sessions)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "nfnt", cfg.Resampler)
	assert.Equal(t, "lanczos", cfg.Filter)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, time.Minute, cfg.InitTimeout)
	assert.Equal(t, "127.0.0.1:9090", cfg.MonitorAddr)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "leafdx.yaml", "sessions: 4\ntop_k: 5\n")
	t.Setenv("LEAFDX_SESSIONS", "2")
	t.Setenv("LEAFDX_DEBUG", "true")
	t.Setenv("LEAFDX_INIT_TIMEOUT", "5s")

	cfg, err := Load(path, noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Sessions)
	assert.Equal(t, 5, cfg.TopK)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 5*time.Second, cfg.InitTimeout)
}

func TestLoad_DotEnv(t *testing.T) {
	t.Setenv("LEAFDX_TOP_K", "7")
	// Registered for restore, then unset: godotenv skips variables that exist
	// even when empty.
	t.Setenv("LEAFDX_LABELS_PATH", "")
	os.Unsetenv("LEAFDX_LABELS_PATH")
	envFile := writeFile(t, "test.env", "LEAFDX_TOP_K=1\nLEAFDX_LABELS_PATH=/srv/labels.txt\n")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.TopK, "real environment wins over dotenv")
	assert.Equal(t, "/srv/labels.txt", cfg.LabelsPath)
}

func TestLoad_EmptyEnvBlocksDotEnv(t *testing.T) {
	t.Setenv("LEAFDX_LABELS_PATH", "")
	envFile := writeFile(t, "test.env", "LEAFDX_LABELS_PATH=/srv/labels.txt\n")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Empty(t, cfg.LabelsPath)
}

func TestLoad_InvalidEnvNumbersKeepDefaults(t *testing.T) {
	t.Setenv("LEAFDX_WORKERS", "many")
	t.Setenv("LEAFDX_DEBUG", "sometimes")

	cfg, err := Load("", noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Workers)
	assert.False(t, cfg.Debug)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), noEnvFile(t))
	assert.Error(t, err)

	bad := writeFile(t, "bad.yaml", "sessions: [1, 2\n")
	_, err = Load(bad, noEnvFile(t))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no model", func(c *Config) { c.ModelPath = "" }},
		{"zero sessions", func(c *Config) { c.Sessions = 0 }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"negative top k", func(c *Config) { c.TopK = -2 }},
		{"zero timeout", func(c *Config) { c.InitTimeout = 0 }},
		{"unknown resampler", func(c *Config) { c.Resampler = "opencv" }},
		{"unknown filter", func(c *Config) { c.Filter = "box" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}
