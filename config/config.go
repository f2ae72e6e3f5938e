package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Tutortoise/leafdx/preprocess"
)

const envPrefix = "LEAFDX_"

type Config struct {
	ModelPath         string        `yaml:"model_path"`
	LabelsPath        string        `yaml:"labels_path"`
	SharedLibraryPath string        `yaml:"onnxruntime_lib"`
	Sessions          int           `yaml:"sessions"`
	Workers           int           `yaml:"workers"` // 0 = unbounded
	IntraOpThreads    int           `yaml:"intra_op_threads"`
	InterOpThreads    int           `yaml:"inter_op_threads"`
	Resampler         string        `yaml:"resampler"`
	Filter            string        `yaml:"filter"`
	TopK              int           `yaml:"top_k"`
	InitTimeout       time.Duration `yaml:"init_timeout"`
	MonitorAddr       string        `yaml:"monitor_addr"` // empty disables the monitoring server
	Debug             bool          `yaml:"debug"`
	LogFormat         string        `yaml:"log_format"`
}

func Default() Config {
	return Config{
		ModelPath:   filepath.Join(".", "models", "plant_disease.onnx"),
		Sessions:    1,
		Resampler:   "imaging",
		Filter:      "linear",
		TopK:        3,
		InitTimeout: 30 * time.Second,
		LogFormat:   "text",
	}
}

// Load builds the configuration from defaults, then the YAML file at path (if
// any), then dotenv files, then LEAFDX_* environment variables. Dotenv files
// never override variables already set in the environment. An exported but
// empty LEAFDX_* variable therefore hides the dotenv value and reads as unset.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.ModelPath = getEnv("MODEL_PATH", c.ModelPath)
	c.LabelsPath = getEnv("LABELS_PATH", c.LabelsPath)
	c.SharedLibraryPath = getEnv("ORT_LIB", c.SharedLibraryPath)
	c.Sessions = getEnvAsInt("SESSIONS", c.Sessions)
	c.Workers = getEnvAsInt("WORKERS", c.Workers)
	c.IntraOpThreads = getEnvAsInt("INTRA_OP_THREADS", c.IntraOpThreads)
	c.InterOpThreads = getEnvAsInt("INTER_OP_THREADS", c.InterOpThreads)
	c.Resampler = getEnv("RESAMPLER", c.Resampler)
	c.Filter = getEnv("FILTER", c.Filter)
	c.TopK = getEnvAsInt("TOP_K", c.TopK)
	c.InitTimeout = getEnvAsDuration("INIT_TIMEOUT", c.InitTimeout)
	c.MonitorAddr = getEnv("MONITOR_ADDR", c.MonitorAddr)
	c.Debug = getEnvAsBool("DEBUG", c.Debug)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

func (c *Config) Validate() error {
	var errs []error
	if c.ModelPath == "" {
		errs = append(errs, errors.New("model path is required"))
	}
	if c.Sessions < 1 {
		errs = append(errs, fmt.Errorf("sessions must be at least 1, got %d", c.Sessions))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.TopK < 0 {
		errs = append(errs, fmt.Errorf("top_k must not be negative, got %d", c.TopK))
	}
	if c.InitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("init_timeout must be positive, got %s", c.InitTimeout))
	}
	if _, err := preprocess.NewResampler(c.Resampler, c.Filter); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
