package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

type ServerConfig struct {
	Port          string   `toml:"port" validate:"required,numeric"`
	APIKey        string   `toml:"api_key"`
	SkipAuthPaths []string `toml:"skip_auth_paths"`
}

// RateLimitConfig allows Requests per WindowSeconds per client. Zero
// requests disables limiting.
type RateLimitConfig struct {
	Requests      int `toml:"requests" validate:"gte=0"`
	WindowSeconds int `toml:"window_seconds" validate:"gte=0"`
}

type StoreConfig struct {
	Backend    string `toml:"backend" validate:"oneof=memory sqlite memgraph"`
	SQLitePath string `toml:"sqlite_path" validate:"required_if=Backend sqlite"`
}

type MemgraphConfig struct {
	URI                   string `toml:"uri"`
	User                  string `toml:"user"`
	Password              string `toml:"password"`
	MaxConnections        int    `toml:"max_connections" validate:"gte=0"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds" validate:"gte=0"`
}

type LLMConfig struct {
	Provider    string  `toml:"provider" validate:"omitempty,oneof=openai claude gemini ollama"`
	Model       string  `toml:"model"`
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	Temperature float32 `toml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `toml:"max_tokens" validate:"gte=0"`
}

// LLMSettings holds the teacher model used for tree generation and the
// student model used for bulk work such as test cases. Either falls back to
// the other when unset.
type LLMSettings struct {
	Teacher      LLMConfig `toml:"teacher"`
	Student      LLMConfig `toml:"student"`
	Retries      int       `toml:"retries" validate:"gte=0,lte=10"`
	RetryDelayMS int       `toml:"retry_delay_ms" validate:"gte=0"`
}

type CompilerConfig struct {
	TargetDomain  string `toml:"target_domain"`
	Strictness    string `toml:"strictness" validate:"oneof=permissive strict"`
	MaxTreeDepth  int    `toml:"max_tree_depth" validate:"gte=1,lte=50"`
	TestCaseCount int    `toml:"test_case_count" validate:"gte=0,lte=200"`
}

type ExecutionConfig struct {
	StepFactor       int  `toml:"step_factor" validate:"gte=1"`
	SuiteConcurrency int  `toml:"suite_concurrency" validate:"gte=1,lte=256"`
	RequireValid     bool `toml:"require_valid"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// Prompts are fmt templates. Empty entries use the built-in defaults.
type Prompts struct {
	Tree      string `toml:"tree"`
	Variables string `toml:"variables"`
	TestCases string `toml:"test_cases"`
	Dedupe    string `toml:"dedupe"`
}

type Config struct {
	Server    ServerConfig    `toml:"server"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Store     StoreConfig     `toml:"store"`
	Memgraph  MemgraphConfig  `toml:"memgraph"`
	LLM       LLMSettings     `toml:"llm"`
	Compiler  CompilerConfig  `toml:"compiler"`
	Execution ExecutionConfig `toml:"execution"`
	Log       LogConfig       `toml:"log"`
	Prompts   Prompts         `toml:"prompts"`
}

// Default returns a configuration that runs without a file: in-memory store,
// local Ollama models and a permissive compiler.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Port: "8080", SkipAuthPaths: []string{"/health", "/metrics"}},
		RateLimit: RateLimitConfig{Requests: 100, WindowSeconds: 60},
		Store:     StoreConfig{Backend: "memory", SQLitePath: "caire.db"},
		Memgraph:  MemgraphConfig{URI: "bolt://localhost:7687", MaxConnections: 16, ConnectTimeoutSeconds: 5},
		LLM: LLMSettings{
			Teacher:      LLMConfig{Provider: "ollama", Model: "gpt-oss:latest", BaseURL: "http://localhost:11434", Temperature: 0.2, MaxTokens: 4096},
			Retries:      2,
			RetryDelayMS: 500,
		},
		Compiler: CompilerConfig{
			TargetDomain:  "general",
			Strictness:    "permissive",
			MaxTreeDepth:  10,
			TestCaseCount: 10,
		},
		Execution: ExecutionConfig{StepFactor: 4, SuiteConcurrency: 4},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a TOML file over the defaults, so a file only needs the keys it
// changes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// ApplyEnv overrides file values with environment variables when present.
func (c *Config) ApplyEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.APIKey, "CAIRE_API_KEY")
	setString(&c.Store.Backend, "CAIRE_STORE")
	setString(&c.Store.SQLitePath, "CAIRE_SQLITE_PATH")
	setString(&c.Compiler.Strictness, "CAIRE_STRICTNESS")
	setString(&c.Compiler.TargetDomain, "CAIRE_TARGET_DOMAIN")
	setInt(&c.Compiler.MaxTreeDepth, "CAIRE_MAX_TREE_DEPTH")
	setInt(&c.Execution.SuiteConcurrency, "CAIRE_SUITE_CONCURRENCY")
	setString(&c.Log.Level, "LOG_LEVEL")

	setString(&c.Memgraph.URI, "MEMGRAPH_URI")
	setString(&c.Memgraph.User, "MEMGRAPH_USER")
	setString(&c.Memgraph.Password, "MEMGRAPH_PASSWORD")

	setString(&c.LLM.Teacher.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Teacher.Model, "LLM_MODEL")
	setString(&c.LLM.Teacher.APIKey, "LLM_API_KEY")
	setString(&c.LLM.Teacher.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.Student.Provider, "LLM_STUDENT_PROVIDER")
	setString(&c.LLM.Student.Model, "LLM_STUDENT_MODEL")
	setString(&c.LLM.Student.APIKey, "LLM_STUDENT_API_KEY")
	setString(&c.LLM.Student.BaseURL, "LLM_STUDENT_BASE_URL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

var validate = validator.New()

// Validate checks enums and ranges. The error lists every offending field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	if c.Store.Backend == "memgraph" && c.Memgraph.URI == "" {
		return errors.New("invalid config: memgraph store requires memgraph.uri")
	}
	return nil
}

// Strict reports whether compiled trees must validate without issues.
func (c *Config) Strict() bool {
	return c.Compiler.Strictness == "strict"
}
