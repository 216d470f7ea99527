package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env            string   `envconfig:"ENV" default:"local"`
	ListenAddr     string   `envconfig:"LISTEN_ADDR" default:"127.0.0.1:3200"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"debug"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".taskforge/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"taskforge/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

type ReasoningEnv struct {
	BaseURL           string        `envconfig:"REASONING_BASE_URL" default:"https://openrouter.ai"`
	APIKey            string        `envconfig:"REASONING_API_KEY"`
	Model             string        `envconfig:"REASONING_MODEL" default:"anthropic/claude-3-sonnet"`
	RequestTimeout    time.Duration `envconfig:"REASONING_REQUEST_TIMEOUT" default:"120s"`
	MaxRetries        int           `envconfig:"REASONING_MAX_RETRIES" default:"4"`
	RequestsPerMinute int           `envconfig:"REASONING_REQUESTS_PER_MINUTE" default:"20"`
	Burst             int           `envconfig:"REASONING_BURST" default:"5"`
	// Sampling defaults follow the two prompt phases: planning wants
	// conservative output, execution wants room to reason.
	PlanningTemperature  float64 `envconfig:"REASONING_PLANNING_TEMPERATURE" default:"0.2"`
	ExecutionTemperature float64 `envconfig:"REASONING_EXECUTION_TEMPERATURE" default:"0.7"`
	TopP                 float64 `envconfig:"REASONING_TOP_P" default:"0.9"`
	MaxPlanningTokens    int     `envconfig:"REASONING_MAX_PLANNING_TOKENS" default:"2048"`
	MaxExecutionTokens   int     `envconfig:"REASONING_MAX_EXECUTION_TOKENS" default:"4096"`
}

type SandboxEnv struct {
	PolicyFile     string        `envconfig:"SANDBOX_POLICY_FILE"`
	WallClock      time.Duration `envconfig:"SANDBOX_WALL_CLOCK" default:"60s"`
	CPUSeconds     int           `envconfig:"SANDBOX_CPU_SECONDS" default:"30"`
	MemoryMB       int           `envconfig:"SANDBOX_MEMORY_MB" default:"512"`
	MaxOutputBytes int           `envconfig:"SANDBOX_MAX_OUTPUT_BYTES" default:"65536"`
	KillGrace      time.Duration `envconfig:"SANDBOX_KILL_GRACE" default:"2s"`
}

type OrchestratorEnv struct {
	WorkspaceDir  string `envconfig:"WORKSPACE_DIR" default:".taskforge/workspaces"`
	StepRetries   int    `envconfig:"STEP_RETRIES" default:"2"`
	ReplanLimit   int    `envconfig:"REPLAN_LIMIT" default:"2"`
	ParallelLimit int    `envconfig:"PARALLEL_LIMIT" default:"4"`
	ActionBudget  int    `envconfig:"ACTION_BUDGET" default:"8"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:admin@example.com"`
}

type Env struct {
	BaseEnv
	StorageEnv
	ReasoningEnv
	SandboxEnv
	OrchestratorEnv
	VAPIDEnv
}

const namespace = "TASKFORGE"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}
