// Package config resolves endpoint URLs, API keys, timeouts, retry counts,
// batching parameters, and file paths from the environment (with .env
// support). CLI flags are applied on top by the cli package; a flag that was
// explicitly set always wins over the environment.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Model dialect names.
const (
	ModelGeneric        = "generic"
	ModelDifyCompletion = "dify_completion"
	ModelDifyChat       = "dify_chat"
	ModelOpenAIChat     = "openai_chat"
)

// Judge dialect names.
const (
	JudgeDifyWorkflow = "dify_workflow"
	JudgeGeneric      = "generic"
	JudgeChat         = "chat"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogDir   string `env:"LOG_DIR" envDefault:"logs"`

	ModelEndpoint string        `env:"MODEL_ENDPOINT"`
	ModelAPIKey   string        `env:"MODEL_API_KEY"`
	ModelKind     string        `env:"MODEL_KIND" envDefault:"generic"`
	ModelTimeout  time.Duration `env:"MODEL_TIMEOUT" envDefault:"30s"`
	ModelRetries  int           `env:"MODEL_RETRIES" envDefault:"3"`
	InputField    string        `env:"INPUT_FIELD" envDefault:"input"`
	ModelName     string        `env:"MODEL_NAME" envDefault:"gpt-4o-mini"`

	JudgeEndpoint string        `env:"JUDGE_ENDPOINT"`
	JudgeAPIKey   string        `env:"JUDGE_API_KEY"`
	JudgeKind     string        `env:"JUDGE_KIND" envDefault:"dify_workflow"`
	JudgeTimeout  time.Duration `env:"JUDGE_TIMEOUT" envDefault:"30s"`
	JudgeRetries  int           `env:"JUDGE_RETRIES" envDefault:"3"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"1"`
	MaxMergeRows  int           `env:"MAX_MERGE_ROWS" envDefault:"1"`

	BackoffBase time.Duration `env:"BACKOFF_BASE" envDefault:"600ms"`
	RateLimit   float64       `env:"RATE_LIMIT_RPS" envDefault:"0"`
	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"0"`

	Dataset        string `env:"DATASET"`
	UserID         string `env:"USER_ID" envDefault:"auto-ai-testing"`
	ConversationID string `env:"CONVERSATION_ID"`
	FileURLs       string `env:"FILE_URLS"`
	FileType       string `env:"FILE_TYPE" envDefault:"image"`
	DifyInputsJSON string `env:"DIFY_INPUTS_JSON"`
	Detail         bool   `env:"DETAIL" envDefault:"false"`
	Streaming      bool   `env:"STREAMING" envDefault:"true"`
	OutputFormat   string `env:"OUTPUT_FORMAT"`

	TestSetsDir   string `env:"TEST_SETS_DIR" envDefault:"test_sets"`
	OutputDir     string `env:"OUTPUT_RESULTS_DIR" envDefault:"output_results"`
	EvaluationDir string `env:"EVALUATION_RESULTS_DIR" envDefault:"evaluation_results"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FileAttachment is a remote file reference passed in Dify payloads.
type FileAttachment struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	URL            string `json:"url"`
}

// Files assembles attachments from the comma-separated FILE_URLS value plus
// any extra URLs collected from repeated CLI flags.
func (c *Config) Files(extraURLs []string) []FileAttachment {
	var out []FileAttachment

	add := func(raw string) {
		u := strings.TrimSpace(raw)
		if u == "" {
			return
		}

		ftype := c.FileType
		if ftype == "" {
			ftype = "image"
		}

		out = append(out, FileAttachment{Type: ftype, TransferMethod: "remote_url", URL: u})
	}

	if c.FileURLs != "" {
		for _, u := range strings.Split(c.FileURLs, ",") {
			add(u)
		}
	}

	for _, u := range extraURLs {
		add(u)
	}

	return out
}

// DifyInputs parses the extra inputs JSON object. An empty value yields an
// empty map; malformed JSON is an error the caller may choose to log and drop.
func (c *Config) DifyInputs() (map[string]any, error) {
	if c.DifyInputsJSON == "" {
		return map[string]any{}, nil
	}

	inputs := map[string]any{}
	if err := json.Unmarshal([]byte(c.DifyInputsJSON), &inputs); err != nil {
		return map[string]any{}, fmt.Errorf("parse dify inputs json: %w", err)
	}

	return inputs, nil
}
