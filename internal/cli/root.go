// Package cli wires the cobra command surface: flag definitions, config
// resolution (environment first, explicit flags win), and the
// test / evaluate / run orchestration sequences.
package cli

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/AlbusWei/auto-ai-testing/internal/config"
)

type app struct {
	logger *zerolog.Logger
	cfg    *config.Config

	// Flag storage; merged into cfg only when the flag was explicitly set.
	flagDataset        string
	flagModelEndpoint  string
	flagModelAPIKey    string
	flagModelKind      string
	flagModelName      string
	flagModelTimeout   time.Duration
	flagModelRetries   int
	flagInputField     string
	flagConversationID string
	flagFileURLs       []string
	flagFileType       string
	flagDifyInputs     string
	flagDetail         bool
	flagJudgeEndpoint  string
	flagJudgeAPIKey    string
	flagJudgeKind      string
	flagJudgeTimeout   time.Duration
	flagJudgeRetries   int
	flagBatchSize      int
	flagMaxMergeRows   int
	flagUserID         string
	flagNoStreaming    bool
	flagOutputFormat   string
	flagRateLimit      float64
	flagLockTimeout    time.Duration
	flagLogLevel       string
	flagInput          string
}

// NewRootCmd builds the autotest command tree.
func NewRootCmd(logger *zerolog.Logger) *cobra.Command {
	a := &app{logger: logger}

	root := &cobra.Command{
		Use:           "autotest",
		Short:         "Automated testing of AI model endpoints with judge-based scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}

	a.bindFlags(root)

	root.AddCommand(a.newTestCmd())
	root.AddCommand(a.newEvaluateCmd())
	root.AddCommand(a.newRunCmd())

	return root
}

func (a *app) bindFlags(root *cobra.Command) {
	pf := root.PersistentFlags()

	pf.StringVar(&a.flagDataset, "dataset", "", "test set file path (csv or xlsx)")
	pf.StringVar(&a.flagModelEndpoint, "model-endpoint", "", "model API endpoint under test")
	pf.StringVar(&a.flagModelAPIKey, "model-api-key", "", "model API key")
	pf.StringVar(&a.flagModelKind, "model-kind", "", "model API dialect: generic, dify_completion, dify_chat, openai_chat")
	pf.StringVar(&a.flagModelName, "model-name", "", "model name for the openai_chat dialect")
	pf.DurationVar(&a.flagModelTimeout, "model-timeout", 0, "per-attempt model API timeout")
	pf.IntVar(&a.flagModelRetries, "model-retries", 0, "model API retry attempts")
	pf.StringVar(&a.flagInputField, "input-field", "", "request field carrying the model input")
	pf.StringVar(&a.flagConversationID, "conversation-id", "", "conversation_id for the dify_chat dialect")
	pf.StringArrayVar(&a.flagFileURLs, "file-url", nil, "remote file URL for Dify payloads (repeatable)")
	pf.StringVar(&a.flagFileType, "file-type", "", "Dify file attachment type")
	pf.StringVar(&a.flagDifyInputs, "dify-inputs-json", "", "extra Dify inputs as a JSON object")
	pf.BoolVar(&a.flagDetail, "detail", false, "record Dify metadata and usage columns")
	pf.StringVar(&a.flagJudgeEndpoint, "judge-endpoint", "", "judge workflow API endpoint")
	pf.StringVar(&a.flagJudgeAPIKey, "judge-api-key", "", "judge API key")
	pf.StringVar(&a.flagJudgeKind, "judge-kind", "", "judge API dialect: dify_workflow, generic, chat")
	pf.DurationVar(&a.flagJudgeTimeout, "judge-timeout", 0, "per-attempt judge API timeout")
	pf.IntVar(&a.flagJudgeRetries, "judge-retries", 0, "judge API retry attempts")
	pf.IntVar(&a.flagBatchSize, "batch-size", 0, "judge batch size")
	pf.IntVar(&a.flagMaxMergeRows, "max-merge-rows", 0, "max consecutive rows merged into one judge call")
	pf.StringVar(&a.flagUserID, "user-id", "", "user field for Dify payloads")
	pf.BoolVar(&a.flagNoStreaming, "no-streaming", false, "disable streaming writes, save once at the end")
	pf.StringVar(&a.flagOutputFormat, "output-format", "", "force output format: csv or excel")
	pf.Float64Var(&a.flagRateLimit, "rate-limit", 0, "outbound requests per second, 0 = unlimited")
	pf.DurationVar(&a.flagLockTimeout, "lock-timeout", 0, "give up on a held output lock after this long, 0 = wait forever")
	pf.StringVar(&a.flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// loadConfig resolves the environment config, then lets explicitly set flags win.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	set := cmd.Flags().Changed

	override := func(name string, apply func()) {
		if set(name) {
			apply()
		}
	}

	override("dataset", func() { cfg.Dataset = a.flagDataset })
	override("model-endpoint", func() { cfg.ModelEndpoint = a.flagModelEndpoint })
	override("model-api-key", func() { cfg.ModelAPIKey = a.flagModelAPIKey })
	override("model-kind", func() { cfg.ModelKind = a.flagModelKind })
	override("model-name", func() { cfg.ModelName = a.flagModelName })
	override("model-timeout", func() { cfg.ModelTimeout = a.flagModelTimeout })
	override("model-retries", func() { cfg.ModelRetries = a.flagModelRetries })
	override("input-field", func() { cfg.InputField = a.flagInputField })
	override("conversation-id", func() { cfg.ConversationID = a.flagConversationID })
	override("file-type", func() { cfg.FileType = a.flagFileType })
	override("dify-inputs-json", func() { cfg.DifyInputsJSON = a.flagDifyInputs })
	override("detail", func() { cfg.Detail = a.flagDetail })
	override("judge-endpoint", func() { cfg.JudgeEndpoint = a.flagJudgeEndpoint })
	override("judge-api-key", func() { cfg.JudgeAPIKey = a.flagJudgeAPIKey })
	override("judge-kind", func() { cfg.JudgeKind = a.flagJudgeKind })
	override("judge-timeout", func() { cfg.JudgeTimeout = a.flagJudgeTimeout })
	override("judge-retries", func() { cfg.JudgeRetries = a.flagJudgeRetries })
	override("batch-size", func() { cfg.BatchSize = a.flagBatchSize })
	override("max-merge-rows", func() { cfg.MaxMergeRows = a.flagMaxMergeRows })
	override("user-id", func() { cfg.UserID = a.flagUserID })
	override("no-streaming", func() { cfg.Streaming = !a.flagNoStreaming })
	override("output-format", func() { cfg.OutputFormat = a.flagOutputFormat })
	override("rate-limit", func() { cfg.RateLimit = a.flagRateLimit })
	override("lock-timeout", func() { cfg.LockTimeout = a.flagLockTimeout })
	override("log-level", func() { cfg.LogLevel = a.flagLogLevel })

	setLogLevel(cfg.LogLevel)

	a.cfg = cfg

	return nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
