// Package runner drives the row-by-row orchestration: build a payload per
// dialect, execute it through the resilient caller, extract output or label,
// and persist each processed row through a streaming writer. Per-row failures
// are recorded in the row's error columns and never abort the batch.
package runner

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlbusWei/auto-ai-testing/internal/config"
	"github.com/AlbusWei/auto-ai-testing/internal/dataset"
	"github.com/AlbusWei/auto-ai-testing/internal/extract"
	"github.com/AlbusWei/auto-ai-testing/internal/files"
	"github.com/AlbusWei/auto-ai-testing/internal/httpcall"
	"github.com/AlbusWei/auto-ai-testing/internal/stream"
)

// Derived column names added to the table by the runners.
const (
	ColRequestStartedAt = "request_started_at"
	ColRequestElapsedMS = "request_elapsed_ms"
	ColResponseStatus   = "response_status"
	ColError            = "error"
	ColJudgeElapsedMS   = "judge_elapsed_ms"
	ColJudgeStatus      = "judge_status"
	ColJudgeError       = "judge_error"
	ColJudgeAnswer      = "judge_answer"
)

const errSnippetLen = 200

// ModelRunner sends each dataset row to the model endpoint and records the
// output and timing columns.
type ModelRunner struct {
	cfg        *config.Config
	client     *httpcall.Client
	logger     *zerolog.Logger
	files      []config.FileAttachment
	difyInputs map[string]any
}

// NewModelRunner wires a runner from config. extraFileURLs come from repeated
// CLI flags and are merged with the configured attachment URLs.
func NewModelRunner(cfg *config.Config, logger *zerolog.Logger, extraFileURLs []string) *ModelRunner {
	difyInputs, err := cfg.DifyInputs()
	if err != nil {
		logger.Warn().Err(err).Msg("Dify inputs JSON is malformed, using empty object")
	}

	return &ModelRunner{
		cfg: cfg,
		client: httpcall.New(httpcall.Config{
			Timeout:     cfg.ModelTimeout,
			MaxAttempts: cfg.ModelRetries,
			BackoffBase: cfg.BackoffBase,
			RPS:         cfg.RateLimit,
		}),
		logger:     logger,
		files:      cfg.Files(extraFileURLs),
		difyInputs: difyInputs,
	}
}

// Run processes the table in order, streaming each finished row to outPath.
// When the streaming writer cannot be opened or an append fails, the run
// continues and falls back to a one-shot save at the end.
func (r *ModelRunner) Run(ctx context.Context, table *dataset.Table, outPath string, ftype files.FileType) error {
	for _, col := range []string{dataset.ColOutput, ColRequestStartedAt, ColRequestElapsedMS, ColResponseStatus, ColError} {
		table.AddColumn(col)
	}

	if r.cfg.Detail {
		for _, col := range extract.MetadataColumns() {
			table.AddColumn(col)
		}
	}

	w := openStream(ctx, r.cfg, r.logger, ftype, outPath, table.Columns)

	for _, row := range table.Rows {
		if ctx.Err() != nil {
			closeStream(w, r.logger)
			return ctx.Err()
		}

		r.processRow(ctx, row)
		r.logger.Info().
			Str("row_id", fmt.Sprint(row[dataset.ColID])).
			Msg("Row processed")

		w = appendStream(w, r.logger, table.Values(row, table.Columns))
	}

	return finish(w, r.logger, table, outPath, ftype)
}

func (r *ModelRunner) processRow(ctx context.Context, row map[string]any) {
	input := fmt.Sprint(row[dataset.ColInput])
	payload := modelPayload(r.cfg, input, r.files, r.difyInputs)

	row[ColRequestStartedAt] = time.Now().UTC().Format(time.RFC3339)

	res, err := r.client.Do(ctx, httpcall.Request{
		Method: http.MethodPost,
		URL:    r.cfg.ModelEndpoint,
		Header: authHeader(r.cfg.ModelAPIKey),
		JSON:   payload,
	})
	if err != nil {
		row[ColError] = fmt.Sprintf("RequestException: %v", err)
		ensureOutput(row)

		return
	}

	row[ColRequestElapsedMS] = round2(res.ElapsedMS)
	row[ColResponseStatus] = res.StatusCode

	if !res.OK() {
		row[ColError] = fmt.Sprintf("HTTP %d: %s", res.StatusCode, res.Snippet(errSnippetLen))
		ensureOutput(row)

		return
	}

	row[dataset.ColOutput] = extract.OutputText(res)

	if r.cfg.Detail {
		for k, v := range extract.Metadata(res) {
			row[k] = v
		}
	}
}

func ensureOutput(row map[string]any) {
	if row[dataset.ColOutput] == nil {
		row[dataset.ColOutput] = ""
	}
}

func authHeader(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}

	return h
}

func round2(ms float64) float64 {
	return math.Round(ms*100) / 100
}

// openStream opens the streaming writer, logging and returning nil when the
// streaming path is unavailable so the caller degrades to one-shot saving.
func openStream(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, ftype files.FileType, path string, columns []string) stream.Writer {
	if !cfg.Streaming {
		return nil
	}

	w, err := stream.New(ctx, ftype, path, columns, stream.Options{LockTimeout: cfg.LockTimeout})
	if err != nil {
		logger.Error().Err(err).Str("path", path).
			Msg("Streaming writer unavailable, falling back to one-shot save")

		return nil
	}

	return w
}

// appendStream appends one row, degrading to the one-shot fallback on failure.
func appendStream(w stream.Writer, logger *zerolog.Logger, values []any) stream.Writer {
	if w == nil {
		return nil
	}

	if err := w.AppendRow(values); err != nil {
		logger.Error().Err(err).Msg("Stream append failed, falling back to one-shot save")
		closeStream(w, logger)

		return nil
	}

	return w
}

func closeStream(w stream.Writer, logger *zerolog.Logger) {
	if w == nil {
		return
	}

	if err := w.Close(); err != nil {
		logger.Error().Err(err).Msg("Stream close failed")
	}
}

// finish closes the stream or, when streaming degraded, saves the whole table.
func finish(w stream.Writer, logger *zerolog.Logger, table *dataset.Table, path string, ftype files.FileType) error {
	if w != nil {
		if err := w.Close(); err != nil {
			return fmt.Errorf("finalize stream: %w", err)
		}

		return nil
	}

	if err := SaveTable(table, path, ftype); err != nil {
		return fmt.Errorf("save results: %w", err)
	}

	logger.Info().Str("path", path).Msg("Results saved")

	return nil
}
