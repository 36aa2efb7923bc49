package runner

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/AlbusWei/auto-ai-testing/internal/config"
	"github.com/AlbusWei/auto-ai-testing/internal/dataset"
	"github.com/AlbusWei/auto-ai-testing/internal/extract"
	"github.com/AlbusWei/auto-ai-testing/internal/files"
	"github.com/AlbusWei/auto-ai-testing/internal/httpcall"
)

// Evaluator routes model outputs to the judge endpoint and records labels.
// Consecutive rows are merged into groups of up to MaxMergeRows per call.
type Evaluator struct {
	cfg    *config.Config
	client *httpcall.Client
	logger *zerolog.Logger
}

func NewEvaluator(cfg *config.Config, logger *zerolog.Logger) *Evaluator {
	return &Evaluator{
		cfg: cfg,
		client: httpcall.New(httpcall.Config{
			Timeout:     cfg.JudgeTimeout,
			MaxAttempts: cfg.JudgeRetries,
			BackoffBase: cfg.BackoffBase,
			RPS:         cfg.RateLimit,
		}),
		logger: logger,
	}
}

// Run labels the table group by group, streaming each finished group's rows
// to outPath with the same degrade-to-one-shot policy as the model runner.
func (e *Evaluator) Run(ctx context.Context, table *dataset.Table, outPath string, ftype files.FileType) error {
	for _, col := range []string{dataset.ColLabel, ColJudgeElapsedMS, ColJudgeStatus, ColJudgeError} {
		table.AddColumn(col)
	}

	if e.cfg.Detail {
		table.AddColumn(ColJudgeAnswer)
	}

	w := openStream(ctx, e.cfg, e.logger, ftype, outPath, table.Columns)

	mergeRows := e.cfg.MaxMergeRows
	if mergeRows < 1 {
		mergeRows = 1
	}

	for start := 0; start < len(table.Rows); start += mergeRows {
		if ctx.Err() != nil {
			closeStream(w, e.logger)
			return ctx.Err()
		}

		end := start + mergeRows
		if end > len(table.Rows) {
			end = len(table.Rows)
		}

		group := table.Rows[start:end]
		e.processGroup(ctx, group)

		for _, row := range group {
			w = appendStream(w, e.logger, table.Values(row, table.Columns))
		}
	}

	return finish(w, e.logger, table, outPath, ftype)
}

func (e *Evaluator) processGroup(ctx context.Context, group []map[string]any) {
	items := make([]judgeItem, len(group))
	for i, row := range group {
		items[i] = judgeItem{
			GroundTruth: fmt.Sprint(row[dataset.ColGroundTruth]),
			Output:      fmt.Sprint(row[dataset.ColOutput]),
		}
	}

	res, err := e.client.Do(ctx, httpcall.Request{
		Method: http.MethodPost,
		URL:    e.cfg.JudgeEndpoint,
		Header: authHeader(e.cfg.JudgeAPIKey),
		JSON:   judgePayload(e.cfg, items),
	})
	if err != nil {
		setAll(group, ColJudgeError, fmt.Sprintf("JudgeException: %v", err))
		return
	}

	for _, row := range group {
		row[ColJudgeElapsedMS] = round2(res.ElapsedMS)
		row[ColJudgeStatus] = res.StatusCode
	}

	if !res.OK() {
		setAll(group, ColJudgeError, fmt.Sprintf("HTTP %d: %s", res.StatusCode, res.Snippet(errSnippetLen)))
		return
	}

	if e.cfg.Detail {
		setAll(group, ColJudgeAnswer, extract.OutputText(res))
	}

	label, err := e.extractLabel(res)
	if err != nil {
		setAll(group, ColJudgeError, fmt.Sprintf("JudgeException: %v", err))
		return
	}

	assignLabels(group, label)

	e.logger.Info().
		Int("rows", len(group)).
		Str("first_row_id", fmt.Sprint(group[0][dataset.ColID])).
		Msg("Group judged")
}

// extractLabel picks the label per dialect: chat judges return free text that
// is stored verbatim, everything else goes through numeric extraction.
func (e *Evaluator) extractLabel(res *httpcall.Response) (extract.Value, error) {
	if e.cfg.JudgeKind == config.JudgeChat {
		return extract.Text(extract.OutputText(res)), nil
	}

	return extract.Label(res)
}

// assignLabels distributes a label over a group: list labels map positionally
// when counts match, otherwise the first value is broadcast.
func assignLabels(group []map[string]any, label extract.Value) {
	if label.IsList() && label.Len() == len(group) {
		for i, row := range group {
			row[dataset.ColLabel] = label.At(i)
		}

		return
	}

	for _, row := range group {
		row[dataset.ColLabel] = label.At(0)
	}
}

func setAll(group []map[string]any, col string, val any) {
	for _, row := range group {
		row[col] = val
	}
}
