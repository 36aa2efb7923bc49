package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/AlbusWei/auto-ai-testing/internal/core/errors"
	"github.com/AlbusWei/auto-ai-testing/internal/dataset"
	"github.com/AlbusWei/auto-ai-testing/internal/files"
	"github.com/AlbusWei/auto-ai-testing/internal/runner"
)

func (a *app) newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run the model over the test set and write the output file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, _, err := a.runTest(cmd.Context())
			return err
		},
	}
}

func (a *app) newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Judge an existing output file and write the evaluation file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runEvaluate(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.flagInput, "input", "", "model output file to evaluate (.csv or .xlsx)")

	return cmd
}

func (a *app) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Test the model, then judge the outputs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, base, ftype, err := a.runTest(cmd.Context())
			if err != nil {
				return err
			}

			return a.evaluateTable(cmd.Context(), table, base, ftype)
		},
	}
}

// runTest loads and copies the dataset, runs the model over it, and returns
// the labeled-later table plus its base name for a chained evaluation.
func (a *app) runTest(ctx context.Context) (*dataset.Table, string, files.FileType, error) {
	if a.cfg.Dataset == "" {
		return nil, "", "", fmt.Errorf("%w: use --dataset or set DATASET", apperrors.ErrNoDataset)
	}

	if a.cfg.ModelEndpoint == "" {
		return nil, "", "", fmt.Errorf("%w: model endpoint", apperrors.ErrNoEndpoint)
	}

	copied, table, base, err := dataset.LoadAndCopy(a.cfg.Dataset, a.cfg.TestSetsDir)
	if err != nil {
		return nil, "", "", err
	}

	a.logger.Info().Str("dataset", copied).Int("rows", len(table.Rows)).Msg("Test set loaded")

	ftype := a.outputType(copied)

	outPath, err := files.DeriveOutputPath(a.cfg.OutputDir, base, "outputs", ftype.Ext())
	if err != nil {
		return nil, "", "", err
	}

	a.logger.Info().Msg("Starting model test")

	if err = runner.NewModelRunner(a.cfg, a.logger, a.flagFileURLs).Run(ctx, table, outPath, ftype); err != nil {
		return nil, "", "", err
	}

	a.logger.Info().Str("path", outPath).Msg("Model test finished")

	return table, base, ftype, nil
}

// runEvaluate judges a previously produced output file.
func (a *app) runEvaluate(ctx context.Context) error {
	if a.flagInput == "" {
		return fmt.Errorf("%w: evaluate requires --input", apperrors.ErrNoInput)
	}

	table, err := dataset.Load(a.flagInput)
	if err != nil {
		return err
	}

	a.logger.Info().Str("input", a.flagInput).Int("rows", len(table.Rows)).Msg("Output file loaded")

	base := strings.TrimSuffix(filepath.Base(a.flagInput), filepath.Ext(a.flagInput))

	return a.evaluateTable(ctx, table, base, a.outputType(a.flagInput))
}

func (a *app) evaluateTable(ctx context.Context, table *dataset.Table, base string, ftype files.FileType) error {
	if a.cfg.JudgeEndpoint == "" {
		return fmt.Errorf("%w: judge endpoint", apperrors.ErrNoEndpoint)
	}

	evalPath, err := files.DeriveOutputPath(a.cfg.EvaluationDir, base, "evaluation", ftype.Ext())
	if err != nil {
		return err
	}

	a.logger.Info().Msg("Starting judge evaluation")

	if err = runner.NewEvaluator(a.cfg, a.logger).Run(ctx, table, evalPath, ftype); err != nil {
		return err
	}

	a.logger.Info().Str("path", evalPath).Msg("Judge evaluation finished")

	return nil
}

// outputType picks the artifact format: an explicit override wins, otherwise
// the source file's own format, defaulting to CSV.
func (a *app) outputType(sourcePath string) files.FileType {
	switch a.cfg.OutputFormat {
	case string(files.TypeCSV):
		return files.TypeCSV
	case string(files.TypeExcel):
		return files.TypeExcel
	}

	if sourcePath != "" {
		if t, err := files.DetectType(sourcePath); err == nil {
			return t
		}
	}

	return files.TypeCSV
}
