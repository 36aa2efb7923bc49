package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AlbusWei/auto-ai-testing/internal/cli"
	apperrors "github.com/AlbusWei/auto-ai-testing/internal/core/errors"
	"github.com/AlbusWei/auto-ai-testing/internal/files"
)

func main() {
	logger := newLogger()

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	root := cli.NewRootCmd(&logger)

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("Run failed")
		os.Exit(exitCode(err))
	}
}

// newLogger builds the root logger: stdout plus a log file when LOG_DIR is
// usable, stamped with a unique run id.
func newLogger() zerolog.Logger {
	writers := []io.Writer{os.Stdout}

	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "logs"
	}

	if err := files.EnsureDir(logDir); err == nil {
		f, err := os.OpenFile(filepath.Join(logDir, "autotest.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			writers = append(writers, f)
		}
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Str("run_id", uuid.NewString()).
		Logger()
}

func exitCode(err error) int {
	switch {
	case apperrors.Is(err, apperrors.ErrNoDataset),
		apperrors.Is(err, apperrors.ErrNoInput),
		apperrors.Is(err, apperrors.ErrNoEndpoint):
		return 2
	default:
		return 1
	}
}
