// Package files contains small path and file helpers shared by the dataset
// loader, the stream writers, and the runners.
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/AlbusWei/auto-ai-testing/internal/core/errors"
)

// FileType identifies a supported tabular file format.
type FileType string

const (
	TypeCSV   FileType = "csv"
	TypeExcel FileType = "excel"
)

// EnsureDir creates dir and any missing parents. An empty dir is a no-op.
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}

	return os.MkdirAll(dir, 0o755)
}

// Timestamp returns the current local time formatted as YYYYMMDD_HHMMSS.
func Timestamp() string {
	return time.Now().Format("20060102_150405")
}

// DetectType maps a file extension to a FileType.
func DetectType(path string) (FileType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return TypeCSV, nil
	case ".xlsx", ".xls":
		return TypeExcel, nil
	default:
		return "", fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// CopyWithTimestamp copies src into destDir under a name suffixed with the
// current timestamp and returns the destination path.
func CopyWithTimestamp(srcPath, destDir string) (string, error) {
	if err := EnsureDir(destDir); err != nil {
		return "", fmt.Errorf("ensure dir: %w", err)
	}

	base := filepath.Base(srcPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	destPath := filepath.Join(destDir, fmt.Sprintf("%s_%s%s", name, Timestamp(), ext))

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}

	defer func() {
		_ = src.Close()
	}()

	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create copy: %w", err)
	}

	if _, err = io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("copy dataset: %w", err)
	}

	if err = dst.Close(); err != nil {
		return "", fmt.Errorf("close copy: %w", err)
	}

	return destPath, nil
}

// DeriveOutputPath builds "<dir>/<base>_<timestamp>_<suffix><ext>" and ensures
// dir exists. ext must include the leading dot.
func DeriveOutputPath(dir, baseName, suffix, ext string) (string, error) {
	if err := EnsureDir(dir); err != nil {
		return "", fmt.Errorf("ensure dir: %w", err)
	}

	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s%s", baseName, Timestamp(), suffix, ext)), nil
}

// Ext returns the canonical extension for a FileType.
func (t FileType) Ext() string {
	if t == TypeExcel {
		return ".xlsx"
	}

	return ".csv"
}
