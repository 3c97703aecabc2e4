package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"findoc-backend/internal/shared/telemetry"
	"findoc-backend/internal/shared/util"
)

// ErrInvalidInput marks uploads rejected before any record is created.
var ErrInvalidInput = errors.New("invalid upload")

// Upload describes a scratch copy of an accepted document.
type Upload struct {
	Path     string
	FileName string
	Hash     string
	Size     int64
}

// Ingestor validates uploads and stages them under a working directory.
type Ingestor struct {
	WorkDir string
}

// New constructs an Ingestor rooted at workDir.
func New(workDir string) *Ingestor {
	if strings.TrimSpace(workDir) == "" {
		workDir = "./data"
	}
	return &Ingestor{WorkDir: workDir}
}

// Ingest validates the upload, hashes its content, and writes it to a
// uniquely named scratch file. Callers must defer Upload.Remove on every path.
func (i *Ingestor) Ingest(ctx context.Context, fileName string, data []byte) (Upload, error) {
	if err := ctx.Err(); err != nil {
		return Upload{}, err
	}
	sanitized, err := util.SanitizeFileName(fileName)
	if err != nil {
		return Upload{}, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	if !strings.HasSuffix(strings.ToLower(sanitized), ".pdf") {
		return Upload{}, fmt.Errorf("%w: only PDF files are supported", ErrInvalidInput)
	}
	if len(data) == 0 {
		return Upload{}, fmt.Errorf("%w: uploaded file is empty", ErrInvalidInput)
	}

	if err := os.MkdirAll(i.WorkDir, 0o755); err != nil {
		return Upload{}, fmt.Errorf("mkdir work dir: %w", err)
	}

	path := filepath.Join(i.WorkDir, fmt.Sprintf("financial_document_%s.pdf", uuid.NewString()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Upload{}, fmt.Errorf("write upload: %w", err)
	}

	return Upload{
		Path:     path,
		FileName: sanitized,
		Hash:     util.HashBytes(data),
		Size:     int64(len(data)),
	}, nil
}

// Remove deletes the scratch file. Safe to call more than once.
func (u Upload) Remove() {
	if u.Path == "" {
		return
	}
	if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		telemetry.Error("ingest.cleanup", map[string]any{
			"path":  u.Path,
			"error": err.Error(),
		})
	}
}
