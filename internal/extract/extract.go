package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
)

// Text pulls plain text from a PDF on disk.
// Library used: github.com/ledongthuc/pdf.
func Text(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("extract text path=%s: %w", path, err)
	}
	text, err := FromBytes(ctx, data)
	if err != nil {
		return "", fmt.Errorf("extract text path=%s: %w", path, err)
	}
	return text, nil
}

// FromBytes extracts text from an in-memory PDF payload.
func FromBytes(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}
