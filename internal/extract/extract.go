// Package extract turns receipt files into structured receipts. Two adapters
// exist: an HTML parser for Instacart order pages and a vision adapter that
// hands images to a conversational oracle.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"splitmybill/internal/receipt"
)

// Kind identifies which adapter handles a receipt file.
type Kind string

const (
	KindInstacart Kind = "instacart"
	KindVision    Kind = "vision"
)

// Extractor converts one receipt source into a structured receipt. A failed
// extraction returns a *Error; no partial receipt ever escapes.
type Extractor interface {
	Extract(ctx context.Context) (*receipt.Receipt, error)
}

// Error wraps an extraction failure with the adapter that produced it.
type Error struct {
	Source Kind
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extracting receipt (%s): %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// visionExtensions lists the file types the vision adapter accepts. PDFs and
// HEIC photos are normalized to PNG before leaving the process.
var visionExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".heif": true,
	".pdf":  true,
}

// Detect picks the adapter for a receipt file from its extension and, for
// HTML, its contents.
func Detect(path string, data []byte) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if visionExtensions[ext] {
		return KindVision, nil
	}
	if ext == ".html" {
		if !IsInstacartHTML(data) {
			return "", fmt.Errorf("HTML file is not a recognized Instacart receipt. Maybe the layout has changed?")
		}
		return KindInstacart, nil
	}

	return "", fmt.Errorf("unsupported file type: %s", ext)
}

// MIMEFromPath guesses a content type from the file extension. Image
// decoding sniffs the actual bytes, so this mostly needs to single out PDFs.
func MIMEFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "image/jpeg"
	}
}
