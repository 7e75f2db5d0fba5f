package documents

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupportedType indicates the uploaded file is neither plain text nor PDF.
	ErrUnsupportedType = errors.New("documents: unsupported file type")
	// ErrExtractionFailed indicates the uploaded file could not be parsed.
	ErrExtractionFailed = errors.New("documents: content extraction failed")
)

// FileTypeFor maps an upload MIME type onto a stored file type.
func FileTypeFor(contentType string) (string, error) {
	mediaType := strings.TrimSpace(contentType)
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}
	switch mediaType {
	case "application/pdf":
		return FileTypePDF, nil
	case "text/plain":
		return FileTypeText, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
}

// ExtractText returns the annotatable plain-text content of an upload.
func ExtractText(fileType string, data []byte) (string, error) {
	switch fileType {
	case FileTypeText:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: text upload is not valid UTF-8", ErrExtractionFailed)
		}
		return string(data), nil
	case FileTypePDF:
		return extractPDFText(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	var content bytes.Buffer
	if _, err := content.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return content.String(), nil
}
