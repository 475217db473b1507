// Package extract turns uploaded documents into the single linear text the
// detectors work on. Extraction failures are reported as *Error so callers
// can tell them apart from detection failures.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"

	veilotel "github.com/dativo-io/veil/internal/otel"
)

var tracer = veilotel.Tracer("github.com/dativo-io/veil/internal/extract")

var (
	ErrUnsupported     = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file size exceeds limit")
	ErrInvalidEncoding = errors.New("text is not valid UTF-8")
	ErrEmpty           = errors.New("document contains no text")
)

// Error is an extraction failure for one document.
type Error struct {
	Name   string // file name or path as given by the caller
	Format string // lower-case extension without the dot
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Formats lists the supported file extensions.
var Formats = []string{".txt", ".md", ".csv", ".html", ".htm", ".pdf", ".docx"}

// Extractor extracts text content from various file formats.
type Extractor struct {
	maxSize int64 // Max file size in bytes
}

// NewExtractor creates a file content extractor with a size limit.
func NewExtractor(maxSizeMB int) *Extractor {
	return &Extractor{
		maxSize: int64(maxSizeMB) * 1024 * 1024,
	}
}

// Extract reads a file from disk and extracts its text.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &Error{Name: path, Format: format(path), Err: err}
	}
	if info.Size() > e.maxSize {
		return "", e.tooLarge(path, info.Size())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", &Error{Name: path, Format: format(path), Err: err}
	}
	return e.ExtractBytes(ctx, path, content)
}

// ExtractReader reads at most the size limit from r and extracts its text.
// name is only used for its extension.
func (e *Extractor) ExtractReader(ctx context.Context, name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, e.maxSize+1))
	if err != nil {
		return "", &Error{Name: name, Format: format(name), Err: err}
	}
	return e.ExtractBytes(ctx, name, data)
}

// ExtractBytes extracts text from in-memory content. The format is chosen by
// the extension of name. Output is NFC-normalized.
func (e *Extractor) ExtractBytes(ctx context.Context, name string, data []byte) (string, error) {
	_, span := tracer.Start(ctx, "extract.extract")
	defer span.End()

	ext := format(name)
	span.SetAttributes(veilotel.PIIDocumentType.String(ext))

	if int64(len(data)) > e.maxSize {
		return "", e.tooLarge(name, int64(len(data)))
	}

	var (
		text string
		err  error
	)
	switch ext {
	case "txt", "md", "csv":
		text, err = plainText(data)
	case "html", "htm":
		text, err = htmlText(data)
	case "pdf":
		text, err = pdfText(data)
	case "docx":
		text, err = docxText(data)
	default:
		err = fmt.Errorf("%w: .%s", ErrUnsupported, ext)
	}
	if err != nil {
		span.RecordError(err)
		return "", &Error{Name: name, Format: ext, Err: err}
	}
	return norm.NFC.String(text), nil
}

func (e *Extractor) tooLarge(name string, size int64) error {
	return &Error{
		Name:   name,
		Format: format(name),
		Err:    fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, size, e.maxSize),
	}
}

func format(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", ErrInvalidEncoding
	}
	return string(bytes.TrimPrefix(data, []byte("\ufeff"))), nil
}

// blockEnd matches tags after which the rendered page would break the line.
var blockEnd = regexp.MustCompile(`(?i)</(?:p|div|li|h[1-6]|tr|section|article|header|footer|title)\s*>|<br\s*/?>`)

// htmlText strips all markup with bluemonday's strict policy, keeping one
// line per block element, and unescapes entities back to plain text.
func htmlText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", ErrInvalidEncoding
	}
	marked := blockEnd.ReplaceAllString(string(data), "$0\n")
	return html.UnescapeString(bluemonday.StrictPolicy().Sanitize(marked)), nil
}

// pdfText extracts the text layer with ledongthuc/pdf. The parser panics on
// some malformed input, so panics are turned into errors.
func pdfText(data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", fmt.Errorf("invalid PDF: %w", ErrEmpty)
	}
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("invalid PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("invalid PDF: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	if strings.TrimSpace(buf.String()) == "" {
		return "", fmt.Errorf("PDF has no text layer: %w", ErrEmpty)
	}
	return buf.String(), nil
}
