package docs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// maxDocumentBytes caps how much remote content is pulled into memory
// before decoding.
const maxDocumentBytes = 32 << 20

// ObjectSource fetches the raw bytes behind an object-storage URL.
type ObjectSource interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Extractor turns a stored document reference into plain text.
type Extractor struct {
	objects ObjectSource
	client  *http.Client
	logger  *slog.Logger
}

func NewExtractor(objects ObjectSource, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{
		objects: objects,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Extract fetches the document behind rawURL and decodes it to plain text
// based on its file extension. Decoder failures return an error; callers
// handle them per document so one bad file never aborts a batch.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (string, error) {
	data, err := e.fetch(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch document: %w", err)
	}
	text, err := Decode(extensionOf(rawURL), data)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (e *Extractor) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	switch {
	case strings.HasPrefix(rawURL, "s3://"):
		if e.objects == nil {
			return nil, fmt.Errorf("no object store configured for %s", rawURL)
		}
		return e.objects.Fetch(ctx, rawURL)
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	default:
		return os.ReadFile(rawURL)
	}
}

func extensionOf(rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		return strings.ToLower(path.Ext(parsed.Path))
	}
	return strings.ToLower(path.Ext(rawURL))
}

// Decode dispatches raw document bytes to the decoder for the given
// file extension.
func Decode(ext string, data []byte) (text string, err error) {
	// Some decoders panic on malformed input.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("decode %s document: %v", ext, r)
		}
	}()

	switch ext {
	case ".pdf":
		return decodePDF(data)
	case ".docx", ".doc", ".rtf", ".odt":
		return decodeWithDocconv(ext, data)
	case ".xlsx", ".xlsm":
		return decodeSpreadsheet(data)
	case ".txt", ".csv", ".md":
		return string(data), nil
	default:
		// Best effort for unrecognized extensions.
		return string(data), nil
	}
}

func decodePDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		// Skip pages the text layer cannot decode.
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return sb.String(), nil
}

func decodeWithDocconv(ext string, data []byte) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), docconv.MimeTypeByExtension("document"+ext), true)
	if err != nil {
		return "", fmt.Errorf("convert %s document: %w", ext, err)
	}
	if res.Body == "" {
		return "", fmt.Errorf("empty text from %s document", ext)
	}
	return res.Body, nil
}

func decodeSpreadsheet(data []byte) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open spreadsheet: %w", err)
	}
	defer book.Close()

	var sb strings.Builder
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			continue
		}
		sb.WriteString(sheet)
		sb.WriteString("\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, ", "))
			sb.WriteString("\n")
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text extracted from spreadsheet")
	}
	return sb.String(), nil
}
