package services

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrExtraction is matched by every ExtractionError.
var ErrExtraction = errors.New("pdf extraction failed")

// ExtractionError reports a stream that is not a readable PDF.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract pdf text: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}

// Extraction is the text recovered from a PDF, one newline-terminated
// segment per page that had any.
type Extraction struct {
	Text          string
	Pages         int
	PagesWithText int
}

type PDFService struct{}

func NewPDFService() *PDFService {
	return &PDFService{}
}

// ExtractText reads every page in order and concatenates their text. Pages
// without extractable text are skipped.
func (s *PDFService) ExtractText(data []byte) (result *Extraction, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &ExtractionError{Err: fmt.Errorf("%v", r)}
		}
	}()

	if len(data) == 0 {
		return nil, &ExtractionError{Err: errors.New("empty document")}
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractionError{Err: err}
	}

	out := &Extraction{Pages: reader.NumPage()}
	var text strings.Builder
	for i := 1; i <= out.Pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		// Font resource names are scoped to the page.
		fonts := make(map[string]*pdf.Font)
		for _, name := range page.Fonts() {
			f := page.Font(name)
			fonts[name] = &f
		}
		content, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, &ExtractionError{Err: fmt.Errorf("page %d: %w", i, err)}
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		text.WriteString(content)
		text.WriteString("\n")
		out.PagesWithText++
	}
	out.Text = text.String()
	return out, nil
}
