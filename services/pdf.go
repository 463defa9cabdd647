package services

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"rag-chatbot-platform/internal/rag"
)

// minTextQuality rejects extractions that are mostly glyph garbage, which is
// what scanned or oddly encoded PDFs produce.
const minTextQuality = 0.5

// ExtractPDFText returns the plain text of every page, pages separated by a
// blank line. Failures wrap rag.ErrSourceFetchFailed.
func ExtractPDFText(data []byte) (text string, err error) {
	// the pdf package panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: malformed pdf: %v", rag.ErrSourceFetchFailed, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", rag.ErrSourceFetchFailed, err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		raw, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if cleaned := cleanExtractedText(raw); cleaned != "" {
			pages = append(pages, cleaned)
		}
	}

	text = strings.Join(pages, "\n\n")
	if text == "" {
		return "", fmt.Errorf("%w: pdf has no extractable text", rag.ErrSourceFetchFailed)
	}
	if q := textQuality(text); q < minTextQuality {
		return "", fmt.Errorf("%w: pdf text is unreadable (quality %.2f)", rag.ErrSourceFetchFailed, q)
	}
	return text, nil
}

func cleanExtractedText(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// textQuality is the share of runes that are letters, digits, punctuation or
// whitespace.
func textQuality(text string) float64 {
	var total, good int
	for _, r := range text {
		total++
		switch {
		case r == unicode.ReplacementChar:
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			good++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(good) / float64(total)
}
