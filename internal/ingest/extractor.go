package ingest

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
)

// Extraction is the extractor output: one text blob annotated with [Page N]
// markers plus the reported page count.
type Extraction struct {
	Text  string
	Pages int
}

var pageMarkerRe = regexp.MustCompile(`\[Page (\d+)\]`)

// pageHeaderRe matches "Page N" header lines and bare page-number lines that
// PDF extraction tends to leave behind in place of real page boundaries.
var (
	pageHeaderRe = regexp.MustCompile(`(?m)^\s*[Pp]age\s+(\d+)\s*$`)
	bareNumberRe = regexp.MustCompile(`(?m)^\s*(\d{1,4})\s*$`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
)

// Extract dispatches on content type. PDFs get page-aware extraction; plain
// text is taken verbatim as a single page; other binary formats go through
// docconv and are treated as single-page.
func Extract(data []byte, contentType string) (*Extraction, error) {
	switch {
	case strings.Contains(contentType, "pdf"):
		return ExtractPDF(data)
	case strings.HasPrefix(contentType, "text/"):
		return ExtractText(string(data)), nil
	default:
		res, err := docconv.Convert(bytes.NewReader(data), contentType, false)
		if err != nil {
			return nil, fmt.Errorf("docconv extract (%s): %w", contentType, err)
		}
		if strings.TrimSpace(res.Body) == "" {
			return nil, fmt.Errorf("docconv extract (%s): empty text", contentType)
		}
		return ExtractText(res.Body), nil
	}
}

// ExtractText wraps a direct-text upload. Page count is fixed at 1 and no
// marker synthesis is performed.
func ExtractText(text string) *Extraction {
	return &Extraction{Text: text, Pages: 1}
}

// ExtractPDF pulls text plus page boundaries out of raw PDF bytes. Per-page
// extraction inserts a [Page N] marker ahead of each page's text; when too few
// pages yield text that way (fewer than half), it falls back to whole-document
// extraction with marker synthesis, since PDF text extraction does not
// reliably preserve page boundaries.
func ExtractPDF(data []byte) (*Extraction, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := r.NumPage()
	if pages < 1 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	var b strings.Builder
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&b, "[Page %d]\n%s\n", i, text)
	}

	combined := b.String()
	found := len(pageMarkerRe.FindAllString(combined, -1))
	if found*2 >= pages && strings.TrimSpace(combined) != "" {
		return &Extraction{Text: combined, Pages: pages}, nil
	}

	// Per-page extraction came up short; extract the whole document and
	// synthesize markers.
	slog.Debug("pdf page markers sparse, synthesizing", "found", found, "pages", pages)
	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("pdf text extraction: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, fmt.Errorf("pdf text extraction: empty text")
	}

	return &Extraction{Text: SynthesizeMarkers(string(raw), pages), Pages: pages}, nil
}

// SynthesizeMarkers cleans text whose page boundaries were lost and inserts
// [Page N] markers at proportional character offsets. Cleaning first collapses
// "Page N" header lines and bare page-number lines into markers; if the text
// then carries at least half the expected markers those are trusted, otherwise
// all markers are stripped and the text is partitioned into equal-length
// slices, one per page.
func SynthesizeMarkers(text string, pages int) string {
	if pages < 1 {
		pages = 1
	}

	cleaned := pageHeaderRe.ReplaceAllString(text, "[Page $1]")
	cleaned = bareNumberRe.ReplaceAllString(cleaned, "[Page $1]")
	cleaned = blankRunRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = trimEmptyLines(cleaned)

	if found := len(pageMarkerRe.FindAllString(cleaned, -1)); found*2 >= pages {
		return cleaned
	}

	// Markers from cleaning are unreliable; strip them and partition equally.
	stripped := pageMarkerRe.ReplaceAllString(cleaned, "")
	stripped = trimEmptyLines(stripped)
	if stripped == "" {
		return "[Page 1]"
	}

	// Partition boundaries snap to rune starts so multi-byte characters are
	// never split across pages; both sides of a cut snap from the same byte
	// offset, so no text is lost.
	sliceLen := (len(stripped) + pages - 1) / pages
	var b strings.Builder
	for i := 0; i < pages; i++ {
		start := snapToRune(stripped, i*sliceLen)
		if start >= len(stripped) {
			break
		}
		end := (i + 1) * sliceLen
		if end > len(stripped) {
			end = len(stripped)
		}
		fmt.Fprintf(&b, "[Page %d]\n%s", i+1, stripped[start:snapToRune(stripped, end)])
	}
	return b.String()
}

func trimEmptyLines(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if trimmed := strings.TrimRight(line, " \t"); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
