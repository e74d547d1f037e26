package ingest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// CharsPerToken is the fixed characters-per-token approximation used to turn
// token-denominated sizes into character windows.
const CharsPerToken = 4

// Defaults for chunk size and overlap, in tokens.
const (
	DefaultChunkTokens   = 500
	DefaultOverlapTokens = 100
)

// ChunkDescriptor is one window of document text with its position and page
// attribution.
type ChunkDescriptor struct {
	Index            int
	Content          string
	CharStart        int
	CharEnd          int
	PageNumber       int
	PageMarkersFound int
}

type pageMarker struct {
	offset int
	page   int
}

// ChunkText slides a fixed-size window across the marked-up text. Each window
// of chunkTokens*4 characters becomes a chunk and the window advances by
// (chunkTokens-overlapTokens)*4 characters, so adjacent chunks overlap.
// Whitespace-only windows are dropped without consuming an index.
//
// Page attribution is center-based: a chunk belongs to the page whose marker
// is nearest at-or-before the chunk's character midpoint, so chunks straddling
// a boundary land on the page containing the majority of their content. Pages
// are clamped into [1, totalPages]; with no markers at all every chunk is
// page 1.
func ChunkText(text string, chunkTokens, overlapTokens, totalPages int) ([]ChunkDescriptor, error) {
	if chunkTokens <= 0 {
		chunkTokens = DefaultChunkTokens
	}
	if overlapTokens < 0 {
		overlapTokens = DefaultOverlapTokens
	}
	if overlapTokens >= chunkTokens {
		return nil, fmt.Errorf("overlap (%d tokens) must be smaller than chunk size (%d tokens)", overlapTokens, chunkTokens)
	}
	if totalPages < 1 {
		totalPages = 1
	}

	chunkChars := chunkTokens * CharsPerToken
	step := (chunkTokens - overlapTokens) * CharsPerToken

	markers := scanPageMarkers(text)

	var chunks []ChunkDescriptor
	idx := 0
	for start := 0; start < len(text); start += step {
		end := start + chunkChars
		if end > len(text) {
			end = len(text)
		}
		// Both offsets snap back to rune boundaries so multi-byte characters
		// are never split. Adjacent windows snap from the same byte offsets,
		// keeping coverage contiguous.
		ws := snapToRune(text, start)
		we := snapToRune(text, end)
		content := text[ws:we]
		if strings.TrimSpace(content) == "" {
			continue
		}

		mid := ws + (we-ws)/2
		chunks = append(chunks, ChunkDescriptor{
			Index:            idx,
			Content:          content,
			CharStart:        ws,
			CharEnd:          we,
			PageNumber:       pageAt(markers, mid, totalPages),
			PageMarkersFound: len(markers),
		})
		idx++
	}
	return chunks, nil
}

// snapToRune moves a byte offset back to the start of the rune it falls
// inside. Offsets at the string bounds are returned unchanged.
func snapToRune(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// scanPageMarkers returns all [Page N] marker positions in offset order.
func scanPageMarkers(text string) []pageMarker {
	locs := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	markers := make([]pageMarker, 0, len(locs))
	for _, loc := range locs {
		page, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		markers = append(markers, pageMarker{offset: loc[0], page: page})
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].offset < markers[j].offset })
	return markers
}

// pageAt finds the page whose marker is nearest at-or-before offset, clamped
// into [1, totalPages].
func pageAt(markers []pageMarker, offset, totalPages int) int {
	page := 1
	// First marker index strictly past the offset; the one before it governs.
	i := sort.Search(len(markers), func(i int) bool { return markers[i].offset > offset })
	if i > 0 {
		page = markers[i-1].page
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	return page
}

// ApproxTokens is a cheap token estimator (~4 chars per token).
func ApproxTokens(s string) int {
	n := len(s)
	if n <= 0 {
		return 0
	}
	return (n + CharsPerToken - 1) / CharsPerToken
}
