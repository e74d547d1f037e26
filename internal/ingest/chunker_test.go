package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkTextWindowsAreContiguous(t *testing.T) {
	text := strings.Repeat("abcdefghij", 100) // 1000 chars, no whitespace gaps

	// chunkTokens=10, overlap=2 -> 40-char windows advancing by 32.
	chunks, err := ChunkText(text, 10, 2, 1)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}

	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d: index = %d", i, ch.Index)
		}
		if want := i * 32; ch.CharStart != want {
			t.Errorf("chunk %d: CharStart = %d, want %d", i, ch.CharStart, want)
		}
		wantEnd := ch.CharStart + 40
		if wantEnd > len(text) {
			wantEnd = len(text)
		}
		if ch.CharEnd != wantEnd {
			t.Errorf("chunk %d: CharEnd = %d, want %d", i, ch.CharEnd, wantEnd)
		}
		if ch.Content != text[ch.CharStart:ch.CharEnd] {
			t.Errorf("chunk %d: content does not match its offsets", i)
		}
	}

	// Adjacent chunks share the 8-char overlap region.
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.CharStart >= prev.CharEnd {
			t.Errorf("chunks %d and %d do not overlap", i-1, i)
		}
	}
}

func TestChunkTextOverlapMustBeSmallerThanChunk(t *testing.T) {
	if _, err := ChunkText("some text", 10, 10, 1); err == nil {
		t.Fatal("expected error for overlap == chunk size")
	}
	if _, err := ChunkText("some text", 10, 20, 1); err == nil {
		t.Fatal("expected error for overlap > chunk size")
	}
}

func TestChunkTextSkipsWhitespaceWindowsWithoutConsumingIndex(t *testing.T) {
	// A long whitespace run in the middle produces at least one all-blank
	// window that must be dropped while keeping indices contiguous.
	text := strings.Repeat("x", 100) + strings.Repeat(" ", 300) + strings.Repeat("y", 100)

	chunks, err := ChunkText(text, 10, 0, 1) // 40-char windows, no overlap
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}

	for i, ch := range chunks {
		if ch.Index != i {
			t.Fatalf("chunk indices not contiguous: chunk %d has index %d", i, ch.Index)
		}
		if strings.TrimSpace(ch.Content) == "" {
			t.Fatalf("whitespace-only chunk survived at index %d", i)
		}
	}
}

func TestChunkTextKeepsMultiByteRunesIntact(t *testing.T) {
	// Three-byte runes guarantee every 40-byte window boundary falls mid-rune
	// unless it is snapped.
	text := strings.Repeat("日本語のテキスト例です", 50)

	chunks, err := ChunkText(text, 10, 0, 1) // 40-char windows, no overlap
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}

	var rejoined strings.Builder
	for _, ch := range chunks {
		if !utf8.ValidString(ch.Content) {
			t.Fatalf("chunk %d content is invalid UTF-8", ch.Index)
		}
		if ch.Content != text[ch.CharStart:ch.CharEnd] {
			t.Fatalf("chunk %d: content does not match its offsets", ch.Index)
		}
		rejoined.WriteString(ch.Content)
	}
	// Snapped windows must still cover the whole text without gaps.
	if rejoined.String() != text {
		t.Error("chunks do not reassemble into the original text")
	}

	// Overlapping windows must stay rune-aligned and contiguous too.
	chunks, err = ChunkText(text, 10, 2, 1)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	for i, ch := range chunks {
		if !utf8.ValidString(ch.Content) {
			t.Fatalf("overlapping chunk %d content is invalid UTF-8", ch.Index)
		}
		if i > 0 && ch.CharStart >= chunks[i-1].CharEnd {
			t.Fatalf("chunks %d and %d do not overlap", i-1, i)
		}
	}
}

func TestChunkTextPageAttribution(t *testing.T) {
	page1 := "[Page 1]\n" + strings.Repeat("a", 200)
	page2 := "[Page 2]\n" + strings.Repeat("b", 200)
	text := page1 + page2

	chunks, err := ChunkText(text, 25, 0, 2) // 100-char windows
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}

	for _, ch := range chunks {
		mid := ch.CharStart + (ch.CharEnd-ch.CharStart)/2
		wantPage := 1
		if mid >= len(page1) {
			wantPage = 2
		}
		if ch.PageNumber != wantPage {
			t.Errorf("chunk %d (mid %d): page = %d, want %d", ch.Index, mid, ch.PageNumber, wantPage)
		}
		if ch.PageMarkersFound != 2 {
			t.Errorf("chunk %d: PageMarkersFound = %d, want 2", ch.Index, ch.PageMarkersFound)
		}
	}
}

func TestChunkTextNoMarkersDefaultsToPageOne(t *testing.T) {
	chunks, err := ChunkText(strings.Repeat("word ", 500), 50, 10, 7)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	for _, ch := range chunks {
		if ch.PageNumber != 1 {
			t.Errorf("chunk %d: page = %d, want 1", ch.Index, ch.PageNumber)
		}
		if ch.PageMarkersFound != 0 {
			t.Errorf("chunk %d: PageMarkersFound = %d, want 0", ch.Index, ch.PageMarkersFound)
		}
	}
}

func TestChunkTextClampsPagesBeyondTotal(t *testing.T) {
	// A bogus marker claiming page 99 must clamp to totalPages.
	text := "[Page 99]\n" + strings.Repeat("z", 100)
	chunks, err := ChunkText(text, 50, 0, 3)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks")
	}
	if got := chunks[0].PageNumber; got != 3 {
		t.Errorf("page = %d, want clamped 3", got)
	}
}

func TestApproxTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := ApproxTokens(tc.in); got != tc.want {
			t.Errorf("ApproxTokens(%d chars) = %d, want %d", len(tc.in), got, tc.want)
		}
	}
}
