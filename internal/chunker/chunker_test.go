package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func paragraph(id, words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = fmt.Sprintf("p%dw%d", id, i)
	}
	return strings.Join(parts, " ")
}

func assertBounds(t *testing.T, c *Chunker, chunks []string) {
	t.Helper()
	for i, ch := range chunks {
		n := utf8.RuneCountInString(ch)
		if n < MinChunkSize {
			t.Errorf("chunk %d: expected at least %d chars, got %d", i, MinChunkSize, n)
		}
		if n > c.MaxSize {
			t.Errorf("chunk %d: expected at most %d chars, got %d", i, c.MaxSize, n)
		}
		if ch != strings.TrimSpace(ch) {
			t.Errorf("chunk %d is not trimmed", i)
		}
	}
}

func TestChunk_Empty(t *testing.T) {
	c := New(0, -1)
	if got := c.Chunk(""); len(got) != 0 {
		t.Errorf("Expected no chunks, got %d", len(got))
	}
	if got := c.Chunk("too short to keep"); len(got) != 0 {
		t.Errorf("Expected short text to be dropped, got %v", got)
	}
}

func TestChunk_Defaults(t *testing.T) {
	c := New(0, -1)
	if c.MaxSize != DefaultMaxSize || c.Overlap != DefaultOverlap {
		t.Errorf("Expected defaults %d/%d, got %d/%d", DefaultMaxSize, DefaultOverlap, c.MaxSize, c.Overlap)
	}
}

func TestChunk_PacksSmallParagraphs(t *testing.T) {
	c := New(1800, 400)
	text := "First paragraph with enough words to matter.\r\n\r\nSecond paragraph, also short.\r\rThird one closes it out."
	got := c.Chunk(text)
	if len(got) != 1 {
		t.Fatalf("Expected 1 chunk, got %d: %q", len(got), got)
	}
	want := "First paragraph with enough words to matter.\n\nSecond paragraph, also short.\n\nThird one closes it out."
	if got[0] != want {
		t.Errorf("Expected %q, got %q", want, got[0])
	}
}

func TestChunk_ParagraphOverlap(t *testing.T) {
	c := New(1800, 400)
	var paras []string
	for i := 0; i < 12; i++ {
		paras = append(paras, paragraph(i, 80))
	}
	chunks := c.Chunk(strings.Join(paras, "\n\n"))
	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}
	assertBounds(t, c, chunks)

	for i := 1; i < len(chunks); i++ {
		head, _, ok := strings.Cut(chunks[i], "\n\n")
		if !ok {
			t.Fatalf("chunk %d has no overlap separator", i)
		}
		if !strings.HasSuffix(chunks[i-1], head) {
			t.Errorf("chunk %d head %q is not a suffix of chunk %d", i, head, i-1)
		}
		if strings.HasPrefix(head, " ") {
			t.Errorf("chunk %d overlap is not word aligned: %q", i, head)
		}
	}

	// Every paragraph survives in order.
	joined := strings.Join(chunks, "\n\n")
	last := -1
	for i, p := range paras {
		at := strings.Index(joined, p)
		if at < 0 {
			t.Fatalf("paragraph %d missing from output", i)
		}
		if at < last {
			t.Errorf("paragraph %d out of order", i)
		}
		last = at
	}
}

func TestChunk_SentenceSplit(t *testing.T) {
	c := New(300, 60)
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "Sentence number %d talks about topic %d. ", i, i)
	}
	sb.WriteString("and a trailing clause without terminal punctuation")

	chunks := c.Chunk(sb.String())
	if len(chunks) < 3 {
		t.Fatalf("Expected several chunks, got %d", len(chunks))
	}
	assertBounds(t, c, chunks)

	if !strings.Contains(chunks[len(chunks)-1], "trailing clause without terminal punctuation") {
		t.Errorf("Expected unterminated tail to be kept, last chunk %q", chunks[len(chunks)-1])
	}
	if !strings.HasPrefix(chunks[0], "Sentence number 0 talks") {
		t.Errorf("Unexpected first chunk %q", chunks[0])
	}
}

func TestChunk_ForceSplitHardCut(t *testing.T) {
	c := New(1800, 400)
	chunks := c.Chunk(strings.Repeat("a", 4000))

	want := []int{1800, 1800, 1200}
	if len(chunks) != len(want) {
		t.Fatalf("Expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, n := range want {
		if len(chunks[i]) != n {
			t.Errorf("chunk %d: expected %d chars, got %d", i, n, len(chunks[i]))
		}
	}
}

func TestChunk_ForceSplitOnSpace(t *testing.T) {
	c := New(500, 100)
	long := paragraph(7, 600) // one "sentence" with no punctuation
	chunks := c.Chunk(long)
	if len(chunks) < 5 {
		t.Fatalf("Expected the sentence to be force split, got %d chunks", len(chunks))
	}
	assertBounds(t, c, chunks)
	for i, ch := range chunks[:len(chunks)-1] {
		if strings.HasSuffix(ch, "p7w") {
			t.Errorf("chunk %d was cut inside a word: %q", i, ch[len(ch)-10:])
		}
	}
}

func TestChunk_CountsCharactersNotBytes(t *testing.T) {
	c := New(100, 20)
	text := strings.Repeat("é", 90)
	chunks := c.Chunk(text)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk for 90 characters, got %d", len(chunks))
	}
}

func TestLastN(t *testing.T) {
	tests := []struct {
		name string
		text string
		n    int
		want string
	}{
		{"shorter than n", "hello world", 20, "hello world"},
		{"aligns to word", "alpha beta gamma delta", 13, "gamma delta"},
		{"space too far keeps raw cut", "abcdefghijklmnop qr", 18, "bcdefghijklmnop qr"},
		{"space at start keeps raw cut", "xx yyyy", 5, " yyyy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastN(tt.text, tt.n); got != tt.want {
				t.Errorf("lastN(%q, %d) = %q, want %q", tt.text, tt.n, got, tt.want)
			}
		})
	}
}
