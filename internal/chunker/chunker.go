// Package chunker splits extracted document text into overlapping,
// paragraph and sentence aligned segments sized for embedding.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxSize = 1800
	DefaultOverlap = 400
	// MinChunkSize is the shortest chunk kept; shorter remainders are dropped.
	MinChunkSize = 50

	// A forced split only backs up to a space found past this fraction of MaxSize.
	spaceCutRatio = 0.7
	// Overlap is word-aligned only when the first space falls inside this leading fraction.
	wordAlignRatio = 0.3
)

var (
	paragraphBreak = regexp.MustCompile(`\n\n+`)
	sentence       = regexp.MustCompile(`[^.!?]+[.!?]+`)
)

// Chunker splits text. Sizes are measured in characters, not bytes.
type Chunker struct {
	MaxSize int
	Overlap int
}

// New returns a Chunker, substituting defaults for non-positive values.
// Overlap is clamped below half of maxSize so forced splits always advance.
func New(maxSize, overlap int) *Chunker {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap > maxSize/2 {
		overlap = maxSize / 2
	}
	return &Chunker{MaxSize: maxSize, Overlap: overlap}
}

// Chunk returns the ordered chunks of text. Every chunk is trimmed, at least
// MinChunkSize characters and at most MaxSize characters. Each chunk after the
// first starts with the tail of its predecessor.
func (c *Chunker) Chunk(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var chunks []string
	current := ""
	prevEnd := ""

	for _, raw := range paragraphBreak.Split(text, -1) {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}

		if runeLen(p) > c.MaxSize {
			if current != "" {
				chunks = append(chunks, current)
				prevEnd = lastN(current, c.Overlap)
				current = ""
			}
			parts := c.splitParagraph(p)
			chunks = append(chunks, parts...)
			if len(parts) > 0 {
				prevEnd = lastN(parts[len(parts)-1], c.Overlap)
			}
			continue
		}

		if current != "" {
			joined := current + "\n\n" + p
			if runeLen(joined) <= c.MaxSize {
				current = joined
				continue
			}
			chunks = append(chunks, current)
			prevEnd = lastN(current, c.Overlap)
		}
		current = c.seed(prevEnd, "\n\n", p)
	}
	if current != "" {
		chunks = append(chunks, current)
	}

	out := chunks[:0]
	for _, ch := range chunks {
		ch = strings.TrimSpace(ch)
		if runeLen(ch) >= MinChunkSize {
			out = append(out, ch)
		}
	}
	return out
}

// splitParagraph packs the sentences of an oversized paragraph.
func (c *Chunker) splitParagraph(p string) []string {
	var out []string
	current := ""
	prevEnd := ""

	for _, s := range sentences(p) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		if current != "" {
			joined := current + " " + s
			if runeLen(joined) <= c.MaxSize {
				current = joined
				continue
			}
			out = append(out, current)
			prevEnd = lastN(current, c.Overlap)
			current = ""
		}

		if runeLen(s) > c.MaxSize {
			forced := c.forceSplit(s)
			out = append(out, forced...)
			if len(forced) > 0 {
				prevEnd = lastN(forced[len(forced)-1], c.Overlap)
			}
			continue
		}
		current = c.seed(prevEnd, " ", s)
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

// forceSplit cuts text into windows of MaxSize, preferring to end on a space
// and stepping back Overlap characters between windows.
func (c *Chunker) forceSplit(text string) []string {
	r := []rune(text)
	var out []string
	start := 0
	for start < len(r) {
		end := start + c.MaxSize
		if end >= len(r) {
			end = len(r)
		} else if sp := lastSpace(r, end); sp > start+int(float64(c.MaxSize)*spaceCutRatio) {
			end = sp
		}

		if piece := strings.TrimSpace(string(r[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(r) {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// seed prefixes next with the tail of prev, shrinking the tail so the result
// never exceeds MaxSize.
func (c *Chunker) seed(prev, sep, next string) string {
	if prev == "" {
		return next
	}
	if runeLen(prev)+runeLen(sep)+runeLen(next) <= c.MaxSize {
		return prev + sep + next
	}
	room := c.MaxSize - runeLen(next) - runeLen(sep)
	if room <= 0 {
		return next
	}
	tail := lastN(prev, room)
	if tail == "" {
		return next
	}
	return tail + sep + next
}

// sentences splits on terminal punctuation, keeping any unterminated tail.
func sentences(p string) []string {
	idx := sentence.FindAllStringIndex(p, -1)
	if len(idx) == 0 {
		return []string{p}
	}
	out := make([]string, 0, len(idx)+1)
	for _, m := range idx {
		out = append(out, p[m[0]:m[1]])
	}
	if tail := strings.TrimSpace(p[idx[len(idx)-1][1]:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// lastN returns the last n characters of text, starting at a word boundary
// when one is close to the cut.
func lastN(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	sub := r[len(r)-n:]
	for i, ch := range sub {
		if ch == ' ' {
			if i > 0 && float64(i) < float64(n)*wordAlignRatio {
				return string(sub[i+1:])
			}
			break
		}
	}
	return string(sub)
}

func lastSpace(r []rune, at int) int {
	if at >= len(r) {
		at = len(r) - 1
	}
	for i := at; i >= 0; i-- {
		if r[i] == ' ' {
			return i
		}
	}
	return -1
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
