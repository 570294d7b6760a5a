// Package textchunk splits large text into bounded, overlapping windows for
// language-model calls with a context limit, and markdown-like text into
// titled sections for summarization.
package textchunk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chunk is one window of text. Text includes the overlap shared with the
// previous chunk; Overlap is the rune length of that shared prefix
// (including its trailing space), so Text minus the first Overlap runes is
// the chunk's fresh content.
type Chunk struct {
	Text    string
	Overlap int
}

// Fresh returns the non-overlapping portion of the chunk.
func (c Chunk) Fresh() string {
	r := []rune(c.Text)
	if c.Overlap <= 0 || c.Overlap >= len(r) {
		return c.Text
	}
	return string(r[c.Overlap:])
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalize collapses all whitespace runs to single spaces. Original line
// breaks are destroyed on purpose: the consumers are prompt windows, not
// layout-sensitive text.
func normalize(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// Split cuts text into chunks of at most size runes, splitting only on
// space boundaries so words are never truncated, with neighboring chunks
// sharing up to overlap runes of context. It is a pure function: splitting
// already-normalized output again with the same parameters yields the same
// boundaries. A single word longer than size becomes its own oversized
// chunk rather than being cut.
func Split(text string, size, overlap int) []Chunk {
	norm := normalize(text)
	if norm == "" {
		return nil
	}
	if size <= 0 || utf8.RuneCountInString(norm) <= size {
		return []Chunk{{Text: norm}}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	words := strings.Fields(norm)
	var chunks []Chunk
	i := 0
	for i < len(words) {
		ov := overlapTail(words, i, overlap)
		cur := append([]string(nil), ov...)
		curLen := joinedLen(cur)

		fresh := 0
		for i < len(words) {
			wl := utf8.RuneCountInString(words[i])
			next := curLen + wl
			if curLen > 0 {
				next++ // joining space
			}
			if fresh > 0 && next > size {
				break
			}
			cur = append(cur, words[i])
			curLen = next
			fresh++
			i++
		}

		ovLen := joinedLen(ov)
		if ovLen > 0 {
			ovLen++ // the space between overlap and fresh content
		}
		chunks = append(chunks, Chunk{
			Text:    strings.Join(cur, " "),
			Overlap: ovLen,
		})
	}
	return chunks
}

// overlapTail returns the words preceding index i whose joined length fits
// within overlap runes, aligned to word boundaries.
func overlapTail(words []string, i, overlap int) []string {
	if i == 0 || overlap <= 0 {
		return nil
	}
	j := i
	total := 0
	for j > 0 {
		wl := utf8.RuneCountInString(words[j-1])
		add := wl
		if total > 0 {
			add++
		}
		if total+add > overlap {
			break
		}
		total += add
		j--
	}
	return words[j:i]
}

func joinedLen(words []string) int {
	n := 0
	for k, w := range words {
		if k > 0 {
			n++
		}
		n += utf8.RuneCountInString(w)
	}
	return n
}

// Reconstruct joins the fresh portions of consecutive chunks back into the
// whitespace-normalized source text.
func Reconstruct(chunks []Chunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Fresh())
	}
	return strings.Join(parts, " ")
}
