package indexer

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveChunker splits on the coarsest separator that yields pieces under
// Size, falling back to finer ones, then merges pieces into chunks that
// overlap by about Overlap characters.
type RecursiveChunker struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewRecursiveChunker creates a chunker; zero values take the defaults.
func NewRecursiveChunker(size, overlap int) *RecursiveChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &RecursiveChunker{Size: size, Overlap: overlap, Separators: defaultSeparators}
}

// Split returns the chunks of text, trimmed and non-empty.
func (c *RecursiveChunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	seps := c.Separators
	if len(seps) == 0 {
		seps = defaultSeparators
	}
	return c.split(text, seps)
}

func (c *RecursiveChunker) split(text string, seps []string) []string {
	// Pick the first separator present in text.
	sep := seps[len(seps)-1]
	var rest []string
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = splitRunes(text, c.Size)
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, pending []string
	for _, p := range pieces {
		if runeLen(p) <= c.Size {
			pending = append(pending, p)
			continue
		}
		if len(pending) > 0 {
			out = append(out, c.merge(pending, sep)...)
			pending = nil
		}
		if len(rest) == 0 {
			out = append(out, strings.TrimSpace(p))
			continue
		}
		out = append(out, c.split(p, rest)...)
	}
	if len(pending) > 0 {
		out = append(out, c.merge(pending, sep)...)
	}
	return nonEmpty(out)
}

// merge packs small pieces into chunks of at most Size runes, carrying the
// tail of each chunk into the next one.
func (c *RecursiveChunker) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		extra := 0
		if len(current) > 0 {
			extra = sepLen
		}
		if total+n+extra > c.Size && len(current) > 0 {
			out = append(out, strings.Join(current, sep))
			// Drop from the front until the carried tail fits the overlap.
			for total > c.Overlap || (total+n+sepLen > c.Size && total > 0) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
				if len(current) == 0 {
					total = 0
					break
				}
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, p)
		total += n
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, sep))
	}
	return out
}

func splitRunes(s string, size int) []string {
	r := []rune(s)
	var out []string
	for len(r) > 0 {
		n := size
		if n > len(r) {
			n = len(r)
		}
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out
}

func runeLen(s string) int { return len([]rune(s)) }

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// hashChunk derives a stable chunk id from its namespace and position.
func hashChunk(namespace string, seq int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", namespace, seq)))
	return fmt.Sprintf("%x", h[:16])
}
