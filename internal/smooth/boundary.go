package smooth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunking selects the boundary at which buffered text may be split.
type Chunking int

const (
	ChunkWord Chunking = iota
	ChunkLine
)

func (c Chunking) String() string {
	switch c {
	case ChunkWord:
		return "word"
	case ChunkLine:
		return "line"
	default:
		return fmt.Sprintf("chunking(%d)", int(c))
	}
}

// ParseChunking maps "word" and "line" to a Chunking. Empty means word.
func ParseChunking(s string) (Chunking, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "word":
		return ChunkWord, nil
	case "line":
		return ChunkLine, nil
	default:
		return 0, fmt.Errorf("unknown chunking %q (want word or line)", s)
	}
}

// matcher returns the length of the boundary-matching prefix of s, or 0.
type matcher func(s string) int

func (c Chunking) matcher() matcher {
	if c == ChunkLine {
		return matchLine
	}
	return matchWord
}

// isSpace mirrors the whitespace class of ECMAScript regular expressions,
// which adds U+FEFF to the Unicode set and leaves out U+0085.
func isSpace(r rune) bool {
	if r == '\u0085' {
		return false
	}
	return unicode.IsSpace(r) || r == '\uFEFF'
}

// skip advances past the run of runes starting at i whose whitespace-ness equals space.
func skip(s string, i int, space bool) int {
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if isSpace(r) != space {
			break
		}
		i += size
	}
	return i
}

// matchWord matches optional leading whitespace, a run of non-whitespace and
// the whole run of whitespace after it. A word not yet followed by whitespace
// does not match.
func matchWord(s string) int {
	wordStart := skip(s, 0, true)
	wordEnd := skip(s, wordStart, false)
	if wordEnd == wordStart {
		return 0
	}
	end := skip(s, wordEnd, true)
	if end == wordEnd {
		return 0
	}
	return end
}

// matchLine matches everything up to and including the first newline.
func matchLine(s string) int {
	return strings.IndexByte(s, '\n') + 1
}
