// Package tokens bounds text by model token count.
package tokens

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Ellipsis is appended to text that was cut.
const Ellipsis = "..."

// DefaultEncoding is the BPE encoding used when no model-specific encoding is known.
const DefaultEncoding = "cl100k_base"

// Truncator cuts text to at most a given number of tokens.
type Truncator interface {
	Truncate(text string, maxTokens int) string
}

// Tiktoken truncates using an OpenAI BPE encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

var _ Truncator = (*Tiktoken)(nil)

// NewTiktoken loads the encoding for the given model, falling back to
// DefaultEncoding for models tiktoken does not know (e.g. Gemini).
func NewTiktoken(model string) (*Tiktoken, error) {
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return &Tiktoken{enc: enc}, nil
		}
	}
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("loading %s encoding: %w", DefaultEncoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Truncate returns text unchanged if it fits, otherwise its first maxTokens
// tokens followed by Ellipsis.
func (t *Tiktoken) Truncate(text string, maxTokens int) string {
	toks := t.enc.Encode(text, nil, nil)
	if len(toks) <= maxTokens {
		return text
	}
	if maxTokens < 0 {
		maxTokens = 0
	}
	return trimPartialRune(t.enc.Decode(toks[:maxTokens])) + Ellipsis
}

// trimPartialRune drops a trailing incomplete UTF-8 sequence left by
// cutting between the tokens of one multi-byte character.
func trimPartialRune(s string) string {
	for i := 0; i < utf8.UTFMax-1 && s != ""; i++ {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

var (
	defaultOnce  sync.Once
	defaultTrunc Truncator
)

// Default returns a process-wide tiktoken truncator, or a whitespace
// truncator if the BPE data cannot be loaded.
func Default() Truncator {
	defaultOnce.Do(func() {
		t, err := NewTiktoken("")
		if err != nil {
			slog.Warn("Tiktoken encoding unavailable, counting words instead", "encoding", DefaultEncoding, "error", err)
			defaultTrunc = Words{}
			return
		}
		defaultTrunc = t
	})
	return defaultTrunc
}

// Words approximates tokens as whitespace-separated words. It needs no
// external data and is used when an encoding is unavailable.
type Words struct{}

var _ Truncator = Words{}

func (Words) Truncate(text string, maxTokens int) string {
	if maxTokens < 0 {
		maxTokens = 0
	}
	fields := strings.Fields(text)
	if len(fields) <= maxTokens {
		return text
	}
	return strings.Join(fields[:maxTokens], " ") + Ellipsis
}
