package tokens

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestWordsTruncate(t *testing.T) {
	tests := []struct {
		text string
		max  int
		want string
	}{
		{"one two three", 5, "one two three"},
		{"one two three", 3, "one two three"},
		{"one two three four", 2, "one two..."},
		{"one", 0, "..."},
		{"", 0, ""},
	}
	for _, tt := range tests {
		if got := (Words{}).Truncate(tt.text, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
		}
	}
}

func TestTrimPartialRune(t *testing.T) {
	euro := "€" // 3 bytes
	tests := []struct {
		in, want string
	}{
		{"abc", "abc"},
		{"ab" + euro, "ab" + euro},
		{"ab" + euro[:1], "ab"},
		{"ab" + euro[:2], "ab"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := trimPartialRune(tt.in); got != tt.want {
			t.Errorf("trimPartialRune(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIntegrationTiktokenTruncateMultiByte(t *testing.T) {
	tk, err := NewTiktoken("gpt-4o-mini")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	text := strings.Repeat("日本語のテキスト🙂", 50)
	for n := 1; n < 40; n++ {
		if got := tk.Truncate(text, n); !utf8.ValidString(got) {
			t.Fatalf("Truncate(_, %d) produced invalid UTF-8: %q", n, got)
		}
	}
}

func TestIntegrationTiktokenTruncate(t *testing.T) {
	tk, err := NewTiktoken("gpt-4o-mini")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}

	short := "hello world"
	if got := tk.Truncate(short, 100); got != short {
		t.Errorf("short text changed: %q", got)
	}

	long := strings.Repeat("token ", 500)
	got := tk.Truncate(long, 10)
	if !strings.HasSuffix(got, Ellipsis) {
		t.Errorf("truncated text should end with %q: %q", Ellipsis, got)
	}
	if len(got) >= len(long) {
		t.Errorf("text was not shortened: %d >= %d", len(got), len(long))
	}
}
