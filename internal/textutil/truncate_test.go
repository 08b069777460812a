package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "...", Truncate("abc", 0))
	assert.Equal(t, "...", Truncate("abc", -1))
}

func TestTruncate_KeepsMultibyteRunesWhole(t *testing.T) {
	s := "a" + strings.Repeat("é", 200)
	out := Truncate(s, 300)
	assert.True(t, utf8.ValidString(out), "tail=%q", out[len(out)-6:])
	assert.Equal(t, "a"+strings.Repeat("é", 149)+"...", out)

	out = Truncate("日本語のエラー", 4)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "日...", out)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", Clip("abcdef", 3))
	out := Clip("a"+strings.Repeat("é", 200), 300)
	assert.True(t, utf8.ValidString(out))
	assert.Len(t, out, 299)
}
