package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", Clip("abc", 10))
	assert.Equal(t, "ab", Clip("abcd", 2))
	assert.Equal(t, "", Clip("abc", 0))
	// 多字节字符按 rune 截取，不会截出半个字符。
	assert.Equal(t, "你好", Clip("你好世界", 2))
	assert.Len(t, Clip(strings.Repeat("x", 3000), 2000), 2000)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
}
