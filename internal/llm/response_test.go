package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponse_StringContent(t *testing.T) {
	raw := `{"choices":[{"message":{"content":"hello world"}}]}`
	r := NewResponse([]byte(raw))
	assert.True(t, r.HasChoices())
	assert.Equal(t, "hello world", r.Content())
	assert.Empty(t, r.Reasoning())
}

func TestResponse_BlockContent(t *testing.T) {
	// thinking 块与 text 块混排，顺序不影响提取结果。
	raw := `{"choices":[{"message":{"content":[
		{"type":"thinking","thinking":"let me think"},
		{"type":"text","text":"final answer"}
	]}}]}`
	r := NewResponse([]byte(raw))
	assert.Equal(t, "final answer", r.Content())
	assert.Equal(t, "let me think", r.Reasoning())

	reversed := `{"choices":[{"message":{"content":[
		{"type":"text","text":"final answer"},
		{"type":"thinking","thinking":"let me think"}
	]}}]}`
	r = NewResponse([]byte(reversed))
	assert.Equal(t, "final answer", r.Content())
	assert.Equal(t, "let me think", r.Reasoning())
}

func TestResponse_MultipleTextBlocks(t *testing.T) {
	raw := `{"choices":[{"message":{"content":[
		{"type":"text","text":"part one"},
		{"type":"text","text":"part two"}
	]}}]}`
	r := NewResponse([]byte(raw))
	assert.Equal(t, "part one\npart two", r.Content())
}

func TestResponse_ReasoningFields(t *testing.T) {
	raw := `{"choices":[{"message":{"content":"ok","reasoning_content":"deepseek trace"}}]}`
	r := NewResponse([]byte(raw))
	assert.Equal(t, "deepseek trace", r.Reasoning())

	raw = `{"choices":[{"message":{"content":"ok","reasoning":"openai trace"}}]}`
	r = NewResponse([]byte(raw))
	assert.Equal(t, "openai trace", r.Reasoning())
}

func TestResponse_GeminiParts(t *testing.T) {
	raw := `{"choices":[{"message":{"content":"ok","parts":[
		{"thought":true,"text":"gemini thought"},
		{"text":"visible"}
	]}}]}`
	r := NewResponse([]byte(raw))
	assert.Equal(t, "gemini thought", r.Reasoning())
}

func TestResponse_ReasoningAccumulates(t *testing.T) {
	raw := `{"choices":[{"message":{
		"reasoning":"first",
		"content":[{"type":"thinking","thinking":"second"},{"type":"text","text":"body"}]
	}}]}`
	r := NewResponse([]byte(raw))
	assert.Equal(t, "first\n\nsecond", r.Reasoning())
}

func TestResponse_MalformedNeverPanics(t *testing.T) {
	for _, raw := range []string{
		"",
		"not json",
		`{"choices":[]}`,
		`{"choices":[{"message":{"content":{"weird":"shape"}}}]}`,
		`{"choices":[{}]}`,
	} {
		r := NewResponse([]byte(raw))
		assert.Empty(t, r.Content(), "input: %s", raw)
		assert.Empty(t, r.Reasoning(), "input: %s", raw)
	}
	var nilResp *Response
	assert.Empty(t, nilResp.Content())
	assert.Empty(t, nilResp.Reasoning())
	assert.False(t, nilResp.HasChoices())
}
