package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// 中文说明：
// Response 包装模型原始响应，按供应商差异提取正文与思维链。
// 所有提取都是尽力而为：结构不符合预期时返回空串，绝不报错。

type Response struct {
	raw []byte
}

func NewResponse(raw []byte) *Response {
	return &Response{raw: raw}
}

// Raw 返回原始响应文本。
func (r *Response) Raw() string {
	if r == nil {
		return ""
	}
	return string(r.raw)
}

func (r *Response) message() gjson.Result {
	if r == nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.raw, "choices.0.message")
}

// Content 提取首个 choice 的正文。
// OpenAI 系返回字符串；Claude 系返回带类型标签的块数组，
// 取其中 type=="text" 的块按原顺序以换行拼接。
func (r *Response) Content() string {
	msg := r.message()
	if !msg.IsObject() {
		return ""
	}
	content := msg.Get("content")
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		var parts []string
		content.ForEach(func(_, block gjson.Result) bool {
			if block.IsObject() && block.Get("type").String() == "text" {
				parts = append(parts, block.Get("text").String())
			}
			return true
		})
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// Reasoning 提取思维链，多供应商兼容，按固定顺序累积全部命中：
//  1. message.reasoning / message.reasoning_content（OpenAI o 系 / DeepSeek R1 / Qwen QwQ）
//  2. content 数组里的 thinking 块（Claude）
//  3. parts 数组里 thought=true 的条目（Gemini）
//
// 非空结果以空行拼接；全部缺失返回空串。
func (r *Response) Reasoning() string {
	msg := r.message()
	if !msg.IsObject() {
		return ""
	}
	var parts []string
	for _, field := range []string{"reasoning", "reasoning_content"} {
		v := msg.Get(field)
		if v.Type == gjson.String {
			if s := strings.TrimSpace(v.String()); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if content := msg.Get("content"); content.IsArray() {
		content.ForEach(func(_, block gjson.Result) bool {
			if block.IsObject() && block.Get("type").String() == "thinking" {
				if s := strings.TrimSpace(block.Get("thinking").String()); s != "" {
					parts = append(parts, s)
				}
			}
			return true
		})
	}
	if pa := msg.Get("parts"); pa.IsArray() {
		pa.ForEach(func(_, part gjson.Result) bool {
			if part.IsObject() && part.Get("thought").Type == gjson.True {
				if s := strings.TrimSpace(part.Get("text").String()); s != "" {
					parts = append(parts, s)
				}
			}
			return true
		})
	}
	return strings.Join(parts, "\n\n")
}

// HasChoices 判断响应是否包含至少一个 choice。
func (r *Response) HasChoices() bool {
	if r == nil {
		return false
	}
	choices := gjson.GetBytes(r.raw, "choices")
	return choices.IsArray() && len(choices.Array()) > 0
}
