package decision

import (
	"fmt"
	"strings"

	"promptback/internal/pkg/text"

	"github.com/tidwall/gjson"
)

// 中文说明：
// 容错解析模型输出：先剥代码围栏，严格解析失败后做一次特殊字符清洗重试，
// 再按固定顺序识别三种嵌套习惯（decisions 数组 / 裸数组 / 直接对象）。

const rawReasoningLimit = 2000

const codeFence = "```"

// Parse 从正文提取一条决策；无法提取时返回错误（调用方按条目失败处理）。
func Parse(content string) (Decision, error) {
	if strings.TrimSpace(content) == "" {
		return Decision{}, fmt.Errorf("内容为空")
	}
	working := extractFenced(content)

	if !gjson.Valid(working) {
		working = cleanup(working)
		if !gjson.Valid(working) {
			return Decision{}, fmt.Errorf("json 解析失败: %s", text.Truncate(working, 200))
		}
	}

	node, ok := resolveShape(gjson.Parse(working))
	if !ok {
		return Decision{}, fmt.Errorf("未识别的决策结构")
	}
	return Decision{
		Operation:         node.Get("operation").String(),
		Symbol:            node.Get("symbol").String(),
		TargetPortion:     node.Get("target_portion_of_balance").Float(),
		RawJSON:           strings.TrimSpace(node.Raw),
		FallbackReasoning: text.Clip(content, rawReasoningLimit),
	}, nil
}

// extractFenced 优先取 ```json 围栏内容，其次任意围栏，否则原文。
func extractFenced(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if idx := strings.Index(cleaned, codeFence+"json"); idx != -1 {
		rest := cleaned[idx+len(codeFence)+4:]
		if end := strings.Index(rest, codeFence); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	if idx := strings.Index(cleaned, codeFence); idx != -1 {
		rest := cleaned[idx+len(codeFence):]
		if end := strings.Index(rest, codeFence); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	return cleaned
}

// cleanup 折叠换行并替换弯引号/各类破折号，兼容模型输出里的排版字符。
func cleanup(s string) string {
	replacer := strings.NewReplacer(
		"\n", " ",
		"\r", " ",
		"\t", " ",
		"“", `"`, // 左弯双引号
		"”", `"`, // 右弯双引号
		"‘", "'", // 左弯单引号
		"’", "'", // 右弯单引号
		"–", "-", // en dash
		"—", "-", // em dash
		"‑", "-", // 不换行连字符
	)
	return replacer.Replace(s)
}

// resolveShape 按顺序识别：{"decisions":[...]} 取首个对象元素；
// 裸数组取首个对象元素；含 operation 字段的对象直接取用。
func resolveShape(root gjson.Result) (gjson.Result, bool) {
	if root.IsObject() {
		if decisions := root.Get("decisions"); decisions.IsArray() {
			arr := decisions.Array()
			if len(arr) > 0 && arr[0].IsObject() {
				return arr[0], true
			}
			return gjson.Result{}, false
		}
		if root.Get("operation").Exists() {
			return root, true
		}
		return gjson.Result{}, false
	}
	if root.IsArray() {
		arr := root.Array()
		if len(arr) > 0 && arr[0].IsObject() {
			return arr[0], true
		}
	}
	return gjson.Result{}, false
}
