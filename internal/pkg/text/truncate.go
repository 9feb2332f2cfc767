package text

// Clip 截取前 max 个字符（按 rune 计），不追加省略号。
// 用于错误消息与原始响应的定长落库。
func Clip(s string, max int) string {
	if max <= 0 || s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// Truncate 截断并追加省略号，用于日志展示。
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
