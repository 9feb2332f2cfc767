package llm

import "strings"

// BuildChatEndpoints 由 base_url 推导候选的 chat/completions 端点，按优先级排序。
// 用户常把完整路径甚至 /chat/completions 写进配置，这里做归一化去重；
// base_url 不带 /v1 时同时给出带与不带 /v1 的两个候选。
// 非 http(s) 地址返回空列表。
func BuildChatEndpoints(baseURL, model string) []string {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") || strings.Contains(base, "/v1/") {
		return []string{base + "/chat/completions"}
	}
	return []string{
		base + "/v1/chat/completions",
		base + "/chat/completions",
	}
}
