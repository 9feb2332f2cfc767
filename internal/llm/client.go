package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"promptback/internal/logger"
	"promptback/internal/pkg/text"
)

// 中文说明：
// Invoker 负责构造并发送聊天补全请求：推理模型识别、token 字段选择、
// 候选端点逐个回退。失败以 error 返回，绝不向上抛 panic。

// reasoningMarkers 推理模型的名称片段（大小写不敏感子串匹配）。
var reasoningMarkers = []string{
	"gpt-5", "o1-preview", "o1-mini", "o1-", "o3-", "o4-",
	"deepseek-r1", "deepseek-reasoner",
	"qwq", "qwen-plus-thinking", "qwen-max-thinking",
	"claude-4", "claude-sonnet-4-5",
	"gemini-2.5", "gemini-3",
}

// IsReasoningModel 判断模型是否为推理模型（决定温度与超时）。
func IsReasoningModel(model string) bool {
	lower := strings.ToLower(model)
	for _, marker := range reasoningMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isNewModel 更宽的判定：推理模型或 gpt-4o 族，决定 token 上限字段名。
func isNewModel(model string) bool {
	return IsReasoningModel(model) || strings.Contains(strings.ToLower(model), "gpt-4o")
}

// AccountConfig 账户级调用凭据快照（纯数据，可跨 goroutine 传递）。
type AccountConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Config 控制超时与 token 预算。
type Config struct {
	Timeout            time.Duration // 普通模型
	ReasoningTimeout   time.Duration // 推理模型
	MaxTokensDefault   int
	MaxTokensByModel   map[string]int // key 为模型名片段，子串匹配
	InsecureSkipVerify bool
}

type Invoker struct {
	cfg   Config
	httpc *http.Client
}

func NewInvoker(cfg Config) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.ReasoningTimeout <= 0 {
		cfg.ReasoningTimeout = 240 * time.Second
	}
	if cfg.MaxTokensDefault <= 0 {
		cfg.MaxTokensDefault = 4096
	}
	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}
	return &Invoker{
		cfg:   cfg,
		httpc: &http.Client{Transport: transport},
	}
}

// MaxTokens 按模型名片段解析 token 预算，未命中取缺省值。
func (v *Invoker) MaxTokens(model string) int {
	lower := strings.ToLower(model)
	for marker, limit := range v.cfg.MaxTokensByModel {
		if marker != "" && limit > 0 && strings.Contains(lower, strings.ToLower(marker)) {
			return limit
		}
	}
	return v.cfg.MaxTokensDefault
}

// buildPayload 组装请求体：推理模型不带 temperature，
// 新模型族用 max_completion_tokens，其余用 max_tokens（二者不会同时出现）。
func (v *Invoker) buildPayload(model, systemPrompt, userPrompt string) map[string]any {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	if !IsReasoningModel(model) {
		payload["temperature"] = 0.7
	}
	limit := v.MaxTokens(model)
	if isNewModel(model) {
		payload["max_completion_tokens"] = limit
	} else {
		payload["max_tokens"] = limit
	}
	return payload
}

// ChatCompletion 依次尝试候选端点，返回首个带 choices 的成功响应。
func (v *Invoker) ChatCompletion(ctx context.Context, acct AccountConfig, systemPrompt, userPrompt string) (*Response, error) {
	model := strings.TrimSpace(acct.Model)
	endpoints := BuildChatEndpoints(acct.BaseURL, model)
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no valid endpoint for model %s", model)
	}
	payload := v.buildPayload(model, systemPrompt, userPrompt)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	logger.LogLLMRequest(model, systemPrompt, userPrompt, string(body))

	timeout := v.cfg.Timeout
	if IsReasoningModel(model) {
		timeout = v.cfg.ReasoningTimeout
	}

	var lastErr error
	for _, endpoint := range endpoints {
		resp, err := v.post(ctx, endpoint, acct.APIKey, body, timeout)
		if err != nil {
			lastErr = err
			logger.Warnf("[llm] 端点 %s 调用失败: %v", endpoint, err)
			continue
		}
		logger.LogLLMResponse(model, resp.Raw())
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all endpoints failed for model %s", model)
	}
	return nil, lastErr
}

func (v *Invoker) post(ctx context.Context, endpoint, apiKey string, body []byte, timeout time.Duration) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := v.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status=%d: %s", resp.StatusCode, text.Truncate(string(raw), 200))
	}
	r := NewResponse(raw)
	if !r.HasChoices() {
		return nil, fmt.Errorf("empty choices")
	}
	return r, nil
}
