package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// LLM 请求/响应落盘：用于回放排查模型输出问题，默认关闭。

var (
	llmMu   sync.Mutex
	llmLog  *log.Logger
	llmDump bool
)

func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

func EnableLLMDump(enabled bool) {
	llmMu.Lock()
	llmDump = enabled
	llmMu.Unlock()
}

func llmLogger() *log.Logger {
	llmMu.Lock()
	defer llmMu.Unlock()
	if !llmDump {
		return nil
	}
	return llmLog
}

type llmSection struct {
	Title string
	Body  string
}

func dumpLLM(tag, model string, sections []llmSection) {
	logger := llmLogger()
	if logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM][")
	b.WriteString(tag)
	b.WriteString("]")
	if model != "" {
		b.WriteString("[")
		b.WriteString(model)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(title)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	logger.Print(b.String())
}

// LogLLMRequest 记录一次聊天补全请求的提示词与最终载荷。
func LogLLMRequest(model, systemPrompt, userPrompt, payload string) {
	sections := []llmSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	}
	if strings.TrimSpace(payload) != "" {
		sections = append(sections, llmSection{Title: "PAYLOAD", Body: payload})
	}
	dumpLLM("request", model, sections)
}

// LogLLMResponse 记录模型原始响应。
func LogLLMResponse(model, raw string) {
	dumpLLM("response", model, []llmSection{{Title: "RAW", Body: raw}})
}
