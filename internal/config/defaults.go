package config

// DefaultSystemPrompt 在账户未绑定模板时使用。
const DefaultSystemPrompt = "You are a systematic trading assistant. Analyze the market data and make trading decisions."

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9980"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/promptback.db"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.LLM.ReasoningTimeoutSeconds <= 0 {
		c.LLM.ReasoningTimeoutSeconds = 240
	}
	if c.LLM.MaxTokensDefault <= 0 {
		c.LLM.MaxTokensDefault = 4096
	}
	if c.Replay.MaxWorkers <= 0 {
		c.Replay.MaxWorkers = 20
	}
	if c.Replay.DefaultSystemPrompt == "" {
		c.Replay.DefaultSystemPrompt = DefaultSystemPrompt
	}
}
