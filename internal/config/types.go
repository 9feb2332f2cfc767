package config

// Config 是 promptback 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Store     StoreConfig     `toml:"store"`
	LLM       LLMConfig       `toml:"llm"`
	Replay    ReplayConfig    `toml:"replay"`
	Templates TemplatesConfig `toml:"templates"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// LLMConfig 控制模型调用的超时与 token 预算。
type LLMConfig struct {
	TimeoutSeconds          int            `toml:"timeout_seconds"`           // 普通模型
	ReasoningTimeoutSeconds int            `toml:"reasoning_timeout_seconds"` // 推理模型
	MaxTokensDefault        int            `toml:"max_tokens_default"`
	MaxTokensByModel        map[string]int `toml:"max_tokens_by_model"` // 按模型名前缀覆盖
	InsecureSkipVerify      bool           `toml:"insecure_skip_verify"`
}

// ReplayConfig 控制回放任务的并发与缺省提示词。
type ReplayConfig struct {
	MaxWorkers          int    `toml:"max_workers"`
	DefaultSystemPrompt string `toml:"default_system_prompt"`
}

type TemplatesConfig struct {
	Path string `toml:"path"` // 提示词模板库 YAML，可为空
}
