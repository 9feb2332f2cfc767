package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取 YAML 配置并应用缺省值；文件不存在时返回纯缺省配置。
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v := viper.New()
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("读取配置文件失败 (%s): %w", path, err)
			}
			if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
				dc.TagName = "toml"
				dc.WeaklyTypedInput = true
			}); err != nil {
				return nil, fmt.Errorf("解析配置失败: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Replay.MaxWorkers <= 0 {
		return fmt.Errorf("replay.max_workers 必须大于 0")
	}
	if cfg.LLM.TimeoutSeconds <= 0 || cfg.LLM.ReasoningTimeoutSeconds <= 0 {
		return fmt.Errorf("llm 超时配置必须大于 0")
	}
	if cfg.LLM.ReasoningTimeoutSeconds < cfg.LLM.TimeoutSeconds {
		return fmt.Errorf("llm.reasoning_timeout_seconds 不应小于 llm.timeout_seconds")
	}
	return nil
}
