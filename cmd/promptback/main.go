package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"promptback/internal/config"
	"promptback/internal/llm"
	"promptback/internal/logger"
	"promptback/internal/replay"
	"promptback/internal/store/gormstore"
	"promptback/internal/template"
	replayhttp "promptback/internal/transport/http/replay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("PROMPTBACK_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	if cfg.App.LLMDump {
		f, err := setupLLMLogOutput(cfg.App.LLMLog)
		if err != nil {
			log.Fatalf("初始化 LLM 日志失败: %v", err)
		}
		if f != nil {
			defer f.Close()
		}
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.EnableLLMDump(cfg.App.LLMDump)
	logger.Infof("✓ 配置加载成功（环境=%s，监听=%s）", cfg.App.Env, cfg.App.HTTPAddr)

	store, err := gormstore.NewStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer store.Close()

	var registry *template.Registry
	if strings.TrimSpace(cfg.Templates.Path) != "" {
		registry, err = template.NewRegistry(cfg.Templates.Path)
		if err != nil {
			log.Fatalf("初始化提示词模板失败: %v", err)
		}
	}

	invoker := llm.NewInvoker(llm.Config{
		Timeout:            time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		ReasoningTimeout:   time.Duration(cfg.LLM.ReasoningTimeoutSeconds) * time.Second,
		MaxTokensDefault:   cfg.LLM.MaxTokensDefault,
		MaxTokensByModel:   cfg.LLM.MaxTokensByModel,
		InsecureSkipVerify: cfg.LLM.InsecureSkipVerify,
	})

	svc := replay.NewService(store, invoker, registry, replay.Config{
		MaxWorkers:          cfg.Replay.MaxWorkers,
		DefaultSystemPrompt: cfg.Replay.DefaultSystemPrompt,
	})

	server, err := replayhttp.NewServer(replayhttp.Config{
		Addr:      cfg.App.HTTPAddr,
		Svc:       svc,
		Store:     store,
		Templates: registry,
	})
	if err != nil {
		log.Fatalf("初始化 HTTP 服务失败: %v", err)
	}

	logger.Infof("回放服务启动，监听 %s", cfg.App.HTTPAddr)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
	logger.Infof("服务已退出")
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupLLMLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetLLMWriter(f)
	return f, nil
}
