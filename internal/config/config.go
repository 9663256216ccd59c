package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 erpagentd 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	LLM        LLMConfig        `json:"llm"`
	Automation AutomationConfig `json:"automation"`
	Queue      QueueConfig      `json:"queue"`
	Policy     PolicyConfig     `json:"policy"`
	Prompts    PromptsConfig    `json:"prompts"`
	Alerting   AlertingConfig   `json:"alerting"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
// MetricsAddress 非空时在独立端口暴露 /metrics，便于与业务流量隔离；
// 留空时指标仍然通过 API 端口的 /metrics 提供。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// StorageConfig 描述行动台账的持久化后端。
type StorageConfig struct {
	ActionStore ActionStoreConfig `json:"action_store"`
}

// ActionStoreConfig 支持 memory 与 mysql 两种驱动。
type ActionStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// LLMConfig 用于配置结构化提案抽取的大模型调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述调用 OpenAI Chat Completions API 所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回抽取调用的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AutomationConfig 描述下游自动化引擎的 webhook 调用参数。
type AutomationConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	HeaderName     string `json:"header_name"`
	MaxAttempts    int    `json:"max_attempts"`
	BackoffMillis  int    `json:"backoff_millis"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// QueueConfig 描述人工审批后派发所使用的队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// PolicyConfig 指向置信度审批策略的 YAML 文件。
type PolicyConfig struct {
	Path string `json:"path"`
}

// PromptsConfig 指向各领域系统提示词的 JSON 覆盖文件。
type PromptsConfig struct {
	Source string `json:"source"`
}

// AlertingConfig 描述派发失败告警的通知渠道。
type AlertingConfig struct {
	DingTalk DingTalkAlertConfig `json:"dingtalk"`
	Slack    SlackAlertConfig    `json:"slack"`
}

// DingTalkAlertConfig 描述钉钉机器人 webhook。
type DingTalkAlertConfig struct {
	Webhook string `json:"webhook"`
}

// SlackAlertConfig 描述 Slack incoming webhook 与目标频道。
type SlackAlertConfig struct {
	Webhook string `json:"webhook"`
	Channel string `json:"channel"`
}

// LoggingConfig 控制日志输出行为。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘与滚动。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.ActionStore.Driver == "" {
		c.Storage.ActionStore.Driver = "memory"
	}
	if c.Storage.ActionStore.MaxOpenConns <= 0 {
		c.Storage.ActionStore.MaxOpenConns = 20
	}
	if c.Storage.ActionStore.MaxIdleConns <= 0 {
		c.Storage.ActionStore.MaxIdleConns = 10
	}
	if c.Storage.ActionStore.ConnMaxLifetimeSeconds <= 0 {
		c.Storage.ActionStore.ConnMaxLifetimeSeconds = 600
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "static"
	}

	if c.Automation.HeaderName == "" {
		c.Automation.HeaderName = "X-N8N-API-KEY"
	}
	if c.Automation.MaxAttempts <= 0 {
		c.Automation.MaxAttempts = 3
	}
	if c.Automation.BackoffMillis <= 0 {
		c.Automation.BackoffMillis = 500
	}
	if c.Automation.TimeoutSeconds <= 0 {
		c.Automation.TimeoutSeconds = 10
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 2
	}

	if c.Policy.Path != "" && !filepath.IsAbs(c.Policy.Path) {
		c.Policy.Path = filepath.Join(baseDir, c.Policy.Path)
	}
	if c.Prompts.Source != "" && !filepath.IsAbs(c.Prompts.Source) {
		c.Prompts.Source = filepath.Join(baseDir, c.Prompts.Source)
	}
}
