package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ERP-Agents/internal/action"
	"ERP-Agents/internal/api"
	"ERP-Agents/internal/config"
	"ERP-Agents/internal/dispatch"
	"ERP-Agents/internal/extract"
	"ERP-Agents/internal/extract/openai"
	"ERP-Agents/internal/observability/alerting"
	"ERP-Agents/internal/observability/metrics"
	"ERP-Agents/internal/orchestrator"
	"ERP-Agents/internal/policy"
	"ERP-Agents/internal/prompts"
	"ERP-Agents/pkg/logger"
)

// main 是 ERP 智能体守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("erpagentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ERPAGENTS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "erpagent.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Close()

	approvalPolicy := policy.Default()
	if cfg.Policy.Path != "" {
		approvalPolicy, err = policy.Load(cfg.Policy.Path)
		if err != nil {
			return err
		}
	}

	var promptProvider prompts.Provider
	if cfg.Prompts.Source != "" {
		promptProvider, err = prompts.LoadStaticProvider(cfg.Prompts.Source)
		if err != nil {
			return err
		}
	} else {
		promptProvider = prompts.NewStaticProvider()
	}

	extractor, err := createExtractor(cfg)
	if err != nil {
		return err
	}

	var store action.Store
	switch cfg.Storage.ActionStore.Driver {
	case "", "memory":
		store = action.NewMemoryStore()
	case "mysql":
		store, err = action.NewMySQLStore(cfg.Storage.ActionStore.DSN, action.MySQLOptions{
			MaxOpenConns:    cfg.Storage.ActionStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.ActionStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.ActionStore.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.ActionStore.Driver)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("关闭行动存储失败: %v", err)
		}
	}()

	ledger := action.NewLedger(store, approvalPolicy)

	deliverer, err := createDeliverer(cfg)
	if err != nil {
		return err
	}

	var queue dispatch.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		queue = dispatch.NewMemoryQueue(1024)
	case "redis":
		queue, err = dispatch.NewRedisQueue(dispatch.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
	case "rabbitmq":
		queue, err = dispatch.NewRabbitMQQueue(dispatch.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("关闭行动队列失败: %v", err)
		}
	}()

	alerts := createAlertDispatcher(cfg)

	worker := dispatch.NewWorker(ledger, deliverer, queue,
		dispatch.WithWorkerCount(cfg.Queue.Worker),
		dispatch.WithAlertDispatcher(alerts),
	)

	registry, err := orchestrator.NewRegistry(orchestrator.Deps{
		Ledger:     ledger,
		Extractor:  extractor,
		Prompts:    promptProvider,
		Dispatcher: worker,
		Alerts:     alerts,
	})
	if err != nil {
		return err
	}

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	go func() {
		if err := worker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("行动派发工作器异常退出", "error", err.Error())
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(workerCtx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err.Error())
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, registry, ledger, api.WithPublisher(queue))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createExtractor 根据配置选择行动提案的抽取方式。
func createExtractor(cfg *config.Config) (extract.Extractor, error) {
	switch cfg.LLM.Provider {
	case "", "static":
		return extract.NewStaticExtractor(), nil
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

// createDeliverer 构造下游自动化引擎的投递客户端。
// 未配置 base_url 时回退为仅记录日志的投递器，便于本地联调。
func createDeliverer(cfg *config.Config) (dispatch.Deliverer, error) {
	if cfg.Automation.BaseURL == "" {
		return dispatch.NopDeliverer{}, nil
	}
	apiKey := strings.TrimSpace(cfg.Automation.APIKey)
	if apiKey == "" && cfg.Automation.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.Automation.APIKeyEnv))
	}
	return dispatch.NewWebhookClient(dispatch.WebhookConfig{
		BaseURL:     cfg.Automation.BaseURL,
		APIKey:      apiKey,
		HeaderName:  cfg.Automation.HeaderName,
		MaxAttempts: cfg.Automation.MaxAttempts,
		Backoff:     time.Duration(cfg.Automation.BackoffMillis) * time.Millisecond,
		Timeout:     time.Duration(cfg.Automation.TimeoutSeconds) * time.Second,
	})
}

// createAlertDispatcher 按配置组装告警渠道，没有任何渠道时返回 nil。
func createAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerting.DingTalk.Webhook != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.DingTalkWebhookSender{WebhookURL: cfg.Alerting.DingTalk.Webhook},
		})
	}
	if cfg.Alerting.Slack.Webhook != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhookSender{WebhookURL: cfg.Alerting.Slack.Webhook},
			ChannelID: cfg.Alerting.Slack.Channel,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
