package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"NamePilot/internal/agent"
	"NamePilot/internal/api"
	"NamePilot/internal/bridge"
	"NamePilot/internal/chain"
	"NamePilot/internal/chain/ethereum"
	"NamePilot/internal/chat"
	"NamePilot/internal/config"
	"NamePilot/internal/flow"
	"NamePilot/internal/history"
	"NamePilot/internal/llm/anthropic"
	"NamePilot/internal/observability/alerting"
	"NamePilot/internal/observability/metrics"
	"NamePilot/internal/securestore"
	"NamePilot/internal/session"
	"NamePilot/internal/tools"
	"NamePilot/internal/waiter"
	"NamePilot/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("namepilotd: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("NAMEPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "namepilot.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	backend, err := securestore.NewRedisBackend(securestore.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer backend.Close()

	store := securestore.New(backend, []byte(cfg.State.Secret))
	flows := flow.NewRepository(store)
	sessions := session.NewStore(store)

	defs, err := chain.LoadDefinitions(cfg.Chains.DefinitionsPath)
	if err != nil {
		return err
	}
	chainClient, err := ethereum.NewClient(ctx, defs)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	llmClient, err := anthropic.NewClient(anthropic.Config{
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout.Std(),
	})
	if err != nil {
		return err
	}

	surface, err := chat.NewWebhookSurface(cfg.Chat.WebhookURL, cfg.Chat.Timeout.Std())
	if err != nil {
		return err
	}

	var archive history.Repository
	if cfg.MySQL.DSN != "" {
		sqlArchive, err := history.NewSQLRepository(cfg.MySQL.DSN)
		if err != nil {
			return err
		}
		archive = sqlArchive
	} else {
		logger.L().Warn("no mysql dsn configured, archiving operations in memory only")
		archive = history.NewMemoryRepository()
	}
	defer archive.Close()

	commitWaiter := waiter.New(waiter.NewRedisQueue(backend.Client()), flows, chainClient, surface)

	registry, err := agent.NewRegistry(tools.All(tools.Deps{
		Flows:   flows,
		Chain:   chainClient,
		Bridge:  bridge.NewSolver(chainClient, 0),
		Surface: surface,
		Waiter:  commitWaiter,
		Archive: archive,
	})...)
	if err != nil {
		return err
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerts.SlackChannelID != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{ChannelID: cfg.Alerts.SlackChannelID})
	}

	agentOpts := []agent.Option{
		agent.WithMaxTurns(cfg.Agent.MaxTurns),
		agent.WithMessageWindow(cfg.Agent.MessageWindow),
		agent.WithHistory(archive),
		agent.WithAlerts(alerting.NewFanout(notifiers...)),
	}
	if cfg.Agent.SystemPrompt != "" {
		agentOpts = append(agentOpts, agent.WithSystemPrompt(cfg.Agent.SystemPrompt))
	}
	if cfg.LLM.CostPerMInput > 0 || cfg.LLM.CostPerMOutput > 0 {
		agentOpts = append(agentOpts, agent.WithCostRates(cfg.LLM.CostPerMInput, cfg.LLM.CostPerMOutput))
	}
	ag := agent.New(llmClient, registry, sessions, flows, surface, agentOpts...)

	go commitWaiter.Run(ctx)

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("metrics server exited", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, ag, archive)
	return server.Start(ctx)
}
