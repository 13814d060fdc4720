package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"linechat/internal/agent"
	"linechat/internal/channel"
	"linechat/internal/config"
	"linechat/internal/intent"
	"linechat/internal/memory"
	"linechat/internal/provider"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the LINE webhook",
		Long:  "Starts the webhook server and processes LINE events until interrupted. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// requireCredentials reports every credential still unset or left as a ${VAR} placeholder.
func requireCredentials(cfg *config.Config) error {
	missing := []string{}
	for name, v := range map[string]string{
		"line.channelSecret":      cfg.LINE.ChannelSecret,
		"line.channelAccessToken": cfg.LINE.ChannelAccessToken,
		"openai.apiKey":           cfg.OpenAI.APIKey,
		"vision.apiKey":           cfg.Vision.APIKey,
	} {
		if !config.IsSet(v) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("credentials not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	if err := requireCredentials(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := memory.Open(ctx, memory.StoreConfig{
		Driver: cfg.History.Driver,
		DSN:    cfg.History.DSN,
		Table:  cfg.History.Table,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	defer store.Close()

	pipeline, err := buildPipeline(ctx, cfg, store)
	if err != nil {
		return err
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	webhook := channel.NewWebhook(channel.WebhookConfig{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		Path:        cfg.Server.Path,
		Secret:      cfg.LINE.ChannelSecret,
		MetricsPath: metricsPath,
		Handler:     pipeline,
		Logger:      logger,
	})

	logger.Info("linechat started", "version", version, "history", cfg.History.Driver, "model", cfg.OpenAI.Model)
	if err := webhook.Start(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// buildPipeline wires the backends into an event pipeline.
func buildPipeline(ctx context.Context, cfg *config.Config, history *memory.SQLStore) (*agent.Pipeline, error) {
	line, err := channel.NewLINE(channel.LINEConfig{
		ChannelSecret:      cfg.LINE.ChannelSecret,
		ChannelAccessToken: cfg.LINE.ChannelAccessToken,
		APIBase:            cfg.LINE.APIBase,
		HTTPClient:         provider.SharedHTTPClient(30 * time.Second),
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	ai := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:     cfg.OpenAI.APIKey,
		APIBase:    cfg.OpenAI.APIBase,
		Model:      cfg.OpenAI.Model,
		ImageModel: cfg.OpenAI.ImageModel,
		ImageSize:  cfg.OpenAI.ImageSize,
		HTTPClient: provider.SharedHTTPClient(120 * time.Second),
		Logger:     logger,
	})
	if err := ai.Healthy(ctx); err != nil {
		logger.Warn("openai unhealthy at startup", "err", err)
	} else {
		logger.Info("openai healthy", "model", cfg.OpenAI.Model)
	}

	vision := provider.NewVision(provider.VisionConfig{
		APIBase:    cfg.Vision.APIBase,
		APIKey:     cfg.Vision.APIKey,
		HTTPClient: provider.SharedHTTPClient(60 * time.Second),
		Logger:     logger,
	})

	classifier, err := intent.NewClassifier(cfg.Assistant.ImageTriggers, logger)
	if err != nil {
		return nil, fmt.Errorf("intent classifier: %w", err)
	}

	orchestrator := agent.NewOrchestrator(agent.OrchestratorConfig{
		Chat:               ai,
		Images:             ai,
		DefaultImagePrompt: cfg.Assistant.DefaultImagePrompt,
		Logger:             logger,
	})

	return agent.NewPipeline(agent.PipelineConfig{
		Classifier:         classifier,
		Assistant:          orchestrator,
		OCR:                vision,
		History:            history,
		Messenger:          line,
		Persona:            cfg.Assistant.Persona,
		FallbackText:       cfg.Assistant.FallbackText,
		WorkingText:        cfg.Assistant.WorkingText,
		DoneText:           cfg.Assistant.DoneText,
		SerializePerSender: cfg.Pipeline.SerializePerSender,
		Logger:             logger,
	}), nil
}
