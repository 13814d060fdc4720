package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"linechat/internal/domain"
	"linechat/internal/metrics"
)

// OpenAI implements domain.ChatModel and domain.ImageModel for OpenAI-compatible APIs.
type OpenAI struct {
	client     *openai.Client
	model      string
	imageModel string
	imageSize  string
	logger     *slog.Logger
}

type OpenAIConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	ImageModel string
	ImageSize  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = openai.CreateImageModelDallE3
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = openai.CreateImageSize1024x1024
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientCfg.BaseURL = cfg.APIBase
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAI{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
		imageSize:  cfg.ImageSize,
		logger:     cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Healthy checks that the API is reachable with the configured key.
func (o *OpenAI) Healthy(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai not reachable: %w", err)
	}
	return nil
}

// Complete requests a single completion and returns the first choice's content.
// No choices is not an error: the caller treats "" as an absent answer.
func (o *OpenAI) Complete(ctx context.Context, messages []domain.Turn) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	metrics.ModelRequests.Inc()
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
		N:        1,
	})
	metrics.ModelLatency.ObserveSince(start)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}

	if len(resp.Choices) == 0 {
		o.logger.Warn("openai returned no choices", "model", o.model)
		return "", nil
	}

	o.logger.Debug("openai chat done",
		"model", o.model,
		"finish_reason", resp.Choices[0].FinishReason,
		"tokens", resp.Usage.TotalTokens,
		"latency", time.Since(start),
	)
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage requests one image at the configured size and returns its URL.
func (o *OpenAI) GenerateImage(ctx context.Context, prompt string) (string, error) {
	metrics.ModelRequests.Inc()
	start := time.Now()
	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          o.imageModel,
		N:              1,
		Size:           o.imageSize,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	metrics.ModelLatency.ObserveSince(start)
	if err != nil {
		return "", fmt.Errorf("openai image: %w", err)
	}

	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", domain.ErrNoImage
	}

	o.logger.Debug("openai image done", "model", o.imageModel, "size", o.imageSize, "latency", time.Since(start))
	return resp.Data[0].URL, nil
}
