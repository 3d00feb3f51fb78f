package models

import (
	"context"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/fastcoder/internal/config"
)

// localAPIKey is sent to OpenAI-compatible local servers that require a
// non-empty key but do not check it.
const localAPIKey = "local"

// NewOpenAI creates a chat model for a local OpenAI-compatible server
// (llama.cpp server, LM Studio, vLLM).
func NewOpenAI(ctx context.Context, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = localAPIKey
	}

	modelConfig := &einoopenai.ChatModelConfig{
		APIKey:  apiKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	}

	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelConfig.MaxCompletionTokens = &maxTokens
	}

	if cfg.Timeout.Duration() > 0 {
		modelConfig.Timeout = cfg.Timeout.Duration()
	} else {
		modelConfig.Timeout = 300 * time.Second
	}

	if temp, ok := cfg.Options["temperature"].(float64); ok {
		t := float32(temp)
		modelConfig.Temperature = &t
	}

	return einoopenai.NewChatModel(ctx, modelConfig)
}
