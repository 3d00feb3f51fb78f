package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/fastcoder/internal/config"
)

// CreateModel creates a chat model from a provider config.
func CreateModel(ctx context.Context, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider %q: model is required", cfg.Driver)
	}
	switch strings.ToLower(cfg.Driver) {
	case "ollama", "":
		return NewOllama(ctx, cfg)
	case "openai":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai driver: base_url is required for a local server")
		}
		return NewOpenAI(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
}
