package generator

import (
	"context"
	"fmt"
)

// LLMClient 抽象大模型客户端，便于替换/Mock。
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// LLMSettings is the immutable model configuration handed to a client at construction.
type LLMSettings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// MockRounds is how many follow-up questions the mock provider asks.
	MockRounds int
}

// NewLLMFromSettings picks the client implementation for cfg.Provider.
func NewLLMFromSettings(cfg LLMSettings) (LLMClient, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAILLMFromConfig(&cfg)
	case "deepseek":
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url（例如官方/网关地址）。
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return NewOpenAILLMFromConfig(&cfg)
	case "ollama":
		return NewOllamaLLM(cfg)
	case "mock":
		return &MockLLM{Rounds: cfg.MockRounds}, nil
	default:
		return nil, fmt.Errorf("llm provider %q not supported", cfg.Provider)
	}
}
