package llm

import (
	"fmt"
	"strings"
	"time"

	"mingling-chat/internal/config"
)

const (
	ProviderSimulator = "simulator"
	ProviderOpenAI    = "openai"
	ProviderYandex    = "yandex"
)

// Factory creates responders with consistent logic
type Factory struct {
	SimulatedDelay     time.Duration
	OpenaiAPIKey       string
	OpenaiBaseURL      string
	OpenRouterReferrer string
	OpenRouterTitle    string
	YandexOAuthToken   string
	YandexFolderID     string
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		SimulatedDelay:     cfg.SimulatedDelay,
		OpenaiAPIKey:       cfg.OpenAIAPIKey,
		OpenaiBaseURL:      cfg.OpenAIBaseURL,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
		YandexOAuthToken:   cfg.YandexOAuthToken,
		YandexFolderID:     cfg.YandexFolderID,
	}
}

func (f *Factory) CreateClient(provider, model string) (Client, error) {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		if f.OpenaiAPIKey == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
		return NewOpenAI(f.OpenaiAPIKey, f.OpenaiBaseURL, model, f.OpenRouterReferrer, f.OpenRouterTitle), nil
	case ProviderYandex:
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

// CreateResponder returns the simulator or a real backend wrapped as a Responder.
func (f *Factory) CreateResponder(provider, model string) (Responder, error) {
	if strings.ToLower(provider) == ProviderSimulator {
		return NewSimulator(f.SimulatedDelay), nil
	}
	c, err := f.CreateClient(provider, model)
	if err != nil {
		return nil, err
	}
	return NewClientResponder(c), nil
}
