package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/suPer8Hu/ai-interview/internal/config"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get builds the named provider. An empty model means the provider's
// configured default.
func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, model)
}

// RegistryFromConfig registers every provider the service knows about.
func RegistryFromConfig(cfg config.Config) *Registry {
	reg := NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (Provider, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.OllamaModel
		}
		return NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (Provider, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.OpenRouterModel
		}
		return NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	reg.Register("gemini", func(ctx context.Context, model string) (Provider, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.GeminiModel
		}
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, model)
	})
	return reg
}
