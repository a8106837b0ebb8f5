// Package providers resolves third-party provider credentials.
package providers

import (
	"context"
	"strings"

	"github.com/leozw/health-guardian/internal/config"
	"github.com/leozw/health-guardian/internal/core"
)

// Store is a persistent credential lookup such as db.Repository.
type Store interface {
	GetAPIKey(ctx context.Context, provider string) (*core.APIKey, error)
}

// Keys resolves a provider credential from the environment first and falls
// back to the store.
type Keys struct {
	static map[string]string
	store  Store
}

func NewKeys(cfg config.ProvidersConfig, store Store) *Keys {
	static := map[string]string{
		"BREVO":  cfg.Brevo,
		"STRIPE": cfg.Stripe,
		"OPENAI": cfg.OpenAI,
	}
	for k, v := range static {
		if strings.TrimSpace(v) == "" {
			delete(static, k)
		}
	}
	return &Keys{static: static, store: store}
}

func (k *Keys) GetAPIKey(ctx context.Context, provider string) (*core.APIKey, error) {
	provider = strings.ToUpper(strings.TrimSpace(provider))
	if v, ok := k.static[provider]; ok {
		return &core.APIKey{Provider: provider, Key: v, IsActive: true}, nil
	}
	if k.store == nil {
		return nil, nil
	}
	return k.store.GetAPIKey(ctx, provider)
}

// Configured lists providers that have an environment credential.
func (k *Keys) Configured() []string {
	out := make([]string, 0, len(k.static))
	for _, p := range []string{"BREVO", "STRIPE", "OPENAI"} {
		if _, ok := k.static[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
