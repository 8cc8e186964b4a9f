package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api" or "hash"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
	ProxyURL  string `json:"proxy_url"`
	Timeout   int    `json:"timeout_sec"`
	// CacheTTL is the Redis cache lifetime in seconds; 0 disables expiry.
	CacheTTL int `json:"cache_ttl_sec"`
}

// New builds the provider selected by cfg.Provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "api":
		return NewAPIProvider(cfg)
	case "hash":
		return NewStatic(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

func httpClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("embedding: parse proxy url: %w", err)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}
