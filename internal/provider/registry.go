package provider

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"prlens-backend/internal/types"
)

var (
	ErrUnknownProvider      = errors.New("unknown AI provider")
	ErrMissingCredential    = errors.New("API key not configured")
	ErrNoProviderConfigured = errors.New("no AI provider configured")
)

// Kind selects the wire protocol a provider speaks.
type Kind int

const (
	OpenAICompatible Kind = iota
	AnthropicMessages
)

// Provider is one AI backend. It is immutable once resolved.
type Provider struct {
	ID      string
	Name    string
	Model   string
	BaseURL string
	EnvKey  string
	Kind    Kind
	APIKey  string
}

// priority order; the first configured entry is the default
var providerTable = []Provider{
	{ID: "openai", Name: "GPT-4o Mini", Model: "gpt-4o-mini", EnvKey: "OPENAI_API_KEY"},
	{ID: "gemini", Name: "Gemini 2.0 Flash", Model: "gemini-2.0-flash", EnvKey: "GEMINI_API_KEY",
		BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
	{ID: "qwen", Name: "Qwen Plus", Model: "qwen-plus", EnvKey: "QWEN_API_KEY",
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1"},
	{ID: "anthropic", Name: "Claude Haiku", Model: "claude-haiku-4-5", EnvKey: "ANTHROPIC_API_KEY",
		Kind: AnthropicMessages},
}

// Table returns a copy of the provider table without credentials.
func Table() []Provider {
	out := make([]Provider, len(providerTable))
	copy(out, providerTable)
	return out
}

// EnvKeys lists the credential environment variables in priority order.
func EnvKeys() []string {
	keys := make([]string, len(providerTable))
	for i, p := range providerTable {
		keys[i] = p.EnvKey
	}
	return keys
}

// Option configures a Registry.
type Option func(*Registry)

// WithClientFactory replaces how completers are built for a provider.
func WithClientFactory(f func(Provider) Completer) Option {
	return func(r *Registry) { r.newClient = f }
}

// WithBaseURL points a provider at a different endpoint.
func WithBaseURL(providerID, baseURL string) Option {
	return func(r *Registry) {
		for i := range r.providers {
			if r.providers[i].ID == providerID {
				r.providers[i].BaseURL = baseURL
			}
		}
	}
}

// Registry resolves providers and owns one completer per provider.
type Registry struct {
	providers []Provider
	newClient func(Provider) Completer

	mu      sync.Mutex
	clients map[string]Completer
}

// NewRegistry builds a registry from credentials keyed by provider id.
// Credentials are read once; blank values count as absent.
func NewRegistry(credentials map[string]string, opts ...Option) *Registry {
	r := &Registry{
		providers: Table(),
		newClient: NewCompleter,
		clients:   make(map[string]Completer),
	}
	for i := range r.providers {
		r.providers[i].APIKey = strings.TrimSpace(credentials[r.providers[i].ID])
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Available lists configured providers in priority order.
func (r *Registry) Available() []types.ProviderInfo {
	out := []types.ProviderInfo{}
	for _, p := range r.providers {
		if p.APIKey != "" {
			out = append(out, types.ProviderInfo{ID: p.ID, Name: p.Name})
		}
	}
	return out
}

// Resolve returns the named provider, or the default one when providerID is
// empty.
func (r *Registry) Resolve(providerID string) (Provider, error) {
	if providerID != "" {
		for _, p := range r.providers {
			if p.ID != providerID {
				continue
			}
			if p.APIKey == "" {
				return Provider{}, fmt.Errorf("%w for provider: %s (%s)", ErrMissingCredential, p.Name, p.EnvKey)
			}
			return p, nil
		}
		return Provider{}, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	for _, p := range r.providers {
		if p.APIKey != "" {
			return p, nil
		}
	}
	return Provider{}, fmt.Errorf("%w. Set %s", ErrNoProviderConfigured, strings.Join(EnvKeys(), ", "))
}

// Client returns the cached completer for p, building it on first use.
func (r *Registry) Client(p Provider) Completer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[p.ID]; ok {
		return c
	}
	c := r.newClient(p)
	r.clients[p.ID] = c
	return c
}

// IsConfigError reports whether err comes from provider resolution.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownProvider) ||
		errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrNoProviderConfigured)
}
