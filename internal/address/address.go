// Package address parses compact model-address strings into structured
// backend descriptors.
//
// The grammar is:
//
//	[provider:]model[@baseUrl][#apiKey]
//
// An explicit provider prefix is authoritative. Without one the provider is
// inferred from the model token; specs that match no inference rule are a
// hard configuration error, never a silent default.
package address

import (
	"fmt"
	"strings"
)

// Provider identifies a decision backend provider.
type Provider string

const (
	// ProviderMock is the built-in deterministic backend used for dry runs
	// and tests. It consumes no credentials and prices at zero.
	ProviderMock       Provider = "mock"
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenAI     Provider = "openai"
	ProviderGoogle     Provider = "google"
	ProviderOpenRouter Provider = "openrouter"
	ProviderOllama     Provider = "ollama"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderXAI        Provider = "xai"
)

// Providers lists every known provider.
func Providers() []Provider {
	return []Provider{
		ProviderMock,
		ProviderAnthropic,
		ProviderOpenAI,
		ProviderGoogle,
		ProviderOpenRouter,
		ProviderOllama,
		ProviderDeepSeek,
		ProviderXAI,
	}
}

// providerAliases maps accepted prefix spellings to canonical providers.
var providerAliases = map[string]Provider{
	"claude": ProviderAnthropic,
	"gemini": ProviderGoogle,
	"or":     ProviderOpenRouter,
	"grok":   ProviderXAI,
	"local":  ProviderOllama,
}

// parseProvider resolves a prefix token to a provider, honoring aliases.
func parseProvider(token string) (Provider, bool) {
	token = strings.ToLower(token)
	for _, p := range Providers() {
		if string(p) == token {
			return p, true
		}
	}
	if p, ok := providerAliases[token]; ok {
		return p, true
	}
	return "", false
}

// Backend is a resolved decision-backend descriptor.
type Backend struct {
	Provider Provider `json:"provider" yaml:"provider"`
	Model    string   `json:"model" yaml:"model"`
	BaseURL  string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey   string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// String returns the canonical address form. Resolving the returned string
// yields an identical Backend, which is what makes it usable as a
// deduplication key.
func (b Backend) String() string {
	var sb strings.Builder
	sb.WriteString(string(b.Provider))
	sb.WriteString(":")
	sb.WriteString(b.Model)
	if b.BaseURL != "" {
		sb.WriteString("@")
		sb.WriteString(b.BaseURL)
	}
	if b.APIKey != "" {
		sb.WriteString("#")
		sb.WriteString(b.APIKey)
	}
	return sb.String()
}

// Reason classifies why an address spec failed to parse.
type Reason string

const (
	ReasonEmpty           Reason = "empty_spec"
	ReasonUnknownProvider Reason = "unknown_provider"
	ReasonNoAutoDetect    Reason = "cannot_auto_detect"
	ReasonEmptyModel      Reason = "empty_model"
	ReasonEmptyBaseURL    Reason = "empty_base_url"
	ReasonEmptyAPIKey     Reason = "empty_api_key"
)

// ParseError is a classified address parse failure.
type ParseError struct {
	Spec    string
	Reason  Reason
	Message string
}

func (e *ParseError) Error() string {
	if e.Spec == "" {
		return fmt.Sprintf("invalid model address: %s", e.Message)
	}
	return fmt.Sprintf("invalid model address %q: %s", e.Spec, e.Message)
}

func parseErr(spec string, reason Reason, msg string) error {
	return &ParseError{Spec: spec, Reason: reason, Message: msg}
}

// Resolve parses a model-address spec into a Backend. It is a pure function:
// identical input always yields an identical result.
func Resolve(spec string) (Backend, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Backend{}, parseErr(spec, ReasonEmpty, "empty address")
	}

	rest := spec

	var apiKey string
	if i := strings.Index(rest, "#"); i >= 0 {
		apiKey = rest[i+1:]
		rest = rest[:i]
		if apiKey == "" {
			return Backend{}, parseErr(spec, ReasonEmptyAPIKey, "trailing '#' with no API key")
		}
	}

	var baseURL string
	if i := strings.Index(rest, "@"); i >= 0 {
		baseURL = rest[i+1:]
		rest = rest[:i]
		if baseURL == "" {
			return Backend{}, parseErr(spec, ReasonEmptyBaseURL, "trailing '@' with no base URL")
		}
	}

	if rest == "" {
		return Backend{}, parseErr(spec, ReasonEmptyModel, "no model given")
	}

	var provider Provider
	model := rest
	if i := strings.Index(rest, ":"); i >= 0 {
		prefix := rest[:i]
		p, ok := parseProvider(prefix)
		if !ok {
			return Backend{}, parseErr(spec, ReasonUnknownProvider, fmt.Sprintf("unknown provider %q", prefix))
		}
		provider = p
		model = rest[i+1:]
		if model == "" {
			return Backend{}, parseErr(spec, ReasonEmptyModel, fmt.Sprintf("provider %q given with no model", prefix))
		}
	} else {
		p, ok := inferProvider(model)
		if !ok {
			return Backend{}, parseErr(spec, ReasonNoAutoDetect, fmt.Sprintf("cannot auto-detect provider for model %q", model))
		}
		provider = p
	}

	return Backend{
		Provider: provider,
		Model:    model,
		BaseURL:  baseURL,
		APIKey:   apiKey,
	}, nil
}

// MustResolve is Resolve for addresses known valid at compile time.
func MustResolve(spec string) Backend {
	b, err := Resolve(spec)
	if err != nil {
		panic(err)
	}
	return b
}

// inferProvider applies the model-token inference rules. The rules are
// intentionally small and literal: a miss means the caller must spell the
// provider out.
func inferProvider(model string) (Provider, bool) {
	m := strings.ToLower(model)

	switch m {
	case "mock", "random":
		return ProviderMock, true
	}

	// An org/name shape routes through the aggregator.
	if strings.Contains(m, "/") {
		return ProviderOpenRouter, true
	}

	prefixes := []struct {
		prefix   string
		provider Provider
	}{
		{"claude", ProviderAnthropic},
		{"gpt", ProviderOpenAI},
		{"chatgpt", ProviderOpenAI},
		{"davinci", ProviderOpenAI},
		{"o1", ProviderOpenAI},
		{"o3", ProviderOpenAI},
		{"o4", ProviderOpenAI},
		{"gemini", ProviderGoogle},
		{"deepseek", ProviderDeepSeek},
		{"grok", ProviderXAI},
	}
	for _, rule := range prefixes {
		if strings.HasPrefix(m, rule.prefix) {
			return rule.provider, true
		}
	}

	return "", false
}
