// Package secrets resolves provider credentials at the process edge. The
// core passes credential references around without ever resolving or
// persisting the values.
package secrets

import (
	"errors"
	"fmt"
	"os"

	"github.com/haasonsaas/arena/internal/address"
)

// ErrNotFound reports a missing credential.
var ErrNotFound = errors.New("credential not found")

// Resolver turns a credential reference into its value.
type Resolver interface {
	Resolve(ref string) (string, error)
}

// EnvResolver reads credentials from environment variables.
type EnvResolver struct{}

func (EnvResolver) Resolve(ref string) (string, error) {
	v, ok := os.LookupEnv(ref)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrNotFound, ref)
	}
	return v, nil
}

// StaticResolver serves a fixed map, for tests.
type StaticResolver map[string]string

func (r StaticResolver) Resolve(ref string) (string, error) {
	v, ok := r[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return v, nil
}

// credentialRefs maps each provider to its conventional environment
// variable. Providers absent here need no credential.
var credentialRefs = map[address.Provider]string{
	address.ProviderAnthropic:  "ANTHROPIC_API_KEY",
	address.ProviderOpenAI:     "OPENAI_API_KEY",
	address.ProviderGoogle:     "GEMINI_API_KEY",
	address.ProviderOpenRouter: "OPENROUTER_API_KEY",
	address.ProviderDeepSeek:   "DEEPSEEK_API_KEY",
	address.ProviderXAI:        "XAI_API_KEY",
}

// CredentialRef returns the credential reference for a provider. ok is false
// for providers that need none (mock, local ollama).
func CredentialRef(p address.Provider) (string, bool) {
	ref, ok := credentialRefs[p]
	return ref, ok
}

// Validate checks that every backend either carries an inline key or has a
// resolvable credential. It returns the value-free list of missing
// references.
func Validate(r Resolver, backends []address.Backend) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, b := range backends {
		if b.APIKey != "" {
			continue
		}
		ref, needed := CredentialRef(b.Provider)
		if !needed || seen[ref] {
			continue
		}
		seen[ref] = true
		if _, err := r.Resolve(ref); err != nil {
			missing = append(missing, ref)
		}
	}
	return missing
}
