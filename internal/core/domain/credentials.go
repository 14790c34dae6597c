package domain

import (
	"fmt"
	"sort"
	"strings"
)

// CredentialSet maps provider names to secrets for one request.
//
// A CredentialSet supplied with a request is authoritative: a provider with no
// entry is disabled for that request. It never means "fall back to the
// process environment". Ambient credentials apply only when no set was
// supplied at all.
type CredentialSet struct {
	secrets map[AIProvider]string
}

// NewCredentialSet builds an immutable credential set. Keys are lowercased
// and blank secrets are dropped, so {"openai": ""} disables openai.
func NewCredentialSet(secrets map[string]string) *CredentialSet {
	cs := &CredentialSet{secrets: make(map[AIProvider]string, len(secrets))}
	for name, secret := range secrets {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		cs.secrets[AIProvider(strings.ToLower(strings.TrimSpace(name)))] = secret
	}
	return cs
}

// Lookup returns the secret for a provider.
func (c *CredentialSet) Lookup(provider AIProvider) (string, bool) {
	if c == nil {
		return "", false
	}
	secret, ok := c.secrets[provider]
	return secret, ok
}

// Providers returns the providers with a secret, sorted.
func (c *CredentialSet) Providers() []AIProvider {
	if c == nil {
		return nil
	}
	out := make([]AIProvider, 0, len(c.secrets))
	for p := range c.secrets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CredentialSummary provides a safe view without sensitive data
type CredentialSummary struct {
	Provider AIProvider `json:"provider"`
	HasKey   bool       `json:"has_key"`
}

// ToSummary reports which known providers are enabled by this set.
func (c *CredentialSet) ToSummary() []CredentialSummary {
	out := make([]CredentialSummary, 0, len(KnownProviders))
	for _, p := range KnownProviders {
		_, ok := c.Lookup(p)
		out = append(out, CredentialSummary{Provider: p, HasKey: ok})
	}
	return out
}

// String never prints secrets.
func (c *CredentialSet) String() string {
	return fmt.Sprintf("CredentialSet%v", c.Providers())
}

// GoString never prints secrets.
func (c *CredentialSet) GoString() string {
	return c.String()
}
