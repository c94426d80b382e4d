package throttle

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ScopeKey joins parts into a registry scope key.
func ScopeKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// ModelLimiter manages request and token quotas per model for one provider
// credential. Its scope keys have the form provider:credential:model, with
// the credential replaced by a short digest so it never ends up in logs or
// stores.
type ModelLimiter struct {
	registry   *Registry
	provider   string
	credential string
}

// NewModelLimiter returns a ModelLimiter drawing from registry.
func NewModelLimiter(registry *Registry, provider, credential string) *ModelLimiter {
	sum := sha256.Sum256([]byte(credential))
	return &ModelLimiter{
		registry:   registry,
		provider:   provider,
		credential: hex.EncodeToString(sum[:6]),
	}
}

// Key returns the scope key for model.
func (m *ModelLimiter) Key(model string) string {
	return ScopeKey(m.provider, m.credential, model)
}

// SetLimits sets per-minute request and token limits for model.
func (m *ModelLimiter) SetLimits(model string, requestsPerMinute, tokensPerMinute float64) error {
	if err := m.registry.SetLimit(m.Key(model), Requests, requestsPerMinute, PerMinute); err != nil {
		return err
	}
	return m.registry.SetLimit(m.Key(model), Tokens, tokensPerMinute, PerMinute)
}

// Gate returns the gate for model's scope.
func (m *ModelLimiter) Gate(model string) Gate {
	return m.registry.Scope(m.Key(model))
}
