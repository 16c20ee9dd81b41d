package environment

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Staging     Environment = "staging"
	Production  Environment = "production"
	Unknown     Environment = "unknown"
)

type FeatureContext string

const (
	ContextDefault             FeatureContext = "default"
	ContextAIEnabled           FeatureContext = "ai_enabled"
	ContextSecurityEnforcement FeatureContext = "security_enforcement"
	ContextResilienceStrategy  FeatureContext = "resilience_strategy"
	ContextCacheConfig         FeatureContext = "cache_config"
)

var ErrUnknownContext = errors.New("unknown feature context")

var featureContexts = []FeatureContext{
	ContextDefault,
	ContextAIEnabled,
	ContextSecurityEnforcement,
	ContextResilienceStrategy,
	ContextCacheConfig,
}

// FeatureContexts lists the supported feature contexts.
func FeatureContexts() []FeatureContext {
	return slices.Clone(featureContexts)
}

// Known reports whether c is one of the supported feature contexts.
func (c FeatureContext) Known() bool {
	return slices.Contains(featureContexts, c)
}

// ParseFeatureContext validates value. An empty value selects
// ContextDefault.
func ParseFeatureContext(value string) (FeatureContext, error) {
	fc := FeatureContext(strings.TrimSpace(value))
	if fc == "" {
		return ContextDefault, nil
	}
	if !fc.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownContext, value)
	}
	return fc, nil
}

// Signal is a single piece of evidence about the environment.
type Signal struct {
	Source      string      `json:"source"`
	Value       string      `json:"value"`
	Environment Environment `json:"environment"`
	Confidence  float64     `json:"confidence"`
	Reasoning   string      `json:"reasoning"`
}

// Info is the outcome of a detection run.
type Info struct {
	Environment       Environment    `json:"environment"`
	Confidence        float64        `json:"confidence"`
	Reasoning         string         `json:"reasoning"`
	DetectedBy        string         `json:"detected_by"`
	FeatureContext    FeatureContext `json:"feature_context"`
	AdditionalSignals []Signal       `json:"additional_signals"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func (i Info) IsProduction() bool {
	return i.Environment == Production
}

func (i Info) IsDevelopment() bool {
	return i.Environment == Development
}

// Parse maps common spellings onto an Environment. Unrecognised values
// yield Unknown.
func Parse(value string) Environment {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return Development
	case "test", "testing", "ci":
		return Testing
	case "stage", "staging":
		return Staging
	case "prod", "production", "live":
		return Production
	default:
		return Unknown
	}
}
