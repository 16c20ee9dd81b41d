package resilience

import (
	"fmt"
	"math/rand/v2"
	"time"
)

type Strategy string

const (
	Aggressive   Strategy = "aggressive"
	Balanced     Strategy = "balanced"
	Conservative Strategy = "conservative"
	Critical     Strategy = "critical"
)

// Policy is the concrete retry and breaker configuration of a Strategy.
type Policy struct {
	MaxAttempts      int           `json:"max_attempts"`
	BaseBackoff      time.Duration `json:"base_backoff"`
	MaxBackoff       time.Duration `json:"max_backoff"`
	Jitter           bool          `json:"jitter"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`

	// JitterFn overrides the default jitter source. Tests use it to make
	// delays deterministic.
	JitterFn func(time.Duration) time.Duration `json:"-"`
}

var policies = map[Strategy]Policy{
	Aggressive: {
		MaxAttempts:      2,
		BaseBackoff:      100 * time.Millisecond,
		MaxBackoff:       time.Second,
		Jitter:           true,
		FailureThreshold: 3,
		RecoveryTimeout:  15 * time.Second,
	},
	Balanced: {
		MaxAttempts:      3,
		BaseBackoff:      500 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
		Jitter:           true,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	},
	Conservative: {
		MaxAttempts:      5,
		BaseBackoff:      time.Second,
		MaxBackoff:       10 * time.Second,
		Jitter:           true,
		FailureThreshold: 8,
		RecoveryTimeout:  60 * time.Second,
	},
	Critical: {
		MaxAttempts:      5,
		BaseBackoff:      250 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
		Jitter:           true,
		FailureThreshold: 10,
		RecoveryTimeout:  120 * time.Second,
	},
}

// PolicyFor returns the built-in policy of s.
func PolicyFor(s Strategy) (Policy, error) {
	p, ok := policies[s]
	if !ok {
		return Policy{}, fmt.Errorf("unknown resilience strategy %q", s)
	}
	return p, nil
}

// ParseStrategy validates a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(name)
	if _, ok := policies[s]; !ok {
		return "", fmt.Errorf("unknown resilience strategy %q", name)
	}
	return s, nil
}

// Preset names a default strategy plus per-operation overrides.
type Preset struct {
	Name       string              `json:"name"`
	Default    Strategy            `json:"default"`
	Operations map[string]Strategy `json:"operations"`
}

var presets = map[string]Preset{
	"simple": {
		Name:       "simple",
		Default:    Balanced,
		Operations: map[string]Strategy{},
	},
	"development": {
		Name:       "development",
		Default:    Aggressive,
		Operations: map[string]Strategy{},
	},
	"production": {
		Name:    "production",
		Default: Conservative,
		Operations: map[string]Strategy{
			"qa":        Critical,
			"sentiment": Aggressive,
		},
	},
}

// PresetNames lists the available preset names.
func PresetNames() []string {
	return []string{"simple", "development", "production"}
}

// LoadPreset returns a copy of the named preset.
func LoadPreset(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown resilience preset %q", name)
	}
	ops := make(map[string]Strategy, len(p.Operations))
	for k, v := range p.Operations {
		ops[k] = v
	}
	p.Operations = ops
	return p, nil
}

// delay computes the wait before the next attempt. attempt starts at 1.
func (p Policy) delay(attempt int) time.Duration {
	backoff := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= p.MaxBackoff {
			break
		}
	}

	if p.JitterFn != nil {
		backoff += p.JitterFn(backoff)
	} else if p.Jitter && backoff > 0 {
		backoff += time.Duration(rand.Int64N(int64(backoff)/2 + 1))
	}

	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}
	return backoff
}
