package authz

import (
	"fmt"
)

type RuleConfig struct {
	// Key is resource:action, e.g. teams:join.
	Key        string `conf:"key" yaml:"key" json:"key"`
	Expression string `conf:"expression" yaml:"expression" json:"expression"`
	Disabled   bool   `conf:"disabled" yaml:"disabled" json:"disabled"`
}

type Config struct {
	Rules []RuleConfig `conf:"rules" yaml:"rules" json:"rules"`
}

// NewRegistryFromConfig compiles the configured expression rules.
func NewRegistryFromConfig(cfg Config) (*Registry, error) {
	r := NewRegistry()

	for _, rc := range cfg.Rules {
		if rc.Key == "" {
			return nil, fmt.Errorf("abac rule without key")
		}

		if err := r.RegisterExpr(rc.Key, rc.Expression); err != nil {
			return nil, err
		}

		if rc.Disabled {
			r.Disable(rc.Key)
		}
	}

	return r, nil
}
