package objects

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cast"
)

const (
	DefaultTeamSizeMin = 1
	DefaultTeamSizeMax = 99
)

// ClassConfig is the free-form configuration stored with a class. Only team size
// bounds are interpreted; other keys are preserved as-is.
type ClassConfig struct {
	TeamSizeMin int            `json:"teamSizeMin"`
	TeamSizeMax int            `json:"teamSizeMax"`
	Extra       map[string]any `json:"-"`
}

// ParseClassConfig reads the stored JSON, accepting the legacy minTeamSize and
// maxTeamSize keys. Empty input yields the defaults.
func ParseClassConfig(raw string) (ClassConfig, error) {
	cfg := ClassConfig{
		TeamSizeMin: DefaultTeamSizeMin,
		TeamSizeMax: DefaultTeamSizeMax,
		Extra:       map[string]any{},
	}

	if raw == "" {
		return cfg, nil
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return cfg, fmt.Errorf("parse class config: %w", err)
	}

	pick := func(keys ...string) (int, bool, error) {
		for _, k := range keys {
			v, ok := m[k]
			if !ok || v == nil {
				continue
			}

			delete(m, k)

			n, err := cast.ToIntE(v)
			if err != nil {
				return 0, false, fmt.Errorf("class config %s: %w", k, err)
			}

			return n, true, nil
		}

		return 0, false, nil
	}

	if n, ok, err := pick("teamSizeMin", "minTeamSize"); err != nil {
		return cfg, err
	} else if ok {
		cfg.TeamSizeMin = n
	}

	if n, ok, err := pick("teamSizeMax", "maxTeamSize"); err != nil {
		return cfg, err
	} else if ok {
		cfg.TeamSizeMax = n
	}

	// Drop any leftover alias so it cannot shadow the canonical key on write.
	delete(m, "minTeamSize")
	delete(m, "maxTeamSize")

	cfg.Extra = m

	return cfg, nil
}

func (c ClassConfig) Validate() error {
	if c.TeamSizeMin < 1 {
		return fmt.Errorf("teamSizeMin must be at least 1")
	}

	if c.TeamSizeMax < c.TeamSizeMin {
		return fmt.Errorf("teamSizeMax must not be less than teamSizeMin")
	}

	return nil
}

// JSON renders the config with canonical keys.
func (c ClassConfig) JSON() string {
	m := make(map[string]any, len(c.Extra)+2)
	for k, v := range c.Extra {
		m[k] = v
	}

	m["teamSizeMin"] = c.TeamSizeMin
	m["teamSizeMax"] = c.TeamSizeMax

	b, _ := json.Marshal(m)

	return string(b)
}
