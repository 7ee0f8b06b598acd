package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sysparts/syspartd/internal/rule"
)

// addonDocument is the reduced schema an addon rule file carries: only
// process-definitions and an optional fallback override, no groups,
// partitions or curves (spec §4.4 "Addon rules": "a hot-reloadable set of
// process-definitions layered over the primary rule set").
type addonDocument struct {
	Rules    []ruleDoc `yaml:"rules"`
	Fallback *ruleDoc  `yaml:"fallback"`
}

// Loader implements rule.AddonLoader by decoding the same rule-chain YAML
// shape Load uses for the primary document's "rules"/"fallback" sections.
type Loader struct{}

func (Loader) LoadAddon(path string) (*rule.ProcDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read addon %q: %w", path, err)
	}

	var doc addonDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse addon %q: %w", path, err)
	}

	pd := rule.NewProcDef()
	for _, rd := range doc.Rules {
		if rd.Binary == "" {
			return nil, fmt.Errorf("config: addon rule entry missing binary")
		}
		r, err := buildRule(rd)
		if err != nil {
			return nil, fmt.Errorf("config: addon rule %q: %w", rd.Binary, err)
		}
		existing, _ := pd.Lookup(rd.Binary)
		pd.Bind(rd.Binary, append(existing, r))
	}
	if doc.Fallback != nil {
		r, err := buildRule(*doc.Fallback)
		if err != nil {
			return nil, fmt.Errorf("config: addon fallback rule: %w", err)
		}
		existing, _ := pd.Lookup(rule.FallbackKey)
		pd.Bind(rule.FallbackKey, append(existing, r))
	}
	return pd, nil
}
