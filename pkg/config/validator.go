package config

import (
	"fmt"
	"strings"
)

// ValidateConfig checks the configuration for obvious mistakes.
func ValidateConfig(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}

	seen := make(map[string]bool)
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true
	}

	for field, rule := range map[string]string{
		"router.default":      cfg.Router.Default,
		"router.background":   cfg.Router.Background,
		"router.think":        cfg.Router.Think,
		"router.web_search":   cfg.Router.WebSearch,
		"router.long_context": cfg.Router.LongContext,
	} {
		if rule == "" {
			continue
		}
		parts := strings.SplitN(rule, ",", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("%s must be \"provider,model\", got %q", field, rule)
		}
	}

	if cfg.Router.LongContextThreshold < 0 {
		return fmt.Errorf("router.long_context_threshold must be >= 0")
	}

	return nil
}
