package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Port != 3456 {
		t.Fatalf("default port wrong: %d", cfg.Server.Port)
	}
	if cfg.Router.LongContextThreshold != 60000 {
		t.Fatalf("default threshold wrong: %d", cfg.Router.LongContextThreshold)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"server": {"host": "0.0.0.0", "port": 9999},
		"router": {"default": "gemini,gemini-2.5-flash", "long_context_threshold": 100000},
		"providers": [{"name": "gemini", "api_key": "k"}],
		"https_proxy": "http://proxy:8080"
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9999 || cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("server config wrong: %+v", cfg.Server)
	}
	if cfg.Router.Default != "gemini,gemini-2.5-flash" {
		t.Fatalf("router config wrong: %+v", cfg.Router)
	}
	if cfg.HTTPSProxy != "http://proxy:8080" {
		t.Fatalf("proxy wrong: %s", cfg.HTTPSProxy)
	}
	if p, ok := cfg.Provider("gemini"); !ok || p.APIKey != "k" {
		t.Fatalf("provider lookup wrong: %+v", p)
	}
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Router.Default = "gemini,gemini-2.5-flash"
	if err := ValidateConfig(cfg); err != nil {
		t.Fatal(err)
	}

	cfg.Router.Default = "not-a-route"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("malformed route should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Providers = []ProviderConfig{{Name: "a"}, {Name: "a"}}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("duplicate providers should fail validation")
	}
}

func TestConfigUpdate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Router.Default = "gemini,old"

	cfg.Update(&Config{
		Router:    RouterConfig{Default: "gemini,new"},
		Providers: []ProviderConfig{{Name: "gemini"}},
	})

	if cfg.RouterRules().Default != "gemini,new" {
		t.Fatalf("update did not apply: %+v", cfg.RouterRules())
	}
	if _, ok := cfg.Provider("gemini"); !ok {
		t.Fatal("providers not updated")
	}
}
