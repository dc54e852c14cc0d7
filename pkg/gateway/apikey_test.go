package gateway

import (
	"strings"
	"testing"

	"ccrouter/pkg/config"
)

func TestResolveAPIKey_EnvWins(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")

	key, err := resolveAPIKey(config.ProviderConfig{Name: "gemini", APIKey: "config-key"})
	if err != nil {
		t.Fatal(err)
	}
	if key != "env-key" {
		t.Fatalf("env var should win, got %q", key)
	}
}

func TestResolveAPIKey_RejectsPlaceholders(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	for _, placeholder := range []string{"", "FROM_KEYCHAIN", "YOUR_API_KEY_HERE"} {
		_, err := resolveAPIKey(config.ProviderConfig{Name: "gemini", APIKey: placeholder})
		if err == nil {
			t.Fatalf("placeholder %q should be rejected", placeholder)
		}
	}
}

func TestResolveAPIKey_ErrorNamesRemedies(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := resolveAPIKey(config.ProviderConfig{Name: "gemini"})
	if err == nil {
		t.Fatal("expected config error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "GEMINI_API_KEY") {
		t.Fatalf("error should name the env var: %s", msg)
	}
	if !strings.Contains(msg, "security add-generic-password") {
		t.Fatalf("error should name the keychain command: %s", msg)
	}
}

func TestResolveAPIKey_EnvPlaceholderFallsThrough(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "YOUR_KEY")

	key, err := resolveAPIKey(config.ProviderConfig{Name: "gemini", APIKey: "real-key"})
	if err != nil {
		t.Fatal(err)
	}
	if key != "real-key" {
		t.Fatalf("placeholder env value should fall through to config, got %q", key)
	}
}

func TestResolveAPIKey_NonGeminiUsesConfig(t *testing.T) {
	key, err := resolveAPIKey(config.ProviderConfig{Name: "openrouter", Transformer: "openai", APIKey: "or-key"})
	if err != nil {
		t.Fatal(err)
	}
	if key != "or-key" {
		t.Fatalf("expected config key, got %q", key)
	}

	if _, err := resolveAPIKey(config.ProviderConfig{Name: "openrouter", Transformer: "openai"}); err == nil {
		t.Fatal("missing key should error")
	}
}
