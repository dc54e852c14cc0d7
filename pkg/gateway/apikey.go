package gateway

import (
	"fmt"
	"os"
	"strings"

	"ccrouter/pkg/config"
	"ccrouter/pkg/keychain"
)

// geminiKeyEnv is the environment variable consulted first for Gemini keys.
const geminiKeyEnv = "GEMINI_API_KEY"

// resolveAPIKey returns the upstream API key for a provider. For Gemini the
// chain is: environment variable, macOS keychain, config value. Placeholder
// values are rejected at every step.
func resolveAPIKey(provider config.ProviderConfig) (string, error) {
	if provider.Name == "gemini" || provider.Name == "google" ||
		provider.Transformer == "gemini" || provider.Transformer == "google" {
		if key := os.Getenv(geminiKeyEnv); usableKey(key) {
			return key, nil
		}
		if key := keychain.GeminiAPIKey(); usableKey(key) {
			return key, nil
		}
		if usableKey(provider.APIKey) {
			return provider.APIKey, nil
		}
		return "", fmt.Errorf(
			"no Gemini API key configured: set %s, store one with `%s`, or set providers[].api_key",
			geminiKeyEnv, keychain.AddCommand(),
		)
	}

	if usableKey(provider.APIKey) {
		return provider.APIKey, nil
	}
	return "", fmt.Errorf("no API key configured for provider %s", provider.Name)
}

// usableKey rejects empty values and the placeholders that ship in example
// configs.
func usableKey(key string) bool {
	if key == "" || key == "FROM_KEYCHAIN" {
		return false
	}
	return !strings.HasPrefix(key, "YOUR_")
}
