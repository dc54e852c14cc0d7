// Package keychain reads the Gemini API key from the macOS keychain.
// The lookup result is cached process-wide: written once, read many times,
// never invalidated.
package keychain

import (
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

const (
	// Service is the keychain service name the router reads from.
	Service = "claude-code-router"

	// Account is the keychain account holding the Gemini API key.
	Account = "gemini-api-key"
)

var (
	once   sync.Once
	cached string
)

// GeminiAPIKey returns the key stored under Service/Account, or "" when the
// platform has no keychain or the entry is missing. The underlying `security`
// call happens at most once per process.
func GeminiAPIKey() string {
	once.Do(func() {
		cached = lookup()
	})
	return cached
}

func lookup() string {
	if runtime.GOOS != "darwin" {
		return ""
	}

	out, err := exec.Command("security", "find-generic-password",
		"-s", Service,
		"-a", Account,
		"-w",
	).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// AddCommand returns the shell command a user runs to store the key, for use
// in error messages.
func AddCommand() string {
	return "security add-generic-password -s " + Service + " -a " + Account + " -w <your-api-key>"
}
