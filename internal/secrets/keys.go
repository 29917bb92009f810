package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// “Service” groups the engine's secrets in the OS keychain.
	KeyringService = "oppscout"

	KeySAMGov = "samgov_api_key"
	KeyGemini = "gemini_api_key"
)

// env fallbacks for headless deployments without a keychain
var envFallback = map[string]string{
	KeySAMGov: "SAM_GOV_API_KEY",
	KeyGemini: "GEMINI_API_KEY",
}

func KnownKey(name string) bool {
	_, ok := envFallback[name]
	return ok
}

// GetAPIKey looks in the keychain first, then the matching env var.
func GetAPIKey(name string) (string, error) {
	if !KnownKey(name) {
		return "", fmt.Errorf("unknown secret %q", name)
	}

	pw, err := keyring.Get(KeyringService, name)
	if err == nil && strings.TrimSpace(pw) != "" {
		return pw, nil
	}

	if v := strings.TrimSpace(os.Getenv(envFallback[name])); v != "" {
		return v, nil
	}

	return "", fmt.Errorf("secret %q not found (set it in the keychain or via %s)", name, envFallback[name])
}

func SetAPIKey(name, value string) error {
	if !KnownKey(name) {
		return fmt.Errorf("unknown secret %q", name)
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("secret value is empty")
	}
	return keyring.Set(KeyringService, name, value)
}

func DeleteAPIKey(name string) error {
	if !KnownKey(name) {
		return fmt.Errorf("unknown secret %q", name)
	}
	return keyring.Delete(KeyringService, name)
}
