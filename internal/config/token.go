package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const apiTokenAccount = "api_token"

// Keychain reads and writes secrets in the platform secret store.
type Keychain struct{}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return Keychain{}
}

func (Keychain) Get(service, account string) (string, error) {
	return keychainGet(service, account)
}

func (Keychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token guarding the REST API, generating
// and storing a new one on first use.
func GetAPIToken(kc keychain) (string, error) {
	if tok, err := kc.Get(secretService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(secretService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// SetSecret stores a secret config key in the platform secret store.
func SetSecret(kc keychain, key, value string) error {
	s, ok := findSpec(key)
	if !ok || !s.secret {
		return fmt.Errorf("%q is not a secret config key", key)
	}
	return kc.Set(secretService, s.account(), value)
}
