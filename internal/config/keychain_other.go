//go:build !darwin

package config

import (
	"fmt"
	"path/filepath"
)

// Without a system keychain, secrets live in a 0600 JSON file next to the
// data directory, keyed "service/account".
func secretsFilePath() string {
	dir, ok := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "v2v", "secrets.json")
}

func secretsStore() *fileBackend {
	return newFileBackend(secretsFilePath())
}

func keychainGet(service, account string) (string, error) {
	val, ok, err := secretsStore().GetString(service + "/" + account)
	if err != nil {
		return "", fmt.Errorf("reading secrets file: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("secret %s/%s not found", service, account)
	}
	return val, nil
}

func keychainSet(service, account, value string) error {
	return secretsStore().SetString(service+"/"+account, value)
}
