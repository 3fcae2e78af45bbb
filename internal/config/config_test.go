package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockBackend is an in-memory Backend.
type mockBackend struct {
	data map[string]any
}

func newMockBackend(kv map[string]any) *mockBackend {
	if kv == nil {
		kv = make(map[string]any)
	}
	return &mockBackend{data: kv}
}

func (m *mockBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, errors.New("not a string")
	}
	return s, true, nil
}

func (m *mockBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, ok := v.(int)
	if !ok {
		return 0, true, errors.New("not an int")
	}
	return i, true, nil
}

func (m *mockBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *mockBackend) SetInt(key string, val int) error  { m.data[key] = val; return nil }
func (m *mockBackend) Delete(key string) error           { delete(m.data, key); return nil }
func (m *mockBackend) Location() string                  { return "memory" }

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	secrets map[string]string
	setErr  error
}

func newMockKeychain() *mockKeychain {
	return &mockKeychain{secrets: make(map[string]string)}
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.secrets[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.secrets[service+"/"+account] = value
	return nil
}

// clearEnv unsets every V2V_ variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		os.Unsetenv(s.env)
	}
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("V2V_STORAGE_DATA_DIR", "/srv/v2v")

	cfg, err := loadWith(newMockBackend(nil), newMockKeychain(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Ollama.Model != "llama3.2" {
		t.Errorf("Ollama.Model = %q, want llama3.2", cfg.Ollama.Model)
	}
	if cfg.Intake.Workers != 2 {
		t.Errorf("Intake.Workers = %d, want 2", cfg.Intake.Workers)
	}
	if cfg.Export.TTLMinutes != 30 {
		t.Errorf("Export.TTLMinutes = %d, want 30", cfg.Export.TTLMinutes)
	}
	if !cfg.Whisper.RemoveFillers {
		t.Error("Whisper.RemoveFillers should default to true")
	}
	if cfg.Ideas.Dir != filepath.Join("/srv/v2v", "ideas") {
		t.Errorf("Ideas.Dir = %q", cfg.Ideas.Dir)
	}
	if cfg.Export.Dir != filepath.Join("/srv/v2v", "downloads") {
		t.Errorf("Export.Dir = %q", cfg.Export.Dir)
	}
	if cfg.Server.UploadDir != filepath.Join("/srv/v2v", "uploads") {
		t.Errorf("Server.UploadDir = %q", cfg.Server.UploadDir)
	}
	if got := cfg.AudioFormats(); strings.Join(got, ",") != ".mp3,.wav,.ogg,.m4a" {
		t.Errorf("AudioFormats = %v", got)
	}
}

// TestBackendValues verifies typed values are read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := newMockBackend(map[string]any{
		"server.port":            5000,
		"ollama.model":           "qwen2.5",
		"ollama.temperature":     "0.2",
		"whisper.remove_fillers": "false",
		"access.admins":          "root, ops",
		"ideas.dir":              "/data/ideas",
		"mcp.enabled":            "not-a-bool",
	})

	cfg, err := loadWith(b, newMockKeychain(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Ollama.Model != "qwen2.5" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Ollama.Temperature != 0.2 {
		t.Errorf("Ollama.Temperature = %v", cfg.Ollama.Temperature)
	}
	if cfg.Whisper.RemoveFillers {
		t.Error("Whisper.RemoveFillers should be false")
	}
	if got := SplitList(cfg.Access.Admins); len(got) != 2 || got[1] != "ops" {
		t.Errorf("admins = %v", got)
	}
	if cfg.Ideas.Dir != "/data/ideas" {
		t.Errorf("Ideas.Dir = %q", cfg.Ideas.Dir)
	}
	if cfg.MCP.Enabled {
		t.Error("unparsable bool should keep the default")
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("V2V_SERVER_PORT", "6000")
	t.Setenv("V2V_INTAKE_WORKERS", "abc")
	t.Setenv("V2V_MCP_ENABLED", "true")

	b := newMockBackend(map[string]any{"server.port": 5000})
	cfg, err := loadWith(b, newMockKeychain(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Intake.Workers != 2 {
		t.Errorf("Intake.Workers = %d, want default 2 for unparsable value", cfg.Intake.Workers)
	}
	if !cfg.MCP.Enabled {
		t.Error("MCP.Enabled should be true")
	}
}

// TestDotEnv verifies .env values apply but never beat the real environment.
func TestDotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("V2V_OLLAMA_MODEL", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	content := "V2V_OLLAMA_MODEL=from-file\nV2V_LOG_LEVEL=debug\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWith(newMockBackend(nil), newMockKeychain(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ollama.Model != "from-env" {
		t.Errorf("Ollama.Model = %q, want from-env", cfg.Ollama.Model)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

// TestDotEnvMissing verifies a missing .env file is not an error.
func TestDotEnvMissing(t *testing.T) {
	clearEnv(t)
	_, err := loadWith(newMockBackend(nil), newMockKeychain(), filepath.Join(t.TempDir(), "nope.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestKeychainFallback verifies the secret store is consulted for secrets not in env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)
	kc := newMockKeychain()
	kc.secrets["v2v/whisper_api_key"] = "keychain-secret"

	cfg, err := loadWith(newMockBackend(nil), kc, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Whisper.APIKey != "keychain-secret" {
		t.Errorf("Whisper.APIKey = %q, want keychain-secret", cfg.Whisper.APIKey)
	}

	t.Setenv("V2V_WHISPER_API_KEY", "env-secret")
	cfg, err = loadWith(newMockBackend(nil), kc, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Whisper.APIKey != "env-secret" {
		t.Errorf("Whisper.APIKey = %q, want env-secret", cfg.Whisper.APIKey)
	}
}

// TestValidation verifies inconsistent settings are reported together.
func TestValidation(t *testing.T) {
	clearEnv(t)
	b := newMockBackend(map[string]any{
		"server.port":    70000,
		"intake.workers": 0,
	})

	_, err := loadWith(b, newMockKeychain(), "")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server.port", "intake.workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to mention %s", err, want)
		}
	}
}

func TestGetAPIToken(t *testing.T) {
	kc := newMockKeychain()

	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64", len(first))
	}

	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first {
		t.Error("token should be stable once stored")
	}
}

func TestGetAPIToken_StoreFailure(t *testing.T) {
	kc := newMockKeychain()
	kc.setErr = errors.New("locked")
	if _, err := GetAPIToken(kc); err == nil {
		t.Fatal("expected error when the token cannot be stored")
	}
}

func TestSetSecret(t *testing.T) {
	kc := newMockKeychain()
	if err := SetSecret(kc, "whisper.api_key", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kc.secrets["v2v/whisper_api_key"] != "s3cret" {
		t.Errorf("secrets = %v", kc.secrets)
	}
	if err := SetSecret(kc, "server.port", "1"); err == nil {
		t.Error("expected error for non-secret key")
	}
}
