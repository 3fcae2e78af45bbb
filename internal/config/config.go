// Package config loads v2v settings from the platform backend, a .env file,
// V2V_* environment variables and the platform secret store.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFile is read from the working directory before environment overrides
// are applied. Variables already set in the process win.
const EnvFile = ".env"

const secretService = "v2v"

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Whisper WhisperConfig
	Storage StorageConfig
	Ideas   IdeasConfig
	Intake  IntakeConfig
	Audio   AudioConfig
	Export  ExportConfig
	Access  AccessConfig
	Log     LogConfig
	MCP     MCPConfig
}

type ServerConfig struct {
	Port      int
	UploadDir string
}

type OllamaConfig struct {
	BaseURL        string
	Model          string
	TimeoutSeconds int
	Temperature    float64
	MaxTokens      int
}

type WhisperConfig struct {
	BaseURL        string
	Model          string
	Language       string
	APIKey         string
	TimeoutSeconds int
	RemoveFillers  bool
	FillerWords    string
}

type StorageConfig struct {
	DataDir string
}

type IdeasConfig struct {
	Dir           string
	MaxNameLength int
}

type IntakeConfig struct {
	Workers          int
	StatusTTLMinutes int
}

type AudioConfig struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	Formats     string
	MaxUploadMB int
	MinSeconds  int
	MaxSeconds  int
}

type ExportConfig struct {
	Dir        string
	TTLMinutes int
}

// AccessConfig holds comma-separated caller id lists.
type AccessConfig struct {
	Authorized string
	Admins     string
}

type LogConfig struct {
	Level string
}

type MCPConfig struct {
	Enabled  bool
	CallerID string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			Model:          "llama3.2",
			TimeoutSeconds: 120,
			Temperature:    0.7,
			MaxTokens:      2000,
		},
		Whisper: WhisperConfig{
			BaseURL:        "http://localhost:8080",
			Model:          "whisper-1",
			TimeoutSeconds: 600,
			RemoveFillers:  true,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ideas: IdeasConfig{
			MaxNameLength: 50,
		},
		Intake: IntakeConfig{
			Workers:          2,
			StatusTTLMinutes: 60,
		},
		Audio: AudioConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			Formats:     ".mp3,.wav,.ogg,.m4a",
			MaxUploadMB: 25,
			MinSeconds:  1,
			MaxSeconds:  7200,
		},
		Export: ExportConfig{
			TTLMinutes: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, the .env file,
// environment variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.v2v.app) and secrets
// live in the macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/v2v/config.json
// and secrets live in $XDG_DATA_HOME/v2v/secrets.json.
//
// Environment variables (V2V_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain(), EnvFile)
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b Backend, kc keychain, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("reading %s: %w", envFile, err)
		}
	}
	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)
	resolveDirs(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applySecrets fills secret keys that were not provided via the environment.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := kc.Get(secretService, s.account()); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// resolveDirs places unset working directories under the data directory.
func resolveDirs(cfg *Config) {
	under := func(dst *string, name string) {
		if *dst == "" {
			*dst = filepath.Join(cfg.Storage.DataDir, name)
		}
	}
	under(&cfg.Ideas.Dir, "ideas")
	under(&cfg.Export.Dir, "downloads")
	under(&cfg.Server.UploadDir, "uploads")
	under(&cfg.Audio.TempDir, "tmp")
}

func (c Config) validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Intake.Workers < 1 {
		problems = append(problems, "intake.workers must be at least 1")
	}
	if c.Audio.MaxUploadMB < 1 {
		problems = append(problems, "audio.max_upload_mb must be at least 1")
	}
	if c.Audio.MinSeconds < 0 || c.Audio.MaxSeconds <= c.Audio.MinSeconds {
		problems = append(problems, "audio duration bounds are inconsistent")
	}
	if c.Ideas.MaxNameLength < 12 {
		problems = append(problems, "ideas.max_name_length must be at least 12")
	}
	if c.Export.TTLMinutes < 1 {
		problems = append(problems, "export.ttl_minutes must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SplitList splits a comma-separated setting, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// AudioFormats returns the allowed extensions, lowercased with a leading dot.
func (c Config) AudioFormats() []string {
	var out []string
	for _, f := range SplitList(c.Audio.Formats) {
		f = strings.ToLower(f)
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		out = append(out, f)
	}
	return out
}

// PIDFile is where a running server records its process id.
func (c Config) PIDFile() string {
	return filepath.Join(c.Storage.DataDir, "v2v.pid")
}
