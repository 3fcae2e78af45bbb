package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// account is the secret store entry name for secret keys.
func (s keySpec) account() string {
	return strings.ReplaceAll(s.key, ".", "_")
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "V2V_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.upload_dir", typ: kString, env: "V2V_SERVER_UPLOAD_DIR",
		apply:   func(cfg *Config, v any) { cfg.Server.UploadDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.UploadDir },
	},
	{
		key: "ollama.base_url", typ: kString, env: "V2V_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "V2V_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.timeout_seconds", typ: kInt, env: "V2V_OLLAMA_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Ollama.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.TimeoutSeconds },
	},
	{
		key: "ollama.temperature", typ: kFloat, env: "V2V_OLLAMA_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ollama.Temperature },
	},
	{
		key: "ollama.max_tokens", typ: kInt, env: "V2V_OLLAMA_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Ollama.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.MaxTokens },
	},
	{
		key: "whisper.base_url", typ: kString, env: "V2V_WHISPER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Whisper.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.BaseURL },
	},
	{
		key: "whisper.model", typ: kString, env: "V2V_WHISPER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Whisper.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.Model },
	},
	{
		key: "whisper.language", typ: kString, env: "V2V_WHISPER_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Whisper.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.Language },
	},
	{
		key: "whisper.api_key", typ: kString, env: "V2V_WHISPER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Whisper.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.APIKey },
	},
	{
		key: "whisper.timeout_seconds", typ: kInt, env: "V2V_WHISPER_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Whisper.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Whisper.TimeoutSeconds },
	},
	{
		key: "whisper.remove_fillers", typ: kBool, env: "V2V_WHISPER_REMOVE_FILLERS",
		apply:   func(cfg *Config, v any) { cfg.Whisper.RemoveFillers = v.(bool) },
		extract: func(cfg Config) any { return cfg.Whisper.RemoveFillers },
	},
	{
		key: "whisper.filler_words", typ: kString, env: "V2V_WHISPER_FILLER_WORDS",
		apply:   func(cfg *Config, v any) { cfg.Whisper.FillerWords = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.FillerWords },
	},
	{
		key: "storage.data_dir", typ: kString, env: "V2V_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ideas.dir", typ: kString, env: "V2V_IDEAS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Ideas.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Ideas.Dir },
	},
	{
		key: "ideas.max_name_length", typ: kInt, env: "V2V_IDEAS_MAX_NAME_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Ideas.MaxNameLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Ideas.MaxNameLength },
	},
	{
		key: "intake.workers", typ: kInt, env: "V2V_INTAKE_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Intake.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Intake.Workers },
	},
	{
		key: "intake.status_ttl_minutes", typ: kInt, env: "V2V_INTAKE_STATUS_TTL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Intake.StatusTTLMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Intake.StatusTTLMinutes },
	},
	{
		key: "audio.ffmpeg_path", typ: kString, env: "V2V_AUDIO_FFMPEG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Audio.FFmpegPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.FFmpegPath },
	},
	{
		key: "audio.ffprobe_path", typ: kString, env: "V2V_AUDIO_FFPROBE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Audio.FFprobePath = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.FFprobePath },
	},
	{
		key: "audio.temp_dir", typ: kString, env: "V2V_AUDIO_TEMP_DIR",
		apply:   func(cfg *Config, v any) { cfg.Audio.TempDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.TempDir },
	},
	{
		key: "audio.formats", typ: kString, env: "V2V_AUDIO_FORMATS",
		apply:   func(cfg *Config, v any) { cfg.Audio.Formats = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.Formats },
	},
	{
		key: "audio.max_upload_mb", typ: kInt, env: "V2V_AUDIO_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Audio.MaxUploadMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Audio.MaxUploadMB },
	},
	{
		key: "audio.min_seconds", typ: kInt, env: "V2V_AUDIO_MIN_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Audio.MinSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Audio.MinSeconds },
	},
	{
		key: "audio.max_seconds", typ: kInt, env: "V2V_AUDIO_MAX_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Audio.MaxSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Audio.MaxSeconds },
	},
	{
		key: "export.dir", typ: kString, env: "V2V_EXPORT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Export.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.Dir },
	},
	{
		key: "export.ttl_minutes", typ: kInt, env: "V2V_EXPORT_TTL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Export.TTLMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Export.TTLMinutes },
	},
	{
		key: "access.authorized", typ: kString, env: "V2V_ACCESS_AUTHORIZED",
		apply:   func(cfg *Config, v any) { cfg.Access.Authorized = v.(string) },
		extract: func(cfg Config) any { return cfg.Access.Authorized },
	},
	{
		key: "access.admins", typ: kString, env: "V2V_ACCESS_ADMINS",
		apply:   func(cfg *Config, v any) { cfg.Access.Admins = v.(string) },
		extract: func(cfg Config) any { return cfg.Access.Admins },
	},
	{
		key: "log.level", typ: kString, env: "V2V_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "mcp.enabled", typ: kBool, env: "V2V_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.MCP.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.MCP.Enabled },
	},
	{
		key: "mcp.caller_id", typ: kString, env: "V2V_MCP_CALLER_ID",
		apply:   func(cfg *Config, v any) { cfg.MCP.CallerID = v.(string) },
		extract: func(cfg Config) any { return cfg.MCP.CallerID },
	},
}

func findSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts raw text to the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case kBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case kFloat:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring unparsable config value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring unparsable environment variable", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
