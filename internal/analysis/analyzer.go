// Package analysis turns a voice-memo transcript into a structured idea by
// asking a local LLM for JSON and repairing what comes back.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/kalambet/v2v/internal/ollama"
)

const (
	DefaultTimeout     = 120 * time.Second
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// Stage names the step at which an analysis failed.
type Stage string

const (
	StageConnection       Stage = "connection"
	StageModelUnavailable Stage = "model_unavailable"
	StageTimeout          Stage = "timeout"
	StageInvalidJSON      Stage = "invalid_json"
	StageValidation       Stage = "validation"
	StageAPICall          Stage = "api_call"
	StageEmptyResponse    Stage = "empty_response"
)

// Failure is the error returned by Analyze.
type Failure struct {
	Stage   Stage
	Message string
	Raw     string // first bytes of the model output, when there was one
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("analysis failed at %s: %s: %v", f.Stage, f.Message, f.Err)
	}
	return fmt.Sprintf("analysis failed at %s: %s", f.Stage, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// StageOf extracts the failure stage of err, if it carries one.
func StageOf(err error) (Stage, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Stage, true
	}
	return "", false
}

// LLM is the subset of the Ollama client the analyzer needs.
type LLM interface {
	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema, opts *ollama.Options) (string, error)
}

// Config tunes the analyzer. Zero values select the defaults.
type Config struct {
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Analyzer extracts structured ideas from transcripts.
type Analyzer struct {
	llm     LLM
	model   string
	timeout time.Duration
	opts    ollama.Options
}

// NewAnalyzer creates an Analyzer backed by llm.
func NewAnalyzer(llm LLM, cfg Config) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Analyzer{
		llm:     llm,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		opts:    ollama.Options{Temperature: cfg.Temperature, NumPredict: cfg.MaxTokens},
	}
}

// Analyze asks the model to structure transcript. language is an ISO code
// selecting the response language. On failure the returned error is a
// *Failure naming the stage.
func (a *Analyzer) Analyze(ctx context.Context, transcript, language string) (Analysis, error) {
	if strings.TrimSpace(transcript) == "" {
		return Analysis{}, &Failure{Stage: StageValidation, Message: "empty transcript"}
	}
	if !a.llm.IsRunning(ctx) {
		return Analysis{}, &Failure{Stage: StageConnection, Message: "ollama is not reachable"}
	}
	if !a.llm.HasModel(ctx, a.model) {
		return Analysis{}, &Failure{Stage: StageModelUnavailable, Message: fmt.Sprintf("model %q is not available; pull it with: ollama pull %s", a.model, a.model)}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	raw, err := a.llm.Chat(callCtx, a.model, BuildPrompt(transcript, language), analysisSchema(), &a.opts)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Analysis{}, &Failure{Stage: StageTimeout, Message: fmt.Sprintf("model did not answer within %s", a.timeout), Err: err}
		}
		return Analysis{}, &Failure{Stage: StageAPICall, Message: "chat request failed", Err: err}
	}
	slog.Debug("analysis response received", "model", a.model, "duration", time.Since(start), "bytes", len(raw))

	if strings.TrimSpace(raw) == "" {
		return Analysis{}, &Failure{Stage: StageEmptyResponse, Message: "model returned an empty response"}
	}

	fields, repaired, err := decodeObject(raw)
	if err != nil {
		slog.Warn("analysis response is not valid JSON", "error", err, "response", clip(raw, 200))
		return Analysis{}, &Failure{Stage: StageInvalidJSON, Message: "model did not produce valid JSON", Raw: clip(raw, 500), Err: err}
	}

	if missing := missingFields(fields); len(missing) > 0 {
		return Analysis{}, &Failure{Stage: StageValidation, Message: "missing fields: " + strings.Join(missing, ", "), Raw: clip(raw, 500)}
	}

	result := normalize(fields)
	if repaired {
		result.Warnings = append([]string{"response JSON was repaired"}, result.Warnings...)
	}
	if len(result.Warnings) > 0 {
		slog.Warn("analysis corrected", "warnings", result.Warnings)
	}
	return result, nil
}

// decodeObject strips Markdown fences and parses raw as a JSON object,
// falling back to a repair pass for malformed output.
func decodeObject(raw string) (map[string]any, bool, error) {
	cleaned := stripFences(raw)

	var fields map[string]any
	if err := json.Unmarshal([]byte(cleaned), &fields); err == nil {
		return fields, false, nil
	}

	fixed, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal([]byte(fixed), &fields); err != nil {
		return nil, false, err
	}
	return fields, true, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
