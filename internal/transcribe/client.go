// Package transcribe talks to an OpenAI-compatible speech-to-text server
// (whisper.cpp server, faster-whisper-server, speaches) and cleans the
// resulting text.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/v2v/internal/result"
)

const (
	DefaultModel   = "whisper-1"
	DefaultTimeout = 10 * time.Minute
)

// Transcript is the text recognized in one audio file.
type Transcript struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments int     `json:"segments"`
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL  string
	Model    string
	Language string // empty lets the server detect it
	APIKey   string
	Timeout  time.Duration
}

// Client posts audio to /v1/audio/transcriptions.
type Client struct {
	baseURL    string
	model      string
	language   string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the server at opts.BaseURL.
func New(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		language:   opts.Language,
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

// IsRunning reports whether the server answers GET /v1/models.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type verboseResponse struct {
	Text     string            `json:"text"`
	Language string            `json:"language"`
	Duration float64           `json:"duration"`
	Segments []json.RawMessage `json:"segments"`
}

// Transcribe uploads the file at path and returns the recognized text.
// Unreachable servers and 5xx answers are KindUnavailable; a rejected file
// or an empty transcript is KindInvalidInput.
func (c *Client) Transcribe(ctx context.Context, path string) (Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transcript{}, result.Wrap(result.KindFilesystem, err, "opening audio")
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(mw, f, filepath.Base(path)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", pr)
	if err != nil {
		pr.Close()
		return Transcript{}, fmt.Errorf("creating transcription request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.Close()
		return Transcript{}, result.Wrap(result.KindUnavailable, err, "transcription request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := result.KindUnavailable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = result.KindInvalidInput
		}
		return Transcript{}, result.Errorf(kind, "transcription server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return Transcript{}, result.Wrap(result.KindUnavailable, err, "decoding transcription response")
	}

	t := Transcript{
		Text:     strings.TrimSpace(vr.Text),
		Language: LanguageCode(vr.Language),
		Duration: vr.Duration,
		Segments: len(vr.Segments),
	}
	if t.Language == "" {
		t.Language = c.language
	}
	if t.Text == "" {
		return Transcript{}, result.Errorf(result.KindInvalidInput, "no speech detected")
	}

	slog.Info("transcription completed", "file", filepath.Base(path), "chars", len(t.Text), "language", t.Language, "elapsed", time.Since(start))
	return t, nil
}

func (c *Client) writeForm(mw *multipart.Writer, audio io.Reader, name string) error {
	fields := [][2]string{
		{"model", c.model},
		{"response_format", "verbose_json"},
		{"temperature", "0"},
	}
	if c.language != "" {
		fields = append(fields, [2]string{"language", c.language})
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

var languageNames = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"portuguese": "pt",
	"italian":    "it",
}

// LanguageCode maps the language names some servers report to ISO 639-1
// codes. Codes and unknown names pass through lowercased.
func LanguageCode(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageNames[l]; ok {
		return code
	}
	return l
}
