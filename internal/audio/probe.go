// Package audio validates uploaded voice memos with ffprobe and converts
// them into the 16 kHz mono PCM WAV files the transcriber expects.
package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/v2v/internal/result"
	"github.com/kalambet/v2v/internal/security"
)

const (
	DefaultMinDuration = time.Second
	DefaultMaxDuration = 2 * time.Hour

	defaultProbeTimeout = 30 * time.Second
	maxStderr           = 200
)

// Options configures Tools. Zero values select defaults.
type Options struct {
	FFprobePath    string
	FFmpegPath     string
	TempDir        string
	AllowedFormats []string
	MaxSizeMB      int
	MinDuration    time.Duration
	MaxDuration    time.Duration
}

// Tools wraps the ffprobe and ffmpeg binaries.
type Tools struct {
	ffprobe string
	ffmpeg  string
	tempDir string
	formats []string
	maxMB   int
	minDur  time.Duration
	maxDur  time.Duration
}

// New returns Tools with defaults applied.
func New(opts Options) *Tools {
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if len(opts.AllowedFormats) == 0 {
		opts.AllowedFormats = security.DefaultAudioFormats
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = security.DefaultMaxUploadMB
	}
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	return &Tools{
		ffprobe: opts.FFprobePath,
		ffmpeg:  opts.FFmpegPath,
		tempDir: opts.TempDir,
		formats: opts.AllowedFormats,
		maxMB:   opts.MaxSizeMB,
		minDur:  opts.MinDuration,
		maxDur:  opts.MaxDuration,
	}
}

// Info describes a validated audio file.
type Info struct {
	Path       string  `json:"path"`
	Duration   float64 `json:"duration_seconds"`
	Codec      string  `json:"codec"`
	BitRate    string  `json:"bit_rate,omitempty"`
	SampleRate string  `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	SizeBytes  int64   `json:"size_bytes"`
}

// Validate checks that path is a regular file with an accepted extension and
// size, that ffprobe can read an audio stream from it, and that its duration
// is within bounds.
func (t *Tools) Validate(ctx context.Context, path string) (Info, error) {
	st, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, result.Errorf(result.KindNotFound, "audio file not found")
	}
	if err != nil {
		return Info{}, result.Wrap(result.KindFilesystem, err, "reading audio file")
	}
	if !st.Mode().IsRegular() {
		return Info{}, result.Errorf(result.KindInvalidInput, "audio path is not a file")
	}
	if err := security.CheckExtension(path, t.formats); err != nil {
		return Info{}, err
	}
	if err := security.CheckSize(st.Size(), t.maxMB); err != nil {
		return Info{}, err
	}

	out, err := t.probe(ctx, path)
	if err != nil {
		return Info{}, err
	}
	info, err := parseProbe(out)
	if err != nil {
		return Info{}, err
	}
	info.Path = path
	info.SizeBytes = st.Size()

	d := time.Duration(info.Duration * float64(time.Second))
	if d < t.minDur {
		return Info{}, result.Errorf(result.KindInvalidInput, "audio too short (%.1fs, minimum %s)", info.Duration, t.minDur)
	}
	if d > t.maxDur {
		return Info{}, result.Errorf(result.KindInvalidInput, "audio too long (%.0fs, maximum %s)", info.Duration, t.maxDur)
	}

	slog.Info("audio validated", "file", filepath.Base(path), "duration", info.Duration, "codec", info.Codec, "bytes", info.SizeBytes)
	return info, nil
}

func (t *Tools) probe(ctx context.Context, path string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, result.Wrap(result.KindUnavailable, err, "ffprobe is not installed")
		}
		if ctx.Err() != nil {
			return nil, result.Wrap(result.KindUnavailable, ctx.Err(), "ffprobe did not finish")
		}
		return nil, result.Errorf(result.KindInvalidInput, "corrupt or unsupported audio: %s", stderrText(stderr, err))
	}
	return stdout.Bytes(), nil
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// parseProbe extracts the first audio stream from ffprobe's JSON output.
// Containers that only report duration at the format level are supported.
func parseProbe(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, result.Wrap(result.KindInvalidInput, err, "decoding ffprobe output")
	}
	for _, s := range out.Streams {
		if s.CodecType != "audio" {
			continue
		}
		info := Info{
			Codec:      s.CodecName,
			BitRate:    s.BitRate,
			SampleRate: s.SampleRate,
			Channels:   s.Channels,
		}
		if info.BitRate == "" {
			info.BitRate = out.Format.BitRate
		}
		dur := s.Duration
		if dur == "" || dur == "N/A" {
			dur = out.Format.Duration
		}
		if dur != "" && dur != "N/A" {
			d, err := strconv.ParseFloat(dur, 64)
			if err != nil {
				return Info{}, result.Wrap(result.KindInvalidInput, err, "parsing duration %q", dur)
			}
			info.Duration = d
		}
		return info, nil
	}
	return Info{}, result.Errorf(result.KindInvalidInput, "file contains no audio stream")
}

func stderrText(stderr bytes.Buffer, err error) string {
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = err.Error()
	}
	if len(msg) > maxStderr {
		msg = msg[:maxStderr]
	}
	return msg
}
