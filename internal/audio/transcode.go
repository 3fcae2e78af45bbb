package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"

	"github.com/kalambet/v2v/internal/result"
)

// Target format for the transcriber.
const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16
)

// Convert transcodes input to a 16 kHz mono 16-bit PCM WAV named
// whisper_ready_<stem>.wav in the temp directory and verifies the result.
// The caller owns the returned file.
func (t *Tools) Convert(ctx context.Context, input string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	out := filepath.Join(t.tempDir, "whisper_ready_"+stem+".wav")

	cmd := exec.CommandContext(ctx, t.ffmpeg,
		"-y",
		"-v", "error",
		"-i", input,
		"-ar", fmt.Sprint(SampleRate),
		"-ac", fmt.Sprint(Channels),
		"-c:a", "pcm_s16le",
		out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		os.Remove(out)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", result.Wrap(result.KindUnavailable, err, "ffmpeg is not installed")
		}
		return "", result.Errorf(result.KindInvalidInput, "conversion failed: %s", stderrText(stderr, err))
	}

	format, err := VerifyWAV(out)
	if err != nil {
		os.Remove(out)
		return "", err
	}
	slog.Info("audio converted", "file", filepath.Base(out), "duration", format.Duration, "elapsed", time.Since(start))
	return out, nil
}

// WAVFormat is the header information of a WAV file.
type WAVFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// VerifyWAV checks that path is a readable WAV file in the target format.
func VerifyWAV(path string) (WAVFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVFormat{}, result.Wrap(result.KindFilesystem, err, "opening converted audio")
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return WAVFormat{}, result.Errorf(result.KindInvalidInput, "converted audio is not a valid WAV file")
	}
	format := WAVFormat{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if d, err := dec.Duration(); err == nil {
		format.Duration = d
	}

	if format.SampleRate != SampleRate || format.Channels != Channels || format.BitDepth != BitDepth {
		return format, result.Errorf(result.KindInvalidInput,
			"converted audio is %d Hz, %d channel(s), %d bit; want %d Hz mono %d bit",
			format.SampleRate, format.Channels, format.BitDepth, SampleRate, BitDepth)
	}
	return format, nil
}
