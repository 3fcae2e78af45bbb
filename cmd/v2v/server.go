package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/v2v/internal/analysis"
	"github.com/kalambet/v2v/internal/api"
	"github.com/kalambet/v2v/internal/audio"
	"github.com/kalambet/v2v/internal/config"
	"github.com/kalambet/v2v/internal/export"
	"github.com/kalambet/v2v/internal/ideas"
	"github.com/kalambet/v2v/internal/intake"
	"github.com/kalambet/v2v/internal/ollama"
	"github.com/kalambet/v2v/internal/search"
	"github.com/kalambet/v2v/internal/security"
	"github.com/kalambet/v2v/internal/storage"
	"github.com/kalambet/v2v/internal/transcribe"
)

// sweepInterval is how often expired download links are evicted.
const sweepInterval = 5 * time.Minute

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the v2v server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running v2v server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show v2v system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice. The health endpoint is the authority, the PID
	// file only improves the message.
	pidPath := cfg.PIDFile()
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("v2v is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("v2v is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llm := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, llm, cfg.Ollama.Model, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	authorized := config.SplitList(cfg.Access.Authorized)
	admins := config.SplitList(cfg.Access.Admins)
	if len(authorized) == 0 && len(admins) == 0 {
		slog.Warn("no authorized callers configured; every request will be refused",
			"hint", "v2v config set access.authorized alice,bob")
	}
	access := security.NewAccess(authorized, admins)

	repo, err := ideas.New(store, access, ideas.Config{
		BaseDir:       cfg.Ideas.Dir,
		MaxNameLength: cfg.Ideas.MaxNameLength,
	})
	if err != nil {
		return err
	}

	tools := audio.New(audio.Options{
		FFprobePath:    cfg.Audio.FFprobePath,
		FFmpegPath:     cfg.Audio.FFmpegPath,
		TempDir:        cfg.Audio.TempDir,
		AllowedFormats: cfg.AudioFormats(),
		MaxSizeMB:      cfg.Audio.MaxUploadMB,
		MinDuration:    time.Duration(cfg.Audio.MinSeconds) * time.Second,
		MaxDuration:    time.Duration(cfg.Audio.MaxSeconds) * time.Second,
	})

	whisper := transcribe.New(transcribe.Options{
		BaseURL:  cfg.Whisper.BaseURL,
		Model:    cfg.Whisper.Model,
		Language: cfg.Whisper.Language,
		APIKey:   cfg.Whisper.APIKey,
		Timeout:  time.Duration(cfg.Whisper.TimeoutSeconds) * time.Second,
	})
	if !whisper.IsRunning(ctx) {
		slog.Warn("transcription server not reachable; jobs will fail until it is up", "url", cfg.Whisper.BaseURL)
	}

	analyzer := analysis.NewAnalyzer(llm, analysis.Config{
		Model:       cfg.Ollama.Model,
		Timeout:     time.Duration(cfg.Ollama.TimeoutSeconds) * time.Second,
		Temperature: cfg.Ollama.Temperature,
		MaxTokens:   cfg.Ollama.MaxTokens,
	})

	var cleaner intake.Cleaner
	if cfg.Whisper.RemoveFillers {
		words := config.SplitList(cfg.Whisper.FillerWords)
		if len(words) == 0 {
			words = transcribe.DefaultFillers
		}
		cleaner = transcribe.NewCleaner(words)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pipe := intake.New(intake.Deps{
		Access:      access,
		Validator:   tools,
		Transcoder:  tools,
		Transcriber: whisper,
		Analyzer:    analyzer,
		Ideas:       repo,
		Cleaner:     cleaner,
	}, intake.Config{
		Workers:        cfg.Intake.Workers,
		AllowedFormats: cfg.AudioFormats(),
		MaxUploadMB:    cfg.Audio.MaxUploadMB,
		StatusTTL:      time.Duration(cfg.Intake.StatusTTLMinutes) * time.Minute,
		Registerer:     reg,
	})

	exp, err := export.New(export.Options{
		IdeasDir:     cfg.Ideas.Dir,
		DownloadsDir: cfg.Export.Dir,
		TTL:          time.Duration(cfg.Export.TTLMinutes) * time.Minute,
		Access:       access,
	})
	if err != nil {
		return fmt.Errorf("opening export registry: %w", err)
	}

	index := search.New(store, access)

	if err := os.MkdirAll(cfg.Server.UploadDir, 0o700); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}

	handler := api.NewHandler(api.Deps{
		Token:       apiToken,
		Access:      access,
		Jobs:        pipe,
		Ideas:       repo,
		Search:      index,
		Exports:     exp,
		DB:          store.DB(),
		UploadDir:   cfg.Server.UploadDir,
		MaxUploadMB: cfg.Audio.MaxUploadMB,
		Registry:    reg,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pipe.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := exp.Sweep(); n > 0 {
					slog.Info("expired download links removed", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "v2v listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.MCP.Enabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Search:   index,
			Ideas:    repo,
			Exports:  exp,
			Access:   access,
			CallerID: cfg.MCP.CallerID,
		}, version)
		stdio := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)", "caller", cfg.MCP.CallerID)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := cfg.PIDFile()
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("v2v is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop v2v (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to v2v (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	conn := ollama.New(cfg.Ollama.BaseURL).Probe(ctx, cfg.Ollama.Model)
	switch {
	case !conn.Available:
		printStatus("Ollama", "not running")
		printStatus("Model", "%s", cfg.Ollama.Model)
	case conn.ModelAvailable:
		printStatus("Ollama", "running at %s", conn.Host)
		printStatus("Model", "%s (installed)", cfg.Ollama.Model)
	default:
		printStatus("Ollama", "running at %s", conn.Host)
		printStatus("Model", "%s (missing, pulled on start)", cfg.Ollama.Model)
	}

	whisper := transcribe.New(transcribe.Options{BaseURL: cfg.Whisper.BaseURL, APIKey: cfg.Whisper.APIKey})
	if whisper.IsRunning(ctx) {
		printStatus("Whisper", "running at %s", cfg.Whisper.BaseURL)
	} else {
		printStatus("Whisper", "not running")
	}

	printStatus("Ideas dir", "%s", cfg.Ideas.Dir)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
