// Package intake runs submitted voice memos through validation,
// transcoding, transcription and analysis, and persists the result as an
// idea. Jobs wait in an unbounded FIFO queue drained by a fixed pool of
// workers.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/v2v/internal/analysis"
	"github.com/kalambet/v2v/internal/audio"
	"github.com/kalambet/v2v/internal/ideas"
	"github.com/kalambet/v2v/internal/result"
	"github.com/kalambet/v2v/internal/security"
	"github.com/kalambet/v2v/internal/transcribe"
)

// DefaultWorkers is the number of jobs processed concurrently.
const DefaultWorkers = 2

// Validator checks an uploaded file before any work is spent on it.
type Validator interface {
	Validate(ctx context.Context, path string) (audio.Info, error)
}

// Transcoder converts audio into the transcriber's input format.
type Transcoder interface {
	Convert(ctx context.Context, path string) (string, error)
}

// Transcriber turns speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (transcribe.Transcript, error)
}

// Analyzer structures a transcript into an idea.
type Analyzer interface {
	Analyze(ctx context.Context, transcript, language string) (analysis.Analysis, error)
}

// IdeaCreator persists an analyzed memo.
type IdeaCreator interface {
	Create(ctx context.Context, req ideas.CreateRequest) (ideas.Created, error)
}

// Cleaner post-processes transcripts.
type Cleaner interface {
	Clean(text string) string
}

// Deps are the collaborators of a Pipeline. Cleaner may be nil.
type Deps struct {
	Access      *security.Access
	Validator   Validator
	Transcoder  Transcoder
	Transcriber Transcriber
	Analyzer    Analyzer
	Ideas       IdeaCreator
	Cleaner     Cleaner
}

// Config tunes a Pipeline. Zero values select defaults.
type Config struct {
	Workers        int
	AllowedFormats []string
	MaxUploadMB    int
	StatusTTL      time.Duration
	Registerer     prometheus.Registerer // nil keeps metrics in a private registry
}

// Pipeline is the job queue and its workers.
type Pipeline struct {
	deps    Deps
	workers int
	formats []string
	maxMB   int

	mu    sync.Mutex
	queue []Job
	wake  chan struct{}

	active  atomic.Int64
	tracker *Tracker
	metrics *metrics
	now     func() time.Time
}

// New creates a Pipeline. Call Run to start processing.
func New(deps Deps, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if len(cfg.AllowedFormats) == 0 {
		cfg.AllowedFormats = security.DefaultAudioFormats
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = security.DefaultMaxUploadMB
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.NewRegistry()
	}
	return &Pipeline{
		deps:    deps,
		workers: cfg.Workers,
		formats: cfg.AllowedFormats,
		maxMB:   cfg.MaxUploadMB,
		wake:    make(chan struct{}, 1),
		tracker: NewTracker(cfg.StatusTTL),
		metrics: newMetrics(cfg.Registerer),
		now:     time.Now,
	}
}

// Admit rejects uploads that must not become jobs: unknown callers,
// unsupported formats and oversized files.
func (p *Pipeline) Admit(callerID, filename string, size int64) error {
	if !p.deps.Access.Authorize(callerID).CanCreate {
		return result.Errorf(result.KindUnauthorized, "caller %q is not authorized", callerID)
	}
	if err := security.CheckExtension(filename, p.formats); err != nil {
		return err
	}
	return security.CheckSize(size, p.maxMB)
}

// Submit appends job to the queue and returns its position, which is the
// queue length after insertion. A missing ID or SubmittedAt is filled in.
func (p *Pipeline) Submit(job Job) (Job, int, error) {
	if job.AudioPath == "" {
		return job, 0, result.Errorf(result.KindInvalidInput, "job has no audio")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = p.now()
	}

	p.mu.Lock()
	p.queue = append(p.queue, job)
	pos := len(p.queue)
	p.mu.Unlock()

	p.metrics.queueDepth.Set(float64(pos))
	p.tracker.set(Status{
		JobID:       job.ID,
		CallerID:    job.CallerID,
		Filename:    job.Filename,
		State:       StateQueued,
		SubmittedAt: job.SubmittedAt,
		UpdatedAt:   job.SubmittedAt,
	})
	p.signal()

	slog.Info("job queued", "job_id", job.ID, "caller", job.CallerID, "position", pos)
	return job, pos, nil
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// worker has finished its current job. Jobs still queued at that point are
// abandoned.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range p.workers {
		g.Go(func() error {
			p.work(ctx, i)
			return nil
		})
	}
	slog.Info("intake pipeline started", "workers", p.workers)
	err := g.Wait()
	slog.Info("intake pipeline stopped", "abandoned", p.QueueLen())
	return err
}

func (p *Pipeline) work(ctx context.Context, worker int) {
	for {
		job, ok := p.next(ctx)
		if !ok {
			return
		}
		// A dequeued job runs to completion even during shutdown.
		p.process(context.WithoutCancel(ctx), worker, job)
	}
}

// next blocks until a job is available or ctx is done.
func (p *Pipeline) next(ctx context.Context) (Job, bool) {
	for {
		if ctx.Err() != nil {
			return Job{}, false
		}
		p.mu.Lock()
		if len(p.queue) > 0 {
			job := p.queue[0]
			p.queue[0] = Job{}
			p.queue = p.queue[1:]
			remaining := len(p.queue)
			p.mu.Unlock()

			p.metrics.queueDepth.Set(float64(remaining))
			if remaining > 0 {
				p.signal()
			}
			return job, true
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, false
		case <-p.wake:
		}
	}
}

// Active returns the number of jobs being processed right now.
func (p *Pipeline) Active() int {
	return int(p.active.Load())
}

// QueueLen returns the number of jobs waiting for a worker.
func (p *Pipeline) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Workers returns the size of the worker pool.
func (p *Pipeline) Workers() int {
	return p.workers
}

// Status returns the tracked status of jobID.
func (p *Pipeline) Status(jobID string) (Status, bool) {
	return p.tracker.Get(jobID)
}

func (p *Pipeline) process(ctx context.Context, worker int, job Job) {
	p.active.Add(1)
	p.metrics.active.Inc()
	defer func() {
		p.active.Add(-1)
		p.metrics.active.Dec()
	}()

	slog.Info("job started", "job_id", job.ID, "worker", worker, "caller", job.CallerID)
	start := p.now()

	var temp []string
	out := p.safeRun(ctx, job, &temp)
	cleanup(append(temp, job.AudioPath)...)

	out.Elapsed = p.now().Sub(start)
	p.finish(job, out)
}

func (p *Pipeline) safeRun(ctx context.Context, job Job, temp *[]string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			out = failed(job, StageInternal, fmt.Errorf("panic: %v", r))
		}
	}()
	return p.run(ctx, job, temp)
}

func (p *Pipeline) run(ctx context.Context, job Job, temp *[]string) Outcome {
	p.setState(job, StateValidating)
	t := time.Now()
	info, err := p.deps.Validator.Validate(ctx, job.AudioPath)
	p.observe(StateValidating, t)
	if err != nil {
		return failed(job, StageValidation, err)
	}

	p.setState(job, StateTranscoding)
	t = time.Now()
	wav, err := p.deps.Transcoder.Convert(ctx, job.AudioPath)
	p.observe(StateTranscoding, t)
	if wav != "" {
		*temp = append(*temp, wav)
	}
	if err != nil {
		return failed(job, StageTranscoding, err)
	}

	p.setState(job, StateTranscribing)
	t = time.Now()
	tr, err := p.deps.Transcriber.Transcribe(ctx, wav)
	p.observe(StateTranscribing, t)
	if err != nil {
		return failed(job, StageTranscription, err)
	}
	text := tr.Text
	if p.deps.Cleaner != nil {
		text = p.deps.Cleaner.Clean(text)
	}
	if text == "" {
		return failed(job, StageTranscription, result.Errorf(result.KindInvalidInput, "transcript contains no words"))
	}

	p.setState(job, StateAnalyzing)
	t = time.Now()
	a, err := p.deps.Analyzer.Analyze(ctx, text, tr.Language)
	p.observe(StateAnalyzing, t)
	if err != nil {
		out := failed(job, StageAnalysis, err)
		if stage, ok := analysis.StageOf(err); ok {
			out.AnalysisStage = string(stage)
		}
		return out
	}

	p.setState(job, StatePersisting)
	t = time.Now()
	created, err := p.deps.Ideas.Create(ctx, ideas.CreateRequest{
		Analysis:      a,
		Transcript:    text,
		Language:      tr.Language,
		AudioPath:     job.AudioPath,
		AudioDuration: info.Duration,
		CreatorID:     job.CallerID,
	})
	p.observe(StatePersisting, t)
	if err != nil {
		out := failed(job, StagePersistence, err)
		if created.Path != "" {
			out.Idea = &created
		}
		return out
	}

	return Outcome{
		JobID:     job.ID,
		CallerID:  job.CallerID,
		State:     StateDone,
		Idea:      &created,
		Title:     a.Title,
		Category:  string(a.Category),
		Viability: a.Viability,
		Language:  tr.Language,
		Warnings:  append(append([]string{}, a.Warnings...), created.Warnings...),
	}
}

func failed(job Job, stage Stage, err error) Outcome {
	slog.Warn("job stage failed", "job_id", job.ID, "stage", stage, "error", err)
	return Outcome{
		JobID:    job.ID,
		CallerID: job.CallerID,
		State:    StateFailed,
		Stage:    stage,
		Error:    publicError(err),
	}
}

// publicError is the failure text stored on an Outcome. The wrapped cause
// only goes to the log.
func publicError(err error) string {
	var f *analysis.Failure
	if errors.As(err, &f) {
		return fmt.Sprintf("analysis failed at %s: %s", f.Stage, f.Message)
	}
	switch result.KindOf(err) {
	case result.KindInternal, result.KindFilesystem, result.KindPersistence:
		return "internal error"
	}
	return result.Message(err)
}

func (p *Pipeline) setState(job Job, s State) {
	p.tracker.set(Status{
		JobID:       job.ID,
		CallerID:    job.CallerID,
		Filename:    job.Filename,
		State:       s,
		SubmittedAt: job.SubmittedAt,
		UpdatedAt:   p.now(),
	})
	slog.Debug("job state", "job_id", job.ID, "state", s)
}

func (p *Pipeline) observe(s State, start time.Time) {
	p.metrics.stage.WithLabelValues(string(s)).Observe(time.Since(start).Seconds())
}

func (p *Pipeline) finish(job Job, out Outcome) {
	label := string(StateDone)
	if out.State == StateFailed {
		label = string(out.Stage)
		slog.Warn("job failed", "job_id", job.ID, "stage", out.Stage, "error", out.Error, "elapsed", out.Elapsed)
	} else {
		slog.Info("job done", "job_id", job.ID, "folder", out.Idea.FolderName, "elapsed", out.Elapsed)
	}
	p.metrics.jobs.WithLabelValues(label).Inc()

	p.tracker.set(Status{
		JobID:       job.ID,
		CallerID:    job.CallerID,
		Filename:    job.Filename,
		State:       out.State,
		SubmittedAt: job.SubmittedAt,
		UpdatedAt:   p.now(),
		Outcome:     &out,
	})

	if job.Notify != nil {
		notify(job, out)
	}
}

func notify(job Job, out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job notification panicked", "job_id", job.ID, "panic", r)
		}
	}()
	job.Notify(out)
}

// cleanup removes temporary files. Missing files are not an error.
func cleanup(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("removing temporary file", "path", path, "error", err)
		}
	}
}
