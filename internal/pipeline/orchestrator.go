package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/vidsift/vidsift/internal/logging"
	"github.com/vidsift/vidsift/internal/probe"
	"github.com/vidsift/vidsift/internal/source"
	"github.com/vidsift/vidsift/internal/tagging"
)

// Downloader retrieves a job's video into destDir and returns the local path.
type Downloader interface {
	Fetch(ctx context.Context, job source.VideoJob, destDir string) (string, error)
}

// Prober extracts technical metadata from a local file.
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.Metadata, error)
}

// SceneDetector returns ordered scene-change timestamps for a local file.
type SceneDetector interface {
	Detect(ctx context.Context, path string, threshold float64) ([]float64, error)
}

// Analyzer asks the vision-language service to describe a video.
type Analyzer interface {
	Describe(ctx context.Context, videoRef, instruction string) (string, error)
}

// Exporter persists a finalized record. Export is the durability point: a
// job only counts as succeeded once its record is exported.
type Exporter interface {
	Export(ctx context.Context, rec *Record) error
}

// Options holds the orchestration knobs.
type Options struct {
	MaxWorkers     int
	MaxRetries     int
	SceneThreshold float64
	DownloadDir    string
	Instruction    string

	DownloadTimeout time.Duration
	ProbeTimeout    time.Duration
	SceneTimeout    time.Duration
	AnalyzeTimeout  time.Duration
	ExportTimeout   time.Duration

	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Downloader Downloader
	Prober     Prober
	Scenes     SceneDetector
	Analyzer   Analyzer
	Exporter   Exporter
	Tagger     *tagging.Tagger
	Classifier *tagging.Classifier
	Logger     *slog.Logger

	// OnUpdate, when set, receives progress events as jobs move through
	// stages. Called from worker goroutines; implementations must be
	// safe for concurrent use.
	OnUpdate func(Update)
}

// Update is one progress event.
type Update struct {
	JobID       string
	DisplayName string
	Stage       Stage
	Done        bool
	Failed      bool
}

// Orchestrator runs the full stage sequence for each job, fanning jobs out
// across a bounded worker pool.
type Orchestrator struct {
	opts Options
	deps Deps
}

// New creates an Orchestrator, filling unset options with defaults. A zero
// timeout is treated as unset: otherwise every per-attempt context would
// expire immediately.
func New(opts Options, deps Deps) *Orchestrator {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 5
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 3
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 30 * time.Minute
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = time.Minute
	}
	if opts.SceneTimeout <= 0 {
		opts.SceneTimeout = 10 * time.Minute
	}
	if opts.AnalyzeTimeout <= 0 {
		opts.AnalyzeTimeout = 5 * time.Minute
	}
	if opts.ExportTimeout <= 0 {
		opts.ExportTimeout = 30 * time.Second
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 500 * time.Millisecond
	}
	if opts.RetryMaxInterval <= 0 {
		opts.RetryMaxInterval = 30 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tagger == nil {
		deps.Tagger = tagging.NewTagger(nil)
	}
	if deps.Classifier == nil {
		deps.Classifier = tagging.NewClassifier()
	}
	return &Orchestrator{opts: opts, deps: deps}
}

// Run processes every job and blocks until all of them reach a terminal
// state. A job's failure never affects its siblings; cancellation of ctx
// drains in-flight jobs to a cancelled terminal state instead of abandoning
// them. The report lists jobs in completion order.
func (o *Orchestrator) Run(ctx context.Context, jobs []source.VideoJob) *Report {
	logger := logging.WithComponent(o.deps.Logger, "orchestrator")
	logger.Info("run started", "jobs", len(jobs), "workers", o.opts.MaxWorkers)

	results := make(chan *Record, len(jobs))

	// The group context is deliberately not used for worker errors: process
	// never returns one. It only propagates cancellation of ctx.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxWorkers)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			results <- o.process(gctx, job)
			return nil
		})
	}

	_ = g.Wait()
	close(results)

	report := &Report{Succeeded: []*Record{}, Failed: []Failure{}}
	for rec := range results {
		if rec.Failed() {
			report.Failed = append(report.Failed, Failure{Job: rec.Job, Err: rec.Err})
		} else {
			report.Succeeded = append(report.Succeeded, rec)
		}
	}

	logger.Info("run finished",
		"total", report.Total(),
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
	)
	return report
}

// process runs the full stage sequence for one job. It always returns a
// terminal record and never an error: failures are recorded, not raised.
func (o *Orchestrator) process(ctx context.Context, job source.VideoJob) *Record {
	rec := NewRecord(job)
	logger := logging.WithJobID(o.deps.Logger, job.ID)

	if ctx.Err() != nil {
		rec.fail(StageDownload, KindCancelled, "run cancelled before job started")
		o.notify(rec, StageDownload)
		return rec
	}

	// Download: network-class, retried with backoff.
	o.notifyStage(job, StageDownload)
	err := o.retryStage(ctx, rec, StageDownload, o.opts.DownloadTimeout, func(sc context.Context) error {
		path, err := o.deps.Downloader.Fetch(sc, job, o.opts.DownloadDir)
		if err != nil {
			return err
		}
		rec.LocalPath = path
		return nil
	})
	if err != nil {
		rec.fail(StageDownload, o.failKind(ctx, err, KindDownload), err.Error())
		logger.Warn("job failed", "stage", StageDownload, "error", err)
		o.notify(rec, StageDownload)
		return rec
	}
	rec.StageReached = StageDownload

	// Probe: terminal on failure, no retry.
	o.notifyStage(job, StageProbe)
	meta, err := o.runProbe(ctx, rec.LocalPath)
	if err != nil {
		rec.fail(StageProbe, o.failKind(ctx, err, KindProbe), err.Error())
		logger.Warn("job failed", "stage", StageProbe, "error", err)
		o.notify(rec, StageProbe)
		return rec
	}
	rec.Metadata = meta
	rec.StageReached = StageProbe

	// Scene detection: terminal on failure, no retry. An empty timestamp
	// list is a normal outcome.
	o.notifyStage(job, StageScene)
	scenes, err := o.runScenes(ctx, rec.LocalPath)
	if err != nil {
		rec.fail(StageScene, o.failKind(ctx, err, KindSceneDetect), err.Error())
		logger.Warn("job failed", "stage", StageScene, "error", err)
		o.notify(rec, StageScene)
		return rec
	}
	if scenes == nil {
		scenes = []float64{}
	}
	rec.Scenes = scenes
	rec.StageReached = StageScene

	// AI description: network-class, retried with backoff.
	o.notifyStage(job, StageAnalyze)
	err = o.retryStage(ctx, rec, StageAnalyze, o.opts.AnalyzeTimeout, func(sc context.Context) error {
		desc, err := o.deps.Analyzer.Describe(sc, job.SourceRef, o.opts.Instruction)
		if err != nil {
			return err
		}
		rec.Description = desc
		return nil
	})
	if err != nil {
		rec.fail(StageAnalyze, o.failKind(ctx, err, KindAnalysis), err.Error())
		logger.Warn("job failed", "stage", StageAnalyze, "error", err)
		o.notify(rec, StageAnalyze)
		return rec
	}
	rec.StageReached = StageAnalyze

	// Tagging and classification are pure and cannot fail.
	snap := tagging.Snapshot{Metadata: rec.Metadata, Description: rec.Description}
	rec.Tags = o.deps.Tagger.Apply(snap)
	rec.StageReached = StageTag
	rec.Category = o.deps.Classifier.Classify(rec.Tags, snap)
	rec.StageReached = StageClassify

	// Export: the durability point.
	o.notifyStage(job, StageExport)
	expCtx, cancel := context.WithTimeout(ctx, o.opts.ExportTimeout)
	err = o.deps.Exporter.Export(expCtx, rec)
	cancel()
	if err != nil {
		rec.fail(StageExport, o.failKind(ctx, err, KindExport), err.Error())
		logger.Warn("job failed", "stage", StageExport, "error", err)
		o.notify(rec, StageExport)
		return rec
	}
	rec.StageReached = StageExport
	rec.FinishedAt = time.Now().UTC()

	logger.Info("job completed",
		"category", rec.Category,
		"tags", rec.Tags,
		"scenes", len(rec.Scenes),
		"resolution", rec.Metadata.Resolution(),
		"duration_ms", rec.FinishedAt.Sub(rec.StartedAt).Milliseconds(),
	)
	o.notify(rec, StageExport)
	return rec
}

func (o *Orchestrator) runProbe(ctx context.Context, path string) (*probe.Metadata, error) {
	sc, cancel := context.WithTimeout(ctx, o.opts.ProbeTimeout)
	defer cancel()
	return o.deps.Prober.Probe(sc, path)
}

func (o *Orchestrator) runScenes(ctx context.Context, path string) ([]float64, error) {
	sc, cancel := context.WithTimeout(ctx, o.opts.SceneTimeout)
	defer cancel()
	return o.deps.Scenes.Detect(sc, path, o.opts.SceneThreshold)
}

// retryStage runs op with a per-attempt timeout under the configured
// exponential backoff policy. Permanent failures short-circuit; the number
// of attempts is recorded on the record.
func (o *Orchestrator) retryStage(ctx context.Context, rec *Record, stage Stage, timeout time.Duration, op func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.opts.RetryInitialInterval
	bo.MaxInterval = o.opts.RetryMaxInterval

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(o.opts.MaxRetries)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		sc, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := op(sc)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// The run is being cancelled; do not burn retries against it.
			return backoff.Permanent(err)
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		logging.WithStage(logging.WithJobID(o.deps.Logger, rec.Job.ID), string(stage)).Warn(
			"transient failure, will retry",
			"attempt", attempts,
			"error", err,
		)
		return err
	}, policy)

	rec.Attempts[stage] = attempts
	return err
}

// isRetryable reports whether the error is network-class. Adapters mark
// their errors via an IsRetryable method; per-attempt timeouts count too.
func isRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// failKind maps an error to its report kind: cancellation and timeouts are
// surfaced as such, everything else keeps the stage's own kind.
func (o *Orchestrator) failKind(ctx context.Context, err error, stageKind Kind) Kind {
	if ctx.Err() == context.Canceled {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return stageKind
}

func (o *Orchestrator) notifyStage(job source.VideoJob, stage Stage) {
	if o.deps.OnUpdate == nil {
		return
	}
	o.deps.OnUpdate(Update{JobID: job.ID, DisplayName: job.DisplayName, Stage: stage})
}

func (o *Orchestrator) notify(rec *Record, stage Stage) {
	if o.deps.OnUpdate == nil {
		return
	}
	o.deps.OnUpdate(Update{
		JobID:       rec.Job.ID,
		DisplayName: rec.Job.DisplayName,
		Stage:       stage,
		Done:        true,
		Failed:      rec.Failed(),
	})
}
