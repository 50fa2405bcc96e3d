package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vidsift/vidsift/internal/probe"
	"github.com/vidsift/vidsift/internal/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDownloader struct {
	calls atomic.Int32
	fn    func(job source.VideoJob, attempt int) (string, error)
}

func (f *fakeDownloader) Fetch(ctx context.Context, job source.VideoJob, destDir string) (string, error) {
	attempt := int(f.calls.Add(1))
	if f.fn != nil {
		return f.fn(job, attempt)
	}
	return "/tmp/" + job.ID + ".mp4", nil
}

type fakeProber struct {
	calls atomic.Int32
	fn    func(path string) (*probe.Metadata, error)
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*probe.Metadata, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(path)
	}
	return &probe.Metadata{
		Duration: 120.5, Width: 1920, Height: 1080,
		Codec: "h264", FPS: 24, Container: "mov,mp4,m4a,3gp,3g2,mj2",
	}, nil
}

type fakeSceneDetector struct {
	fn func(path string, threshold float64) ([]float64, error)
}

func (f *fakeSceneDetector) Detect(ctx context.Context, path string, threshold float64) ([]float64, error) {
	if f.fn != nil {
		return f.fn(path, threshold)
	}
	return []float64{1.5, 30.2}, nil
}

type fakeAnalyzer struct {
	calls atomic.Int32
	fn    func(videoRef string, attempt int) (string, error)
}

func (f *fakeAnalyzer) Describe(ctx context.Context, videoRef, instruction string) (string, error) {
	attempt := int(f.calls.Add(1))
	if f.fn != nil {
		return f.fn(videoRef, attempt)
	}
	return "A calm nature documentary scene.", nil
}

type fakeExporter struct {
	mu       sync.Mutex
	exported []*Record
	fn       func(rec *Record) error
}

func (f *fakeExporter) Export(ctx context.Context, rec *Record) error {
	if f.fn != nil {
		if err := f.fn(rec); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exported = append(f.exported, rec)
	return nil
}

func (f *fakeExporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exported)
}

// retryableError mimics a network-class adapter failure.
type retryableError struct{ msg string }

func (e *retryableError) Error() string     { return e.msg }
func (e *retryableError) IsRetryable() bool { return true }

// permanentError mimics a client-side adapter failure.
type permanentError struct{ msg string }

func (e *permanentError) Error() string     { return e.msg }
func (e *permanentError) IsRetryable() bool { return false }

func testOptions() Options {
	return Options{
		MaxWorkers:           3,
		MaxRetries:           3,
		SceneThreshold:       0.3,
		DownloadDir:          "/tmp",
		Instruction:          "Describe this video.",
		DownloadTimeout:      time.Second,
		ProbeTimeout:         time.Second,
		SceneTimeout:         time.Second,
		AnalyzeTimeout:       time.Second,
		ExportTimeout:        time.Second,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
	}
}

func testDeps(dl *fakeDownloader, pr *fakeProber, sc *fakeSceneDetector, an *fakeAnalyzer, ex *fakeExporter) Deps {
	return Deps{
		Downloader: dl,
		Prober:     pr,
		Scenes:     sc,
		Analyzer:   an,
		Exporter:   ex,
		Logger:     testLogger(),
	}
}

func makeJobs(n int) []source.VideoJob {
	jobs := make([]source.VideoJob, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, source.NewJob(fmt.Sprintf("https://videos.example.com/clip%d.mp4", i)))
	}
	return jobs
}

func TestRun_AllSucceed(t *testing.T) {
	ex := &fakeExporter{}
	o := New(testOptions(), testDeps(&fakeDownloader{}, &fakeProber{}, &fakeSceneDetector{}, &fakeAnalyzer{}, ex))

	jobs := makeJobs(4)
	report := o.Run(context.Background(), jobs)

	if !report.AllSucceeded() {
		t.Fatalf("expected all jobs to succeed, failed: %+v", report.Failed)
	}
	if report.Total() != len(jobs) {
		t.Fatalf("report total = %d, want %d", report.Total(), len(jobs))
	}
	if ex.count() != len(jobs) {
		t.Fatalf("exported %d records, want %d", ex.count(), len(jobs))
	}

	rec := report.Succeeded[0]
	if rec.Metadata == nil || rec.Description == "" || rec.Category == "" || rec.Tags == nil {
		t.Fatalf("record not fully populated: %+v", rec)
	}
	if rec.StageReached != StageExport {
		t.Fatalf("stage reached = %s, want %s", rec.StageReached, StageExport)
	}
}

func TestRun_EveryJobAppearsExactlyOnce(t *testing.T) {
	// Half the jobs fail at download; the partition invariant must hold.
	dl := &fakeDownloader{fn: func(job source.VideoJob, _ int) (string, error) {
		if job.DisplayName == "clip0.mp4" || job.DisplayName == "clip2.mp4" {
			return "", &permanentError{msg: "404 not found"}
		}
		return "/tmp/" + job.ID + ".mp4", nil
	}}
	o := New(testOptions(), testDeps(dl, &fakeProber{}, &fakeSceneDetector{}, &fakeAnalyzer{}, &fakeExporter{}))

	jobs := makeJobs(5)
	report := o.Run(context.Background(), jobs)

	if got := report.Total(); got != len(jobs) {
		t.Fatalf("total = %d, want %d", got, len(jobs))
	}

	seen := make(map[string]int)
	for _, rec := range report.Succeeded {
		seen[rec.Job.ID]++
	}
	for _, f := range report.Failed {
		seen[f.Job.ID]++
	}
	for _, job := range jobs {
		if seen[job.ID] != 1 {
			t.Fatalf("job %s appears %d times in report, want exactly 1", job.DisplayName, seen[job.ID])
		}
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	dl := &fakeDownloader{fn: func(job source.VideoJob, _ int) (string, error) {
		if job.DisplayName == "clip0.mp4" {
			return "", &permanentError{msg: "404 not found"}
		}
		return "/tmp/" + job.ID + ".mp4", nil
	}}
	ex := &fakeExporter{}
	o := New(testOptions(), testDeps(dl, &fakeProber{}, &fakeSceneDetector{}, &fakeAnalyzer{}, ex))

	report := o.Run(context.Background(), makeJobs(2))

	if len(report.Succeeded) != 1 {
		t.Fatalf("succeeded = %d, want 1", len(report.Succeeded))
	}
	if len(report.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(report.Failed))
	}

	f := report.Failed[0]
	if f.Err.Stage != StageDownload || f.Err.Kind != KindDownload {
		t.Fatalf("failure = stage %s kind %s, want stage %s kind %s",
			f.Err.Stage, f.Err.Kind, StageDownload, KindDownload)
	}

	rec := report.Succeeded[0]
	if rec.Metadata == nil || rec.Description == "" || rec.Category == "" || len(rec.Scenes) == 0 {
		t.Fatalf("surviving record not fully populated: %+v", rec)
	}
}

func TestRun_RetryTransientDownloadFailures(t *testing.T) {
	// Two transient failures, then success: the job must succeed and the
	// attempt count must be recorded.
	dl := &fakeDownloader{fn: func(job source.VideoJob, attempt int) (string, error) {
		if attempt <= 2 {
			return "", &retryableError{msg: "connection reset"}
		}
		return "/tmp/" + job.ID + ".mp4", nil
	}}
	o := New(testOptions(), testDeps(dl, &fakeProber{}, &fakeSceneDetector{}, &fakeAnalyzer{}, &fakeExporter{}))

	report := o.Run(context.Background(), makeJobs(1))

	if !report.AllSucceeded() {
		t.Fatalf("expected success after retries, got %+v", report.Failed)
	}
	attempts := report.Succeeded[0].Attempts[StageDownload]
	if attempts != 3 {
		t.Fatalf("download attempts = %d, want 3", attempts)
	}
	if attempts > testOptions().MaxRetries+1 {
		t.Fatalf("attempts %d exceeded configured cap", attempts)
	}
}

func TestRun_RetryCapExceeded(t *testing.T) {
	dl := &fakeDownloader{fn: func(source.VideoJob, int) (string, error) {
		return "", &retryableError{msg: "503 service unavailable"}
	}}
	o := New(testOptions(), testDeps(dl, &fakeProber{}, &fakeSceneDetector{}, &fakeAnalyzer{}, &fakeExporter{}))

	report := o.Run(context.Background(), makeJobs(1))

	if len(report.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(report.Failed))
	}
	f := report.Failed[0]
	if f.Err.Kind != KindDownload {
		t.Fatalf("failure kind = %s, want %s", f.Err.Kind, KindDownload)
	}
	// MaxRetries=3 means 1 initial try + 3 retries
	if got := int(dl.calls.Load()); got != 4 {
		t.Fatalf("download attempts = %d, want 4", got)
	}
}

func TestRun_PermanentDownloadFailureNotRetried(t *testing.T) {
	dl := &fakeDownloader{fn: func(source.VideoJob, int) (string, error) {
		return "", &permanentError{msg: "404 not found"}
	}}
	o := New(testOptions(), testDeps(dl, &fakeProber{}, &fakeSceneDetector{}, &fakeAnalyzer{}, &fakeExporter{}))

	report := o.Run(context.Background(), makeJobs(1))

	if len(report.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(report.Failed))
	}
	if got := int(dl.calls.Load()); got != 1 {
		t.Fatalf("download attempts = %d, want 1 (no retries for permanent errors)", got)
	}
}

func TestRun_ProbeFailureIsTerminalWithoutRetry(t *testing.T) {
	pr := &fakeProber{fn: func(string) (*probe.Metadata, error) {
		return nil, fmt.Errorf("moov atom not found")
	}}
	o := New(testOptions(), testDeps(&fakeDownloader{}, pr, &fakeSceneDetector{}, &fakeAnalyzer{}, &fakeExporter{}))

	report := o.Run(context.Background(), makeJobs(1))

	if len(report.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(report.Failed))
	}
	f := report.Failed[0]
	if f.Err.Stage != StageProbe || f.Err.Kind != KindProbe {
		t.Fatalf("failure = stage %s kind %s, want probe/probe", f.Err.Stage, f.Err.Kind)
	}
	if got := int(pr.calls.Load()); got != 1 {
		t.Fatalf("probe attempts = %d, want 1", got)
	}
}

func TestRun_EmptySceneListIsNotAnError(t *testing.T) {
	sc := &fakeSceneDetector{fn: func(string, float64) ([]float64, error) {
		return nil, nil
	}}
	o := New(testOptions(), testDeps(&fakeDownloader{}, &fakeProber{}, sc, &fakeAnalyzer{}, &fakeExporter{}))

	report := o.Run(context.Background(), makeJobs(1))

	if !report.AllSucceeded() {
		t.Fatalf("expected success with no scenes, got %+v", report.Failed)
	}
	rec := report.Succeeded[0]
	if rec.Scenes == nil || len(rec.Scenes) != 0 {
		t.Fatalf("scenes = %v, want empty non-nil slice", rec.Scenes)
	}
	if rec.Description == "" || rec.Category == "" {
		t.Fatalf("downstream stages did not run: %+v", rec)
	}
}

func TestRun_AnalyzeRetriedThenSucceeds(t *testing.T) {
	an := &fakeAnalyzer{fn: func(videoRef string, attempt int) (string, error) {
		if attempt == 1 {
			return "", &retryableError{msg: "502 bad gateway"}
		}
		return "An Action packed chase.", nil
	}}
	o := New(testOptions(), testDeps(&fakeDownloader{}, &fakeProber{}, &fakeSceneDetector{}, an, &fakeExporter{}))

	report := o.Run(context.Background(), makeJobs(1))

	if !report.AllSucceeded() {
		t.Fatalf("expected success, got %+v", report.Failed)
	}
	rec := report.Succeeded[0]
	if rec.Attempts[StageAnalyze] != 2 {
		t.Fatalf("analyze attempts = %d, want 2", rec.Attempts[StageAnalyze])
	}
	if rec.Category != "Action" {
		t.Fatalf("category = %q, want Action", rec.Category)
	}
}

func TestRun_ExportFailureFailsJob(t *testing.T) {
	ex := &fakeExporter{fn: func(*Record) error {
		return fmt.Errorf("disk full")
	}}
	o := New(testOptions(), testDeps(&fakeDownloader{}, &fakeProber{}, &fakeSceneDetector{}, &fakeAnalyzer{}, ex))

	report := o.Run(context.Background(), makeJobs(1))

	if len(report.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(report.Failed))
	}
	f := report.Failed[0]
	if f.Err.Stage != StageExport || f.Err.Kind != KindExport {
		t.Fatalf("failure = stage %s kind %s, want export/export", f.Err.Stage, f.Err.Kind)
	}
}

func TestRun_CancellationDrainsToCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 1)
	dl := &fakeDownloader{fn: func(job source.VideoJob, _ int) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return "", &retryableError{msg: "interrupted"}
	}}

	opts := testOptions()
	opts.MaxWorkers = 1
	o := New(opts, testDeps(dl, &fakeProber{}, &fakeSceneDetector{}, &fakeAnalyzer{}, &fakeExporter{}))

	go func() {
		<-started
		cancel()
	}()

	report := o.Run(ctx, makeJobs(3))

	if report.Total() != 3 {
		t.Fatalf("total = %d, want 3 (cancelled jobs still reported)", report.Total())
	}
	if len(report.Failed) != 3 {
		t.Fatalf("failed = %d, want 3", len(report.Failed))
	}
	for _, f := range report.Failed {
		if f.Err.Kind != KindCancelled {
			t.Fatalf("failure kind = %s, want %s", f.Err.Kind, KindCancelled)
		}
	}
}

func TestRun_WorkerLimitRespected(t *testing.T) {
	var running, peak atomic.Int32
	dl := &fakeDownloader{fn: func(job source.VideoJob, _ int) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return "/tmp/" + job.ID + ".mp4", nil
	}}

	opts := testOptions()
	opts.MaxWorkers = 2
	o := New(opts, testDeps(dl, &fakeProber{}, &fakeSceneDetector{}, &fakeAnalyzer{}, &fakeExporter{}))

	report := o.Run(context.Background(), makeJobs(6))

	if !report.AllSucceeded() {
		t.Fatalf("expected success, got %+v", report.Failed)
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrent downloads = %d, want <= 2", p)
	}
}

func TestRun_ProgressUpdatesEmitted(t *testing.T) {
	var mu sync.Mutex
	var updates []Update

	deps := testDeps(&fakeDownloader{}, &fakeProber{}, &fakeSceneDetector{}, &fakeAnalyzer{}, &fakeExporter{})
	deps.OnUpdate = func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	}
	o := New(testOptions(), deps)

	o.Run(context.Background(), makeJobs(1))

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 {
		t.Fatal("expected progress updates")
	}
	last := updates[len(updates)-1]
	if !last.Done || last.Failed {
		t.Fatalf("final update = %+v, want done and not failed", last)
	}
}

// deadlineDownloader fails if its per-attempt context is already expired,
// the way a real HTTP client would.
type deadlineDownloader struct{}

func (deadlineDownloader) Fetch(ctx context.Context, job source.VideoJob, destDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "/tmp/" + job.ID + ".mp4", nil
}

func TestNew_ZeroOptionsGetUsableDefaults(t *testing.T) {
	deps := testDeps(&fakeDownloader{}, &fakeProber{}, &fakeSceneDetector{}, &fakeAnalyzer{}, &fakeExporter{})
	deps.Downloader = deadlineDownloader{}

	o := New(Options{}, deps)

	if o.opts.DownloadTimeout <= 0 || o.opts.ProbeTimeout <= 0 || o.opts.SceneTimeout <= 0 ||
		o.opts.AnalyzeTimeout <= 0 || o.opts.ExportTimeout <= 0 {
		t.Fatalf("zero timeouts survived New: %+v", o.opts)
	}
	if o.opts.MaxWorkers <= 0 {
		t.Fatalf("max workers = %d", o.opts.MaxWorkers)
	}

	report := o.Run(context.Background(), makeJobs(1))
	if !report.AllSucceeded() {
		t.Fatalf("zero-options run failed: %+v", report.Failed)
	}
}

func TestRecord_TerminalOnceFailed(t *testing.T) {
	rec := NewRecord(source.NewJob("https://videos.example.com/a.mp4"))
	rec.fail(StageDownload, KindDownload, "boom")
	rec.fail(StageProbe, KindProbe, "should be ignored")

	if rec.Err.Stage != StageDownload || rec.Err.Kind != KindDownload {
		t.Fatalf("first failure was overwritten: %+v", rec.Err)
	}
}
