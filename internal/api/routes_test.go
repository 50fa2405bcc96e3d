package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vidsift/vidsift/internal/history"
	"github.com/vidsift/vidsift/internal/pipeline"
	"github.com/vidsift/vidsift/internal/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHistory struct {
	runs []*history.Run
	jobs map[string][]*history.JobOutcome
}

func (f *fakeHistory) RecordRun(ctx context.Context, run *history.Run, jobs []*history.JobOutcome) error {
	return nil
}

func (f *fakeHistory) ListRuns(ctx context.Context, limit int) ([]*history.Run, error) {
	return f.runs, nil
}

func (f *fakeHistory) ListRunJobs(ctx context.Context, runID string) ([]*history.JobOutcome, error) {
	return f.jobs[runID], nil
}

func testRouter(tracker *Tracker, hist history.Repository) http.Handler {
	return NewRouter(ServerConfig{
		Tracker:   tracker,
		History:   hist,
		Logger:    testLogger(),
		StartTime: time.Now(),
	})
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rec := doGet(t, testRouter(NewTracker(), nil), "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("health status = %q", resp.Status)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing request id header")
	}
}

func TestRunStatusEndpoint(t *testing.T) {
	tracker := NewTracker()
	tracker.StartRun(3)
	tracker.Update(pipeline.Update{JobID: "j1", DisplayName: "a.mp4", Stage: pipeline.StageDownload})
	tracker.Update(pipeline.Update{JobID: "j2", DisplayName: "b.mp4", Stage: pipeline.StageExport, Done: true})
	tracker.Update(pipeline.Update{JobID: "j3", DisplayName: "c.mp4", Stage: pipeline.StageProbe, Done: true, Failed: true})

	rec := doGet(t, testRouter(tracker, nil), "/api/run")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status RunStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.State != "running" {
		t.Errorf("state = %q, want running", status.State)
	}
	if status.Total != 3 || status.Completed != 2 || status.Failed != 1 {
		t.Errorf("counts = total %d completed %d failed %d", status.Total, status.Completed, status.Failed)
	}
	if len(status.Running) != 1 || status.Running[0].JobID != "j1" {
		t.Errorf("running = %+v", status.Running)
	}
}

func TestRunReportEndpoint(t *testing.T) {
	tracker := NewTracker()
	tracker.StartRun(1)
	router := testRouter(tracker, nil)

	// In flight: no report yet.
	rec := doGet(t, router, "/api/run/report")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 while running", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Code != "RUN_IN_PROGRESS" {
		t.Errorf("error code = %q", errResp.Code)
	}

	// Done: report served.
	r := pipeline.NewRecord(source.NewJob("https://cdn.example.com/a.mp4"))
	tracker.SetReport(&pipeline.Report{Succeeded: []*pipeline.Record{r}, Failed: []pipeline.Failure{}})

	rec = doGet(t, router, "/api/run/report")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after run", rec.Code)
	}
	var report pipeline.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Succeeded) != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	hist := &fakeHistory{
		runs: []*history.Run{{ID: "run-1", Total: 2, Succeeded: 1, Failed: 1}},
		jobs: map[string][]*history.JobOutcome{
			"run-1": {{ID: "j1", RunID: "run-1", Status: history.StatusSucceeded}},
		},
	}
	router := testRouter(NewTracker(), hist)

	rec := doGet(t, router, "/api/history/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var runs []*history.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("runs = %+v", runs)
	}

	rec = doGet(t, router, "/api/history/runs/run-1/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var jobs []*history.JobOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Status != history.StatusSucceeded {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestHistoryEndpointsDisabled(t *testing.T) {
	router := testRouter(NewTracker(), nil)

	for _, path := range []string{"/api/history/runs", "/api/history/runs/x/jobs"} {
		rec := doGet(t, router, path)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
		var errResp ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
			t.Fatal(err)
		}
		if errResp.Code != "HISTORY_DISABLED" {
			t.Errorf("error code = %q", errResp.Code)
		}
	}
}

func TestTrackerSnapshot_States(t *testing.T) {
	tracker := NewTracker()

	if got := tracker.Snapshot().State; got != "idle" {
		t.Errorf("fresh tracker state = %q, want idle", got)
	}

	tracker.StartRun(2)
	if got := tracker.Snapshot().State; got != "running" {
		t.Errorf("state after StartRun = %q, want running", got)
	}

	tracker.SetReport(&pipeline.Report{Succeeded: []*pipeline.Record{}, Failed: []pipeline.Failure{}})
	if got := tracker.Snapshot().State; got != "done" {
		t.Errorf("state after SetReport = %q, want done", got)
	}
}

func TestTrackerStartRunResets(t *testing.T) {
	tracker := NewTracker()
	tracker.StartRun(1)
	tracker.Update(pipeline.Update{JobID: "old", Stage: pipeline.StageDownload})
	tracker.SetReport(&pipeline.Report{})

	tracker.StartRun(5)
	status := tracker.Snapshot()
	if status.Total != 5 || status.Completed != 0 || len(status.Running) != 0 {
		t.Errorf("snapshot after reset = %+v", status)
	}
	if status.State != "running" {
		t.Errorf("state = %q, want running", status.State)
	}
	if tracker.Report() != nil {
		t.Error("report survived reset")
	}
}
