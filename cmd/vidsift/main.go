package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vidsift/vidsift/internal/analyze"
	"github.com/vidsift/vidsift/internal/api"
	"github.com/vidsift/vidsift/internal/config"
	"github.com/vidsift/vidsift/internal/download"
	"github.com/vidsift/vidsift/internal/export"
	"github.com/vidsift/vidsift/internal/history"
	"github.com/vidsift/vidsift/internal/logging"
	"github.com/vidsift/vidsift/internal/pipeline"
	"github.com/vidsift/vidsift/internal/probe"
	"github.com/vidsift/vidsift/internal/scene"
	"github.com/vidsift/vidsift/internal/source"
	"github.com/vidsift/vidsift/internal/tagging"
)

// Exit codes: 0 all jobs succeeded, 1 at least one job failed,
// 2 the run could not start at all.
const (
	exitOK         = 0
	exitJobsFailed = 1
	exitFatal      = 2
)

// urlList collects repeated --url flags, splitting comma-separated values.
type urlList []string

func (u *urlList) String() string { return strings.Join(*u, ",") }

func (u *urlList) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			*u = append(*u, v)
		}
	}
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; environment variables may be set directly
	_ = godotenv.Load()

	var urls urlList
	flag.Var(&urls, "url", "video URL to process (repeatable, or comma-separated)")
	csvPath := flag.String("csv", "", "CSV manifest of remote files (file_name,file_size,last_modified,public_url)")
	configPath := flag.String("config", "", "path to YAML configuration file")
	output := flag.String("output", "", "output directory for processed records")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	workers := flag.Int("workers", 0, "number of concurrent workers")
	sceneThreshold := flag.Float64("scene-threshold", -1, "scene detection threshold (0..1)")
	instruction := flag.String("instruction", "", "instruction passed to the vision-language model")
	tagRules := flag.String("tag-rules", "", "path to custom tagging rules JSON")
	useVPC := flag.Bool("use-vpc", false, "use the private-network inference endpoint")
	statusPort := flag.Int("status-port", -1, "local status API port (0 disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("fatal: %v", err)
		return exitFatal
	}

	// Flag overrides win over file and environment
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *output != "" {
		cfg.Paths.ProcessedDir = *output
	}
	if *workers > 0 {
		cfg.Pipeline.MaxWorkers = *workers
	}
	if *sceneThreshold >= 0 {
		cfg.Pipeline.SceneThreshold = *sceneThreshold
	}
	if *instruction != "" {
		cfg.AI.Instruction = *instruction
	}
	if *useVPC {
		cfg.AI.UseVPC = true
	}
	if *statusPort >= 0 {
		cfg.Status.Port = *statusPort
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("fatal: %v", err)
		return exitFatal
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting vidsift",
		"version", config.Version,
		"workers", cfg.Pipeline.MaxWorkers,
		"output", cfg.Paths.ProcessedDir,
	)

	// Resolve the batch before touching anything else: bad input aborts
	// the whole run with nothing dispatched.
	jobs, err := source.Resolve(urls, *csvPath)
	if err != nil {
		logger.Error("input resolution failed", "error", err)
		return exitFatal
	}

	if err := export.EnsureOutputDir(cfg.Paths.ProcessedDir); err != nil {
		logger.Error("invalid output directory", "error", err)
		return exitFatal
	}

	var customRules []tagging.CustomRule
	if *tagRules != "" {
		customRules, err = tagging.LoadCustomRules(*tagRules)
		if err != nil {
			logger.Error("failed to load tagging rules", "error", err)
			return exitFatal
		}
		logger.Info("custom tagging rules loaded", "path", *tagRules, "rules", len(customRules))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional document store
	var store export.DocumentStore
	if cfg.Store.MongoURI != "" {
		mongoStore, err := export.NewMongoStore(ctx, cfg.Store.MongoURI, cfg.Store.Database, cfg.Store.Collection, logger)
		if err != nil {
			logger.Error("document store unavailable", "error", err)
			return exitFatal
		}
		store = mongoStore
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoStore.Close(closeCtx)
		}()
		logger.Info("document store enabled", "database", cfg.Store.Database, "collection", cfg.Store.Collection)
	}

	// Optional run history
	var histRepo history.Repository
	if cfg.History.Path != "" {
		histDB, err := history.New(cfg.History.Path, logger)
		if err != nil {
			logger.Error("history database unavailable", "error", err)
			return exitFatal
		}
		defer histDB.Close()
		histRepo = history.NewRepository(histDB.Conn())
	}

	tracker := api.NewTracker()
	tracker.StartRun(len(jobs))

	// Optional status server
	if cfg.Status.Port > 0 {
		server := api.NewServer(api.ServerConfig{
			Port:      cfg.Status.Port,
			Tracker:   tracker,
			History:   histRepo,
			Logger:    logger,
			StartTime: time.Now(),
		})
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	orch := pipeline.New(
		pipeline.Options{
			MaxWorkers:           cfg.Pipeline.MaxWorkers,
			MaxRetries:           cfg.Pipeline.MaxRetries,
			SceneThreshold:       cfg.Pipeline.SceneThreshold,
			DownloadDir:          cfg.Paths.DownloadDir,
			Instruction:          cfg.AI.Instruction,
			DownloadTimeout:      cfg.Pipeline.DownloadTimeout.Std(),
			ProbeTimeout:         cfg.Pipeline.ProbeTimeout.Std(),
			SceneTimeout:         cfg.Pipeline.SceneTimeout.Std(),
			AnalyzeTimeout:       cfg.Pipeline.AnalyzeTimeout.Std(),
			ExportTimeout:        cfg.Pipeline.ExportTimeout.Std(),
			RetryInitialInterval: config.DefaultRetryInitialInterval,
			RetryMaxInterval:     config.DefaultRetryMaxInterval,
		},
		pipeline.Deps{
			Downloader: download.New(logger),
			Prober:     probe.New(),
			Scenes:     scene.New(),
			Analyzer: analyze.NewClient(analyze.Config{
				Endpoint:         cfg.AIEndpoint(),
				APIKey:           cfg.AI.APIKey,
				ModelDir:         cfg.AI.ModelDir,
				PriorityKeywords: cfg.AI.PriorityKeywords,
			}, logger),
			Exporter:   export.NewJSONExporter(cfg.Paths.ProcessedDir, store, logger),
			Tagger:     tagging.NewTagger(customRules),
			Classifier: tagging.NewClassifier(),
			Logger:     logger,
			OnUpdate:   tracker.Update,
		},
	)

	startedAt := time.Now()
	report := orch.Run(ctx, jobs)
	tracker.SetReport(report)

	if histRepo != nil {
		run, outcomes := history.BuildRun(report, startedAt)
		recordCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := histRepo.RecordRun(recordCtx, run, outcomes); err != nil {
			logger.Warn("failed to record run history", "error", err)
		}
		cancel()
	}

	printSummary(report)

	if !report.AllSucceeded() {
		return exitJobsFailed
	}
	return exitOK
}

// printSummary writes the human-readable run report to stdout. It is
// always printed, regardless of outcome.
func printSummary(report *pipeline.Report) {
	fmt.Println()
	fmt.Println("=== Run Report ===")
	fmt.Printf("Total:     %d\n", report.Total())
	fmt.Printf("Succeeded: %d\n", len(report.Succeeded))
	fmt.Printf("Failed:    %d\n", len(report.Failed))

	for _, rec := range report.Succeeded {
		fmt.Printf("  ok   %-40s category=%s tags=%v scenes=%d\n",
			rec.Job.DisplayName, rec.Category, rec.Tags, len(rec.Scenes))
	}
	for _, f := range report.Failed {
		fmt.Printf("  FAIL %-40s stage=%s kind=%s: %s\n",
			f.Job.DisplayName, f.Err.Stage, f.Err.Kind, f.Err.Message)
	}
}
