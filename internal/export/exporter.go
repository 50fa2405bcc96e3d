// Package export serializes finalized video records to JSON files and,
// optionally, to a document store.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vidsift/vidsift/internal/logging"
	"github.com/vidsift/vidsift/internal/pipeline"
)

// DocumentStore is the optional persistence backend for exported records.
// Implementations must be safe for concurrent use by multiple workers.
type DocumentStore interface {
	Insert(ctx context.Context, doc Document) error
	Close(ctx context.Context) error
}

// Document is the exported JSON schema for one processed video. Metadata
// fields sit at the top level alongside the analysis results.
type Document struct {
	Filename   string `json:"filename"`
	URL        string `json:"url"`
	SourceKind string `json:"source_kind"`

	Duration        float64 `json:"duration"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Codec           string  `json:"codec"`
	FPS             float64 `json:"fps"`
	BitRate         int64   `json:"bit_rate"`
	Container       string  `json:"container"`
	AudioCodec      string  `json:"audio_codec,omitempty"`
	AudioChannels   int     `json:"audio_channels,omitempty"`
	AudioSampleRate int     `json:"audio_sample_rate,omitempty"`
	HasSubtitle     bool    `json:"has_subtitle"`

	Description    string                   `json:"qwen_description"`
	Scenes         []float64                `json:"scenes"`
	Tags           []string                 `json:"tags"`
	Classification string                   `json:"classification"`
	Attempts       map[pipeline.Stage]int   `json:"attempts,omitempty"`
	ProcessedAt    time.Time                `json:"processed_at"`
}

// BuildDocument flattens a record into the export schema.
func BuildDocument(rec *pipeline.Record) Document {
	doc := Document{
		Filename:       rec.Job.DisplayName,
		URL:            rec.Job.SourceRef,
		SourceKind:     string(rec.Job.SourceKind),
		Description:    rec.Description,
		Scenes:         rec.Scenes,
		Tags:           rec.Tags,
		Classification: rec.Category,
		Attempts:       rec.Attempts,
		ProcessedAt:    time.Now().UTC(),
	}
	if doc.Scenes == nil {
		doc.Scenes = []float64{}
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if m := rec.Metadata; m != nil {
		doc.Duration = m.Duration
		doc.Width = m.Width
		doc.Height = m.Height
		doc.Codec = m.Codec
		doc.FPS = m.FPS
		doc.BitRate = m.BitRate
		doc.Container = m.Container
		doc.AudioCodec = m.AudioCodec
		doc.AudioChannels = m.AudioChannels
		doc.AudioSampleRate = m.AudioSampleRate
		doc.HasSubtitle = m.HasSubtitle
	}
	return doc
}

// JSONExporter writes one JSON file per record into the output directory
// and mirrors the document into the store when one is configured.
type JSONExporter struct {
	outputDir string
	store     DocumentStore
	logger    *slog.Logger
}

// NewJSONExporter creates an exporter. store may be nil.
func NewJSONExporter(outputDir string, store DocumentStore, logger *slog.Logger) *JSONExporter {
	return &JSONExporter{
		outputDir: outputDir,
		store:     store,
		logger:    logging.WithComponent(logger, "exporter"),
	}
}

// Export writes the record's document atomically (temp file + rename) and
// then inserts it into the document store, if any. Both the temp and the
// final name carry the job ID so concurrent workers and distinct sources
// sharing a basename cannot collide.
func (e *JSONExporter) Export(ctx context.Context, rec *pipeline.Record) error {
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	doc := BuildDocument(rec)

	name := SanitizeName(rec.Job.DisplayName, 128)
	if name == "" {
		name = rec.Job.ID
	} else {
		prefix := rec.Job.ID
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		name = prefix + "_" + name
	}
	finalPath := filepath.Join(e.outputDir, name+".json")
	tmpPath := filepath.Join(e.outputDir, "."+rec.Job.ID+".json.tmp")

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize record: %w", err)
	}

	if e.store != nil {
		if err := e.store.Insert(ctx, doc); err != nil {
			return fmt.Errorf("document store insert: %w", err)
		}
	}

	e.logger.Info("record exported",
		"path", logging.SanitizePath(finalPath),
		"classification", doc.Classification,
		"store", e.store != nil,
	)
	return nil
}
