// Package download retrieves remote videos to local storage. It handles
// direct links as well as HTML pages whose video URL must be scraped first.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/vidsift/vidsift/internal/export"
	"github.com/vidsift/vidsift/internal/logging"
	"github.com/vidsift/vidsift/internal/source"
)

// Error describes a failed fetch. A zero StatusCode means the failure
// happened below HTTP (DNS, connect, timeout).
type Error struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("download %s: HTTP %d: %s", e.URL, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("download %s: %s", e.URL, e.Reason)
}

// IsRetryable reports whether the failure is network-class. Server errors
// and transport failures are retryable; client errors (4xx) are permanent.
func (e *Error) IsRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// HTTPDownloader fetches videos over plain HTTP.
type HTTPDownloader struct {
	client *http.Client
	logger *slog.Logger
}

// New creates an HTTPDownloader. Deadlines come from the caller's context,
// not from the client, so one configuration serves every stage timeout.
func New(logger *slog.Logger) *HTTPDownloader {
	return &HTTPDownloader{
		client: &http.Client{},
		logger: logging.WithComponent(logger, "downloader"),
	}
}

// Fetch retrieves the job's video into destDir and returns the local path.
// Filenames are prefixed with the job ID so concurrent workers sharing the
// directory cannot collide. Partial files are removed on failure.
func (d *HTTPDownloader) Fetch(ctx context.Context, job source.VideoJob, destDir string) (string, error) {
	videoURL := job.SourceRef

	if job.SourceKind == source.KindHTMLPage {
		resolved, err := d.extractVideoURL(ctx, job.SourceRef)
		if err != nil {
			return "", err
		}
		d.logger.Debug("resolved page video link", "page", job.SourceRef, "video_url", resolved)
		videoURL = resolved
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", &Error{URL: videoURL, Reason: fmt.Sprintf("create download dir: %v", err)}
	}

	destPath := filepath.Join(destDir, localName(job, videoURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return "", &Error{URL: videoURL, StatusCode: -1, Reason: err.Error()}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", &Error{URL: videoURL, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{URL: videoURL, StatusCode: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}

	f, err := os.Create(destPath)
	if err != nil {
		return "", &Error{URL: videoURL, Reason: fmt.Sprintf("create file: %v", err)}
	}

	written, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destPath)
		return "", &Error{URL: videoURL, Reason: fmt.Sprintf("write file: %v", err)}
	}

	d.logger.Info("video downloaded",
		"url", videoURL,
		"path", logging.SanitizePath(destPath),
		"bytes", written,
	)
	return destPath, nil
}

// localName derives a collision-free filename from the job identity.
func localName(job source.VideoJob, videoURL string) string {
	base := job.DisplayName
	if u, err := url.Parse(videoURL); err == nil && u.Path != "" {
		if b := path.Base(u.Path); b != "." && b != "/" {
			base = b
		}
	}
	base = export.SanitizeName(base, 128)
	if base == "" {
		base = "video"
	}

	prefix := job.ID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return prefix + "_" + base
}
