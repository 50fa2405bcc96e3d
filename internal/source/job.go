// Package source normalizes heterogeneous video inputs (URL lists, CSV
// manifests) into a uniform ordered sequence of jobs for the pipeline.
package source

import (
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies how a job's source reference must be fetched.
type Kind string

const (
	KindDirectURL Kind = "direct_url"
	KindHTMLPage  Kind = "html_page"
	KindCSVRow    Kind = "csv_row"
)

// VideoJob identifies one unit of work. Jobs are immutable once created.
type VideoJob struct {
	ID          string `json:"id"`
	SourceKind  Kind   `json:"source_kind"`
	SourceRef   string `json:"source_ref"`
	DisplayName string `json:"display_name"`
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
	".flv":  true,
	".ts":   true,
	".m4v":  true,
}

// NewJob builds a job for a plain URL. URLs that do not point at a known
// media extension are treated as HTML pages whose direct link must be
// scraped at download time.
func NewJob(rawURL string) VideoJob {
	kind := KindHTMLPage
	name := rawURL

	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		base := path.Base(u.Path)
		if base != "." && base != "/" {
			name = base
		}
		if videoExtensions[strings.ToLower(path.Ext(u.Path))] {
			kind = KindDirectURL
		}
	}

	return VideoJob{
		ID:          uuid.NewString(),
		SourceKind:  kind,
		SourceRef:   rawURL,
		DisplayName: name,
	}
}

// NewCSVJob builds a job for one manifest row.
func NewCSVJob(fileName, publicURL string) VideoJob {
	name := fileName
	if name == "" {
		name = publicURL
	}
	return VideoJob{
		ID:          uuid.NewString(),
		SourceKind:  KindCSVRow,
		SourceRef:   publicURL,
		DisplayName: name,
	}
}
