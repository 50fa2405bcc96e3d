package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoInput is returned by Resolve when neither URLs nor a CSV manifest
// were supplied.
var ErrNoInput = errors.New("no input sources: provide at least one URL or a CSV manifest")

// MalformedInputError indicates the CSV manifest schema is unusable. It
// aborts the whole resolve call: a corrupt schema invalidates the batch.
type MalformedInputError struct {
	Path   string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed manifest %s: %s", e.Path, e.Reason)
}

// requiredColumns is the manifest schema. Every column must be present.
var requiredColumns = []string{"file_name", "file_size", "last_modified", "public_url"}

// Resolve turns the raw inputs into an ordered job list: URLs first, in the
// order given, then CSV rows in file order. Output order is deterministic so
// run reports are reproducible.
func Resolve(urls []string, csvPath string) ([]VideoJob, error) {
	if len(urls) == 0 && csvPath == "" {
		return nil, ErrNoInput
	}

	jobs := make([]VideoJob, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		jobs = append(jobs, NewJob(u))
	}

	if csvPath != "" {
		csvJobs, err := resolveCSV(csvPath)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, csvJobs...)
	}

	if len(jobs) == 0 {
		return nil, ErrNoInput
	}
	return jobs, nil
}

func resolveCSV(path string) ([]VideoJob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, &MalformedInputError{Path: path, Reason: "empty file"}
	}
	if err != nil {
		return nil, &MalformedInputError{Path: path, Reason: err.Error()}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range requiredColumns {
		if _, ok := cols[required]; !ok {
			return nil, &MalformedInputError{Path: path, Reason: "missing required column " + required}
		}
	}

	var jobs []VideoJob
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &MalformedInputError{Path: path, Reason: err.Error()}
		}
		jobs = append(jobs, NewCSVJob(row[cols["file_name"]], row[cols["public_url"]]))
	}
	return jobs, nil
}
