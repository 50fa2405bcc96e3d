// Package analyze sends videos to a vision-language inference endpoint and
// returns free-text descriptions of their content.
package analyze

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vidsift/vidsift/internal/logging"
)

// Error represents a failed analysis call. A zero StatusCode means the
// failure happened below HTTP.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("analysis failed: HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("analysis failed: %s", e.Body)
}

// IsRetryable returns true for server errors (5xx) and network errors.
// Client errors (4xx) are considered permanent.
func (e *Error) IsRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// Config holds the endpoint settings for a Client.
type Config struct {
	Endpoint         string   // inference endpoint URL
	APIKey           string   // bearer key, optional
	ModelDir         string   // model directory hint for self-hosted serving
	PriorityKeywords []string // embedded into every instruction
}

// Client talks to the vision-language inference service over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the given endpoint configuration.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logging.WithComponent(logger, "analyzer"),
	}
}

// describeRequest is the wire format sent to the inference service.
type describeRequest struct {
	VideoURL    string `json:"video_url"`
	Instruction string `json:"instruction"`
	ModelDir    string `json:"model_dir,omitempty"`
}

// describeResponse is the wire format returned by the inference service.
type describeResponse struct {
	Description string `json:"description"`
}

// Describe asks the model for a description of the video. videoRef is the
// reference the service can reach the content by (the source URL, or a
// path on shared storage for self-hosted deployments).
func (c *Client) Describe(ctx context.Context, videoRef, instruction string) (string, error) {
	if c.cfg.Endpoint == "" {
		return "", &Error{StatusCode: -1, Body: "no inference endpoint configured"}
	}

	payload := describeRequest{
		VideoURL:    videoRef,
		Instruction: BuildInstruction(instruction, c.cfg.PriorityKeywords),
		ModelDir:    c.cfg.ModelDir,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal describe payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vidsift-Request-Id", generateRequestID())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	c.logger.Debug("querying vision-language endpoint",
		"endpoint", c.cfg.Endpoint,
		"video_ref", videoRef,
		"api_key", logging.SanitizeToken(c.cfg.APIKey),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result describeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &Error{StatusCode: resp.StatusCode, Body: "unparseable response: " + err.Error()}
	}

	return result.Description, nil
}

// BuildInstruction embeds the configured priority keywords into the
// instruction so the model weights them in its response. The tagger only
// pattern-matches the returned description; the boost happens here.
func BuildInstruction(instruction string, keywords []string) string {
	if len(keywords) == 0 {
		return instruction
	}
	return strings.TrimSpace(instruction) + " Pay particular attention to: " + strings.Join(keywords, ", ") + "."
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
