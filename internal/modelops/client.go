// Package modelops talks to the training and model-registry control plane.
package modelops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opensource-finance/aura/internal/domain"
)

// Training job states reported by the control plane.
const (
	JobInProgress = "InProgress"
	JobCompleted  = "Completed"
	JobFailed     = "Failed"
)

// TrainingJob describes one training request.
type TrainingJob struct {
	Name         string `json:"name"`
	InputPrefix  string `json:"input_prefix"`
	OutputPrefix string `json:"output_prefix"`
}

// JobStatus is the control plane's view of a training job.
type JobStatus struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	ArtifactURI   string `json:"artifact_uri,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// ModelRecord is a model registered with the control plane.
type ModelRecord struct {
	Name        string `json:"name"`
	ArtifactURI string `json:"artifact_uri"`
	InvokeURL   string `json:"invoke_url"`
}

var errStillRunning = errors.New("training job still running")

// Client is an HTTP client for the control plane.
type Client struct {
	baseURL         string
	token           string
	http            *http.Client
	pollInterval    time.Duration
	maxPollInterval time.Duration
	logger          *slog.Logger
}

// NewClient creates a control plane client from cfg.
func NewClient(cfg domain.ModelOpsConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 10 * time.Second
	}
	maxPoll := cfg.MaxPollInterval
	if maxPoll < poll {
		maxPoll = poll
	}

	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		token:           cfg.Token,
		http:            &http.Client{Timeout: timeout},
		pollInterval:    poll,
		maxPollInterval: maxPoll,
		logger:          logger.With("component", "modelops"),
	}
}

// Train starts job and waits for it to finish, returning the artifact URI.
// Polling backs off exponentially and stops when ctx ends.
func (c *Client) Train(ctx context.Context, job TrainingJob) (string, error) {
	if job.Name == "" {
		return "", fmt.Errorf("%w: job name is required", domain.ErrTrainingFailed)
	}

	if err := c.do(ctx, http.MethodPost, "/training-jobs", job, nil); err != nil {
		return "", fmt.Errorf("%w: start job %s: %v", domain.ErrTrainingFailed, job.Name, err)
	}
	c.logger.Info("training job started", "job", job.Name, "input_prefix", job.InputPrefix)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = c.maxPollInterval
	b.MaxElapsedTime = 0

	var final JobStatus
	poll := func() error {
		status, err := c.JobStatus(ctx, job.Name)
		if err != nil {
			return err
		}
		switch status.Status {
		case JobCompleted:
			final = status
			return nil
		case JobFailed:
			return backoff.Permanent(fmt.Errorf("job %s failed: %s", job.Name, status.FailureReason))
		case JobInProgress, "":
			return errStillRunning
		default:
			return backoff.Permanent(fmt.Errorf("job %s reported unknown status %q", job.Name, status.Status))
		}
	}

	notify := func(err error, next time.Duration) {
		if !errors.Is(err, errStillRunning) {
			c.logger.Warn("training status poll failed", "job", job.Name, "retry_in", next, "error", err)
		}
	}

	if err := backoff.RetryNotify(poll, backoff.WithContext(b, ctx), notify); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTrainingFailed, err)
	}
	if final.ArtifactURI == "" {
		return "", fmt.Errorf("%w: job %s completed without an artifact", domain.ErrTrainingFailed, job.Name)
	}

	c.logger.Info("training job completed", "job", job.Name, "artifact_uri", final.ArtifactURI)
	return final.ArtifactURI, nil
}

// JobStatus fetches the current status of a training job.
func (c *Client) JobStatus(ctx context.Context, name string) (JobStatus, error) {
	var status JobStatus
	err := c.do(ctx, http.MethodGet, "/training-jobs/"+url.PathEscape(name), nil, &status)
	return status, err
}

// CreateModel registers artifactURI under name and returns its invoke URL.
func (c *Client) CreateModel(ctx context.Context, name, artifactURI string) (string, error) {
	var rec ModelRecord
	err := c.do(ctx, http.MethodPost, "/models", ModelRecord{Name: name, ArtifactURI: artifactURI}, &rec)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrModelCreationFailed, name, err)
	}
	if rec.InvokeURL == "" {
		return "", fmt.Errorf("%w: %s: no invoke url returned", domain.ErrModelCreationFailed, name)
	}
	return rec.InvokeURL, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
