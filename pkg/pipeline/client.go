package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Run statuses reported by the pipeline API.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusErrored   = "errored"
)

// WebhookPath is where the pipeline posts run results back to us.
const WebhookPath = "/api/webhooks/pipeline"

// Endpoint describes one pipeline: where runs are submitted, which input node
// receives the value, and the id it reports in webhooks.
type Endpoint struct {
	RunsURL   string
	ID        string
	InputNode string
}

// Config wires the client to the sketch (text to image) and model (image to 3D) pipelines.
type Config struct {
	APIKey    string
	PublicURL string
	Timeout   time.Duration
	Sketch    Endpoint
	Model     Endpoint
}

// GatewayError is returned for any failed submission: transport failures,
// non-2xx responses and unreadable bodies. StatusCode is 0 when no response
// was received.
type GatewayError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("pipeline gateway: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("pipeline gateway: status %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("pipeline gateway: status %d: %s", e.StatusCode, e.Body)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Client submits generation jobs. It never retries; callers compensate on error.
type Client struct {
	cfg    Config
	client *http.Client
	log    logrus.FieldLogger
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

type runRequest struct {
	Inputs     map[string]string `json:"inputs"`
	WebhookURL string            `json:"webhook_url"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SubmitSketchJob starts a text-to-image run for prompt and returns its run id.
func (c *Client) SubmitSketchJob(ctx context.Context, prompt string) (string, error) {
	return c.submit(ctx, c.cfg.Sketch, prompt)
}

// SubmitModelJob starts an image-to-3D run for imageURL and returns its run id.
func (c *Client) SubmitModelJob(ctx context.Context, imageURL string) (string, error) {
	return c.submit(ctx, c.cfg.Model, imageURL)
}

func (c *Client) submit(ctx context.Context, ep Endpoint, value string) (string, error) {
	body, err := json.Marshal(runRequest{
		Inputs:     map[string]string{ep.InputNode: value},
		WebhookURL: c.cfg.PublicURL + WebhookPath,
	})
	if err != nil {
		return "", &GatewayError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.RunsURL, bytes.NewReader(body))
	if err != nil {
		return "", &GatewayError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.log.WithField("pipeline_id", ep.ID).Info("[Pipeline] submitting run")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &GatewayError{Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &GatewayError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.WithFields(logrus.Fields{"pipeline_id": ep.ID, "status": resp.StatusCode}).
			Errorf("[Pipeline] run rejected: %s", string(respBody))
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out runResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(respBody), Err: err}
	}
	if out.ID == "" || !validRunStatus(out.Status) {
		return "", &GatewayError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        errors.New("unexpected run response"),
		}
	}
	c.log.WithFields(logrus.Fields{"pipeline_id": ep.ID, "run_id": out.ID, "status": out.Status}).
		Info("[Pipeline] run accepted")
	return out.ID, nil
}

func validRunStatus(s string) bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusErrored:
		return true
	}
	return false
}
