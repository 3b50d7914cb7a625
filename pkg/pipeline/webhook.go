package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
)

// Webhook events.
const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// ErrInvalidEvent is returned by ParseEvent when the body does not match the webhook schema.
var ErrInvalidEvent = errors.New("invalid pipeline webhook payload")

// Event is a run result delivered by the pipeline webhook.
type Event struct {
	Event             string
	RunID             string
	PipelineID        string
	PipelineVersionID string
	Status            string
	Outputs           map[string]json.RawMessage
	CreatedAt         string
	CompletedAt       string
}

func (e *Event) Completed() bool { return e.Event == EventRunCompleted }

type rawEvent struct {
	Event             *string                    `json:"event"`
	RunID             *string                    `json:"pipeline_version_run_id"`
	PipelineID        *string                    `json:"pipeline_id"`
	PipelineVersionID *string                    `json:"pipeline_version_id"`
	Status            *string                    `json:"status"`
	Outputs           map[string]json.RawMessage `json:"outputs"`
	CreatedAt         *string                    `json:"created_at"`
	CompletedAt       *string                    `json:"completed_at"`
}

// ParseEvent decodes and validates a webhook body. Every field is required.
func ParseEvent(body []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	for name, v := range map[string]*string{
		"event":                   raw.Event,
		"pipeline_version_run_id": raw.RunID,
		"pipeline_id":             raw.PipelineID,
		"pipeline_version_id":     raw.PipelineVersionID,
		"status":                  raw.Status,
		"created_at":              raw.CreatedAt,
		"completed_at":            raw.CompletedAt,
	} {
		if v == nil {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidEvent, name)
		}
	}
	if raw.Outputs == nil {
		return nil, fmt.Errorf("%w: missing outputs", ErrInvalidEvent)
	}
	if *raw.Event != EventRunCompleted && *raw.Event != EventRunFailed {
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, *raw.Event)
	}
	return &Event{
		Event:             *raw.Event,
		RunID:             *raw.RunID,
		PipelineID:        *raw.PipelineID,
		PipelineVersionID: *raw.PipelineVersionID,
		Status:            *raw.Status,
		Outputs:           raw.Outputs,
		CreatedAt:         *raw.CreatedAt,
		CompletedAt:       *raw.CompletedAt,
	}, nil
}

type nodeOutput struct {
	Status       string                     `json:"status"`
	Output       map[string]json.RawMessage `json:"output"`
	ErrorReason  *string                    `json:"error_reason"`
	ErrorMessage *string                    `json:"error_message"`
}

type fileOutput struct {
	URL         *string `json:"url"`
	ContentType *string `json:"content_type"`
	Filename    *string `json:"filename"`
}

// FileURL returns the first usable file URL produced by node, scanning the
// node's output entries in key order. It returns "" when the node is absent,
// malformed, or has no http(s) file.
func (e *Event) FileURL(node string) string {
	raw, ok := e.Outputs[node]
	if !ok {
		return ""
	}
	var out nodeOutput
	if err := json.Unmarshal(raw, &out); err != nil || out.Output == nil {
		return ""
	}
	keys := make([]string, 0, len(out.Output))
	for k := range out.Output {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var f fileOutput
		if err := json.Unmarshal(out.Output[k], &f); err != nil {
			continue
		}
		if f.URL == nil || f.ContentType == nil || f.Filename == nil {
			continue
		}
		if validFileURL(*f.URL) {
			return *f.URL
		}
	}
	return ""
}

func validFileURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// NodeError describes a node that errored during a run.
type NodeError struct {
	Node    string
	Reason  string
	Message string
}

// NodeErrors lists the errored nodes of the run in node order.
func (e *Event) NodeErrors() []NodeError {
	nodes := make([]string, 0, len(e.Outputs))
	for k := range e.Outputs {
		nodes = append(nodes, k)
	}
	sort.Strings(nodes)

	var errs []NodeError
	for _, node := range nodes {
		var out nodeOutput
		if err := json.Unmarshal(e.Outputs[node], &out); err != nil {
			continue
		}
		if out.Status != RunStatusErrored {
			continue
		}
		ne := NodeError{Node: node}
		if out.ErrorReason != nil {
			ne.Reason = *out.ErrorReason
		}
		if out.ErrorMessage != nil {
			ne.Message = *out.ErrorMessage
		}
		errs = append(errs, ne)
	}
	return errs
}
