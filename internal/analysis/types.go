// Package analysis contains the review-analysis domain model and the
// orchestration service that drives it.
package analysis

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an analysis task. Transitions are
// monotone: pending -> processing -> completed | failed.
type Status string

// Supported task statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus normalizes an engine-supplied status string.
func ParseStatus(input string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "pending", "queued":
		return StatusPending, nil
	case "processing", "running", "in_progress":
		return StatusProcessing, nil
	case "completed", "success", "succeeded":
		return StatusCompleted, nil
	case "failed", "error":
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("unknown status %q", input)
	}
}

// Result is the sentiment breakdown produced by a completed analysis.
type Result struct {
	Positive    int      `json:"positive"`
	Neutral     int      `json:"neutral"`
	Negative    int      `json:"negative"`
	Summary     string   `json:"summary"`
	Keywords    []string `json:"keywords"`
	ReviewCount int      `json:"review_count"`
}

// Task is one in-flight or completed analysis job for a product. The task
// ID is issued by the engine and immutable once assigned; Result is set iff
// completed and ErrorMessage iff failed.
type Task struct {
	ProductID            string     `json:"product_id"`
	TaskID               string     `json:"task_id"`
	Status               Status     `json:"status"`
	Progress             int        `json:"progress"`
	EstimatedTimeSeconds int        `json:"estimated_time_seconds,omitempty"`
	Result               *Result    `json:"result,omitempty"`
	ErrorMessage         string     `json:"error_message,omitempty"`
	CreatedAt            time.Time  `json:"created_at,omitzero"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// CallbackPayload is the webhook body delivered by the engine when a job
// reaches a terminal state. It is validated at the boundary so the rest of
// the system only ever sees a well-formed terminal transition.
type CallbackPayload struct {
	TaskID string  `json:"task_id"`
	Status string  `json:"status"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Validate enforces the tagged-union rules on the callback body.
func (p CallbackPayload) Validate() error {
	if strings.TrimSpace(p.TaskID) == "" {
		return errors.New("task_id is required")
	}
	status, err := ParseStatus(p.Status)
	if err != nil {
		return err
	}
	if !status.Terminal() {
		return fmt.Errorf("callback status must be terminal, got %q", status)
	}
	if status == StatusCompleted {
		if p.Result == nil {
			return errors.New("completed callback requires a result")
		}
		if p.Error != "" {
			return errors.New("completed callback must not carry an error")
		}
	}
	if status == StatusFailed {
		if p.Error == "" {
			return errors.New("failed callback requires an error message")
		}
		if p.Result != nil {
			return errors.New("failed callback must not carry a result")
		}
	}
	return nil
}

// TerminalStatus returns the parsed status; call Validate first.
func (p CallbackPayload) TerminalStatus() Status {
	status, _ := ParseStatus(p.Status)
	return status
}

// Notification is the event published to a task's topic on completion.
type Notification struct {
	TaskID    string    `json:"task_id"`
	Status    Status    `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
