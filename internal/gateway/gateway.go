// Package gateway delivers finished submission records to the exam
// platform. Records are spooled locally first; delivery retries until
// the platform acknowledges, and each session is submitted exactly
// once.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"proctord/internal/audit"
	"proctord/internal/biometric"
	"proctord/internal/scoring"
	"proctord/internal/snapshot"
)

var (
	ErrRejected  = errors.New("gateway: submission rejected by platform")
	ErrDuplicate = errors.New("gateway: submission already recorded")
)

// Record is the complete submission envelope for one session.
type Record struct {
	SessionID string            `json:"sessionId"`
	ExamID    string            `json:"examId"`
	StudentID string            `json:"studentId"`
	Answers   map[string]string `json:"answers"`

	Score    int `json:"score"`
	MaxScore int `json:"maxScore"`

	Flags     []audit.Flag        `json:"flags"`
	Snapshots []snapshot.Snapshot `json:"captures,omitempty"`

	BiometricProfile *biometric.Profile `json:"biometricProfile,omitempty"`
	BiometricStatus  string             `json:"biometricStatus,omitempty"`

	Degraded   bool     `json:"degraded,omitempty"`
	PossibleVM bool     `json:"possibleVm,omitempty"`
	VMReasons  []string `json:"vmReasons,omitempty"`

	TerminationReason string `json:"terminationReason,omitempty"`

	StartedAt   time.Time `json:"startedAt"`
	SubmittedAt time.Time `json:"submittedAt"`

	Grading *scoring.Result `json:"grading,omitempty"`
}

// ClientConfig configures the platform submission client.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client posts submission records to the exam platform.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a submission client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("gateway: base URL required")
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Submit posts one record. A 409 from the platform means the session
// was already recorded and counts as success for delivery purposes.
func (c *Client) Submit(ctx context.Context, rec *Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("gateway: marshal record: %w", err)
	}
	if err := ValidateRecord(body); err != nil {
		return err
	}

	u := fmt.Sprintf("%s/api/exams/%s/submit", c.baseURL, url.PathEscape(rec.ExamID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: submit session %s: %w", rec.SessionID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("session %s: %w", rec.SessionID, ErrDuplicate)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("session %s: %w: status %d", rec.SessionID, ErrRejected, resp.StatusCode)
	default:
		return fmt.Errorf("gateway: platform returned %d for session %s", resp.StatusCode, rec.SessionID)
	}
}
