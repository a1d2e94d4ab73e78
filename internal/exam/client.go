package exam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxExamBody = 4 * 1024 * 1024

var ErrNotFound = errors.New("exam not found")

// ClientConfig configures the exam service client.
type ClientConfig struct {
	// BaseURL of the exam service, e.g. "https://exams.internal".
	BaseURL string

	// Token sent as a bearer credential on every request.
	Token string

	// Timeout for HTTP requests.
	Timeout time.Duration
}

// Client fetches exam definitions from the exam service.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates an exam service client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("exam: base URL required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("exam: invalid base URL: %w", err)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Fetch retrieves a full exam definition, correct answers included.
// The result must be redacted before leaving the engine.
func (c *Client) Fetch(ctx context.Context, examID string) (*Exam, error) {
	if examID == "" {
		return nil, errors.New("exam: empty exam ID")
	}

	u := fmt.Sprintf("%s/api/exams/%s", c.baseURL, url.PathEscape(examID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("exam: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exam: fetch %s: %w", examID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("exam %s: %w", examID, ErrNotFound)
	default:
		return nil, fmt.Errorf("exam: service returned %d for %s", resp.StatusCode, examID)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExamBody))
	if err != nil {
		return nil, fmt.Errorf("exam: read response: %w", err)
	}

	var e Exam
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("exam: parse response: %w", err)
	}
	if e.ID == "" {
		e.ID = examID
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("exam %s: %w", examID, err)
	}

	return &e, nil
}
