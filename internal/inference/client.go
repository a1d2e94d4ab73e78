// Package inference provides the HTTP client for the local inference
// sidecar, satisfying the engine's face-landmark and object-detection
// ports. The sidecar owns the models; the engine posts raw frames and
// consumes reduced landmark and detection results.
//
// Configuring no sidecar is supported: the daemon then runs with the
// camera detectors degraded and every other detector intact.
package inference

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

	"proctord/internal/detector"
	"proctord/internal/signal"
)

const maxResultBody = 1 * 1024 * 1024

// Config configures the inference sidecar client.
type Config struct {
	// BaseURL of the sidecar, e.g. "http://127.0.0.1:7420".
	BaseURL string

	// Token sent as a bearer credential on every request.
	Token string

	// Timeout for HTTP requests. Inference runs inside detector cycles,
	// so this should stay well under the face detector interval budget.
	Timeout time.Duration
}

// Client posts frames to the sidecar and decodes its results.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

var (
	_ detector.FaceLandmarker = (*Client)(nil)
	_ detector.ObjectModel    = (*Client)(nil)
)

// NewClient creates a sidecar client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("inference: base URL required")
	}
	u, err := url.Parse(config.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("inference: base URL %q is not an http(s) URL", config.BaseURL)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type faceResult struct {
	Faces []struct {
		NoseX     float64 `json:"noseX"`
		LeftJawX  float64 `json:"leftJawX"`
		FaceWidth float64 `json:"faceWidth"`
		NoseY     float64 `json:"noseY"`
		AvgEyeY   float64 `json:"avgEyeY"`
	} `json:"faces"`
}

// DetectFaces posts the frame to the sidecar's face-landmark endpoint.
func (c *Client) DetectFaces(ctx context.Context, frame signal.Frame) ([]detector.Face, error) {
	body, err := c.post(ctx, "/v1/faces", frame)
	if err != nil {
		return nil, err
	}

	var result faceResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("inference: parse face result: %w", err)
	}

	faces := make([]detector.Face, 0, len(result.Faces))
	for _, f := range result.Faces {
		faces = append(faces, detector.Face{
			NoseX:     f.NoseX,
			LeftJawX:  f.LeftJawX,
			FaceWidth: f.FaceWidth,
			NoseY:     f.NoseY,
			AvgEyeY:   f.AvgEyeY,
		})
	}
	return faces, nil
}

type objectResult struct {
	Detections []struct {
		Class      string     `json:"class"`
		Confidence float64    `json:"confidence"`
		Box        [4]float64 `json:"box"`
	} `json:"detections"`
}

// DetectObjects posts the frame to the sidecar's object-detection
// endpoint.
func (c *Client) DetectObjects(ctx context.Context, frame signal.Frame) ([]detector.Detection, error) {
	body, err := c.post(ctx, "/v1/objects", frame)
	if err != nil {
		return nil, err
	}

	var result objectResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("inference: parse object result: %w", err)
	}

	detections := make([]detector.Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		detections = append(detections, detector.Detection{
			Class:      d.Class,
			Confidence: d.Confidence,
			Box:        d.Box,
		})
	}
	return detections, nil
}

// post ships the frame bytes and returns the response body.
func (c *Client) post(ctx context.Context, path string, frame signal.Frame) ([]byte, error) {
	if len(frame.Data) == 0 {
		return nil, errors.New("inference: empty frame")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference: sidecar returned %d for %s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBody))
	if err != nil {
		return nil, fmt.Errorf("inference: read result: %w", err)
	}
	return body, nil
}
