// Package faceverify talks to the face recognition microservice used during
// registration. Biometric matching itself happens in that service (or on the
// client); the admission pipeline only ever sees the declared verification
// method.
package faceverify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EnrollResult contains face enrollment response.
type EnrollResult struct {
	UserID  string  `json:"user_id"`
	Success bool    `json:"success"`
	Quality float64 `json:"quality"`
	Message string  `json:"message"`
}

// VerifyResult contains 1:1 verification result.
type VerifyResult struct {
	UserID     string  `json:"user_id"`
	Verified   bool    `json:"verified"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip short-circuits every call with a positive mock
// response, for environments without the face service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Enroll registers a face image for a user so later captures can verify
// against it.
func (c *Client) Enroll(ctx context.Context, userID, imageURL string) (*EnrollResult, error) {
	if c.Skip {
		return &EnrollResult{UserID: userID, Success: true, Quality: 0.85, Message: "face enrolled (mock)"}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}

	body, _ := json.Marshal(map[string]string{"user_id": userID, "image_url": imageURL})
	out := &EnrollResult{}
	if err := c.post(ctx, "/enroll", body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify performs a 1:1 check of an image against a user's enrolled face.
func (c *Client) Verify(ctx context.Context, userID, imageURL string) (*VerifyResult, error) {
	if c.Skip {
		return &VerifyResult{UserID: userID, Verified: true, Similarity: 0.92, Threshold: 0.5}, nil
	}

	body, _ := json.Marshal(map[string]string{"user_id": userID, "image_url": imageURL})
	out := &VerifyResult{}
	if err := c.post(ctx, "/verify", body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
