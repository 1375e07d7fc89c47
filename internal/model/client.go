// Package model wraps the black-box completion service behind a small
// interface so pipeline stages can be tested against scripted transcripts.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fleetbridge/internal/common/config"
	"fleetbridge/internal/common/logger"
)

var (
	ErrCompletionFailed = errors.New("COMPLETION_FAILED")
	ErrModelTimeout     = errors.New("MODEL_TIMEOUT")
)

// Params tune a single completion call.
type Params struct {
	Temperature float64
	MaxTokens   int
	// StrictFormat asks the model to answer in the exact delimited format and
	// nothing else; set on the retry after a parse failure.
	StrictFormat bool
}

// Completer is the completion collaborator: one prompt in, raw text out.
type Completer interface {
	Complete(ctx context.Context, prompt string, params Params) (string, error)
}

// Client calls an HTTP completion endpoint with bounded retries.
type Client struct {
	cfg    config.ModelConfig
	client *http.Client
	logger logger.Logger
}

func NewClient(cfg config.ModelConfig, log logger.Logger) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Millisecond,
		},
		logger: log.With(map[string]interface{}{
			"component": "model-client",
		}),
	}
}

func (c *Client) Complete(ctx context.Context, prompt string, params Params) (string, error) {
	requestBody := map[string]interface{}{
		"model":       c.cfg.Model,
		"prompt":      prompt,
		"temperature": params.Temperature,
	}
	if params.MaxTokens > 0 {
		requestBody["max_tokens"] = params.MaxTokens
	}

	body, _ := json.Marshal(requestBody)

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ErrModelTimeout
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/v1/completions", bytes.NewBuffer(body))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCompletionFailed, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, lastErr = c.client.Do(req)

		// If the context expired during the request, report timeout immediately.
		if ctx.Err() != nil ||
			errors.Is(lastErr, context.DeadlineExceeded) ||
			errors.Is(lastErr, context.Canceled) {
			return "", ErrModelTimeout
		}

		if lastErr == nil {
			if resp.StatusCode == http.StatusOK {
				break
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp = nil
		}
	}

	if lastErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrModelTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrCompletionFailed, lastErr)
	}

	if resp == nil {
		return "", fmt.Errorf("%w: no successful response after retries", ErrCompletionFailed)
	}
	defer resp.Body.Close()

	var apiResponse struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return "", fmt.Errorf("%w: decode error: %v", ErrCompletionFailed, err)
	}

	c.logger.Debug("completion received", map[string]interface{}{
		"promptBytes":   len(prompt),
		"responseBytes": len(apiResponse.Text),
	})

	return apiResponse.Text, nil
}
