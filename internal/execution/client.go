package execution

import (
	"bytes"
	"context"
	goerrors "errors"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fleetbridge/internal/common/config"
	"fleetbridge/internal/common/errors"
	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/common/metrics"
	"fleetbridge/internal/validate"
)

// Result is the fleet system's answer to an executed request.
type Result struct {
	ExternalID string    `json:"externalId,omitempty"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	ExecutedAt time.Time `json:"executedAt"`
}

// Client submits payloads to the fleet API. Every endpoint is guarded by its
// own circuit breaker; retries stay inside one Execute call, which feeds the
// breaker a single failure however many attempts it burned.
type Client struct {
	cfg      config.ExecutionConfig
	client   *http.Client
	breakers *breakerSet
	clock    func() time.Time
	logger   logger.Logger
}

func NewClient(cfg config.ExecutionConfig, clock func() time.Time, log logger.Logger) *Client {
	if clock == nil {
		clock = time.Now
	}
	l := log.With(map[string]interface{}{
		"component": "execution-client",
	})
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Millisecond,
		},
		breakers: newBreakerSet(BreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			FailureWindow:    time.Duration(cfg.FailureWindow) * time.Millisecond,
			RecoveryTimeout:  time.Duration(cfg.RecoveryTimeout) * time.Millisecond,
		}, clock, l),
		clock:  clock,
		logger: l,
	}
}

// Execute submits the payload. The breaker is consulted before any network
// traffic; an open breaker costs nothing but the error.
func (c *Client) Execute(ctx context.Context, endpoint string, payload map[string]interface{}) (*Result, error) {
	b := c.breakers.forEndpoint(endpoint)
	if err := b.allow(); err != nil {
		metrics.Executions.WithLabelValues(endpoint, "circuit_open").Inc()
		return nil, err
	}

	result, err := c.post(ctx, endpoint, payload, false)
	if err != nil {
		b.recordFailure()
		metrics.Executions.WithLabelValues(endpoint, "failure").Inc()
		return nil, err
	}

	b.recordSuccess()
	metrics.Executions.WithLabelValues(endpoint, "success").Inc()
	return result, nil
}

// DryRun previews the payload without executing. Does not feed the breaker:
// preview traffic failing must not lock out real executions.
func (c *Client) DryRun(ctx context.Context, endpoint string, payload map[string]interface{}) error {
	if !c.cfg.DryRunEnabled {
		return fmt.Errorf("dry-run disabled")
	}
	_, err := c.post(ctx, endpoint, payload, true)
	return err
}

// Health pings the fleet API root.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fleet api unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]interface{}, dryRun bool) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewExecutionFailedError(err, 0)
	}

	url := c.cfg.BaseURL + endpoint
	if dryRun {
		url += "?dry_run=true"
	}

	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(200*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, errors.NewExecutionTimeoutError(endpoint)
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return nil, errors.NewExecutionFailedError(err, 0)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if ctx.Err() != nil ||
			goerrors.Is(err, context.DeadlineExceeded) ||
			goerrors.Is(err, context.Canceled) {
			return nil, errors.NewExecutionTimeoutError(endpoint)
		}
		if err != nil {
			lastErr = err
			continue
		}

		result, retryable, err := c.decode(resp, dryRun)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, errors.NewExecutionFailedError(lastErr, 0)
}

// decode reads one response. 4xx answers are final: the fleet system saw the
// payload and refused it, so retrying the same bytes cannot help.
func (c *Client) decode(resp *http.Response, dryRun bool) (*Result, bool, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result := &Result{Status: "accepted", ExecutedAt: c.clock()}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, result); err != nil {
				c.logger.Warn("unparseable success body", map[string]interface{}{
					"status": resp.StatusCode,
					"error":  err.Error(),
				})
			}
		}
		return result, false, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var reject struct {
			Field  string `json:"field"`
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(raw, &reject)
		if reject.Reason == "" {
			reject.Reason = fmt.Sprintf("fleet api refused with status %d", resp.StatusCode)
		}
		if dryRun {
			return nil, false, &validate.DryRunRejection{Field: reject.Field, Reason: reject.Reason}
		}
		return nil, false, errors.NewExecutionFailedError(fmt.Errorf("rejected: %s", reject.Reason), 0)

	default:
		return nil, true, fmt.Errorf("status %d", resp.StatusCode)
	}
}
