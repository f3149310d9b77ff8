package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"octopus-controlplane/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
)

// APIError is a non-2xx answer from the coordinator.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coordinator returned %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client talks to the coordinator HTTP API on behalf of one agent.
type Client struct {
	http     *resty.Client
	clientID string
	retries  uint64
}

func NewClient(baseURL, clientID string, timeout time.Duration) *Client {
	r := resty.New().
		SetBaseURL(baseURL+api.BasePath).
		SetTimeout(timeout).
		SetHeader(api.HeaderClientID, clientID).
		SetHeader("Accept", "application/json")

	return &Client{http: r, clientID: clientID, retries: 3}
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

// decode reads a JSON body into out whatever content type the server
// declared. An undecodable body is an error, never an empty result.
func decode(resp *resty.Response, err error, out any) error {
	if err := check(resp, err); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", resp.Request.Method, resp.Request.URL, err)
	}
	return nil
}

func (c *Client) Heartbeat(ctx context.Context, req api.HeartbeatRequest) (*api.HeartbeatResponse, error) {
	var out api.HeartbeatResponse
	resp, err := c.http.R().SetContext(ctx).SetBody(req).Post("/heartbeat")
	if err := decode(resp, err, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AssignedTasks(ctx context.Context) ([]api.AssignedTask, error) {
	var out api.AssignedTasksResponse
	resp, err := c.http.R().SetContext(ctx).
		Get("/clients/" + url.PathEscape(c.clientID) + "/tasks")
	if err := decode(resp, err, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// Claim asks the coordinator for permission to start taskID. A 409 means the
// task is not runnable now and is reported as false without error.
func (c *Client) Claim(ctx context.Context, taskID string) (bool, error) {
	var out api.ClaimResponse
	resp, err := c.http.R().SetContext(ctx).
		SetBody(api.ClaimRequest{ClientID: c.clientID}).
		Post("/tasks/" + url.PathEscape(taskID) + "/claim")
	if err == nil && resp.StatusCode() == http.StatusConflict {
		return false, nil
	}
	if err := decode(resp, err, &out); err != nil {
		return false, err
	}
	return out.Granted, nil
}

// Report posts an execution report, retrying transport errors and 5xx.
func (c *Client) Report(ctx context.Context, req api.ReportRequest) error {
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := c.http.R().SetContext(ctx).SetBody(req).Post("/executions")
		err = check(resp, err)

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return err
		}
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (c *Client) Manifest(ctx context.Context) (*api.PluginManifest, error) {
	var out api.PluginManifest
	resp, err := c.http.R().SetContext(ctx).Get("/plugins")
	if err := decode(resp, err, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchPlugin downloads the artifact bytes and the hash the coordinator
// declared for them.
func (c *Client) FetchPlugin(ctx context.Context, name string) ([]byte, string, error) {
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("Accept", "application/octet-stream").
		Get("/plugins/" + url.PathEscape(name))
	if err := check(resp, err); err != nil {
		return nil, "", err
	}
	return resp.Body(), resp.Header().Get(api.HeaderContentHash), nil
}
