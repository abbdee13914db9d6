// Package papi provides an authenticated client for the cluster management API
// cloud job endpoints, with a fixed retry budget on non-success responses.
package papi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rossigee/cloudsize/internal/retry"
	"github.com/sirupsen/logrus"
)

const cloudPrefix = "/platform/3/cloud"

var (
	// ErrTransport marks connection-level failures, as opposed to API-level status errors
	ErrTransport = errors.New("management API transport failure")
	// ErrJobNotFound is returned when the single-job view holds no descriptor
	ErrJobNotFound = errors.New("cloud job not found")
)

// StatusError is a non-2xx response that persisted through the retry budget
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %s", e.Method, e.Path, e.Status)
}

// Credentials are the basic auth credentials captured once at startup
type Credentials struct {
	Username string
	Password string
}

// Config holds client construction parameters
type Config struct {
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration
	Retry       retry.Config
	TLS         *tls.Config
	// OnRetry is notified each time a call is retried
	OnRetry func()
}

// Response is a raw API response
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// Client issues calls against the management API
type Client struct {
	baseURL    *url.URL
	creds      Credentials
	httpClient *http.Client
	retry      retry.Config
	onRetry    func()
}

// NewClient creates a new management API client
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid management API URL '%s': %w", cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid management API URL scheme '%s': must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid management API URL '%s': missing hostname", cfg.BaseURL)
	}
	if cfg.Credentials.Username == "" {
		return nil, fmt.Errorf("management API username is required")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLS != nil {
		transport.TLSClientConfig = cfg.TLS
	}

	return &Client{
		baseURL: u,
		creds:   cfg.Credentials,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		retry:   cfg.Retry,
		onRetry: cfg.OnRetry,
	}, nil
}

// Call performs method on path. Non-2xx responses and timed out calls are
// retried per the retry budget; once it is exhausted the last response is
// returned together with a *StatusError. Other connection failures are not
// retried. Transport failures wrap ErrTransport.
func (c *Client) Call(ctx context.Context, method, path string, body []byte) (*Response, error) {
	target, err := c.baseURL.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}

	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error) {
		logrus.WithFields(logrus.Fields{
			"method":  method,
			"path":    path,
			"attempt": attempt,
		}).WithError(err).Warn("Management API call failed, retrying")
		if c.onRetry != nil {
			c.onRetry()
		}
	}

	var last *Response
	err = retry.WithRetry(ctx, cfg, func() error {
		resp, err := c.do(ctx, method, target.String(), body)
		if err != nil {
			err = fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
			if isTimeout(err) && ctx.Err() == nil {
				return err
			}
			return retry.Permanent(err)
		}
		last = resp
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{
				Method:     method,
				Path:       path,
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Body:       resp.Body,
			}
		}
		return nil
	})

	return last, err
}

// isTimeout reports whether err is the client timeout expiring
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.creds.Username, c.creds.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close() // Close errors are not critical
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       payload,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.Call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// ListJobs returns every cloud job known to the cluster
func (c *Client) ListJobs(ctx context.Context) ([]JobSummary, error) {
	var out jobsResponse
	if err := c.getJSON(ctx, cloudPrefix+"/jobs", &out); err != nil {
		return nil, fmt.Errorf("failed to list cloud jobs: %w", err)
	}
	return out.Jobs, nil
}

// GetJob returns the detailed view of one cloud job
func (c *Client) GetJob(ctx context.Context, jobID string) (*JobDetail, error) {
	var out jobResponse
	if err := c.getJSON(ctx, cloudPrefix+"/jobs/"+url.PathEscape(jobID), &out); err != nil {
		return nil, fmt.Errorf("failed to get cloud job %s: %w", jobID, err)
	}
	if len(out.Jobs) != 1 {
		return nil, fmt.Errorf("%w: %s (got %d descriptors)", ErrJobNotFound, jobID, len(out.Jobs))
	}
	return &out.Jobs[0], nil
}

// ListJobFiles returns page number page of the files touched by a job, pageSize records per page
func (c *Client) ListJobFiles(ctx context.Context, jobID string, page, pageSize int) (*FilePage, error) {
	q := url.Values{}
	q.Set("batch", "true")
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("offset", strconv.Itoa(page*pageSize))

	path := cloudPrefix + "/jobs-files/" + url.PathEscape(jobID) + "?" + q.Encode()

	var out FilePage
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("failed to list files for cloud job %s at page %d: %w", jobID, page, err)
	}
	return &out, nil
}

// String identifies the client in logs without leaking credentials
func (c *Client) String() string {
	return strings.TrimSuffix(c.baseURL.String(), "/") + " as " + c.creds.Username
}
