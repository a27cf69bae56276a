// Package client is a thin HTTP client for the AutoPatch API, used by the
// CLI commands.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/registry"
)

const defaultBaseURL = "http://localhost:8080/api"

// Client talks to a running autopatch-api instance.
type Client struct {
	BaseURL    string
	httpClient *http.Client
	token      string
}

// NewClientFromEnv constructs a client from AUTOPATCH_API_BASE_URL and
// AUTOPATCH_API_TOKEN.
func NewClientFromEnv() *Client {
	base := os.Getenv("AUTOPATCH_API_BASE_URL")
	if strings.TrimSpace(base) == "" {
		base = defaultBaseURL
	}
	return NewClient(base, os.Getenv("AUTOPATCH_API_TOKEN"))
}

// NewClient constructs a client with an explicit base URL and bearer token.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, string(errBody))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(http.MethodPost, "/auth/login", body, &out); err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Token, nil
}

// ListServers returns all servers with derived status.
func (c *Client) ListServers() ([]*registry.Summary, error) {
	var out struct {
		Servers []*registry.Summary `json:"servers"`
	}
	if err := c.do(http.MethodGet, "/servers", nil, &out); err != nil {
		return nil, err
	}
	return out.Servers, nil
}

// ListJobs returns all jobs, newest first.
func (c *Client) ListJobs() ([]*models.Job, error) {
	var out struct {
		Jobs []*models.Job `json:"jobs"`
	}
	if err := c.do(http.MethodGet, "/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// ListApprovals returns jobs waiting for an approval decision.
func (c *Client) ListApprovals() ([]*models.Job, error) {
	var out struct {
		Jobs []*models.Job `json:"jobs"`
	}
	if err := c.do(http.MethodGet, "/approvals", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// ApproveJob approves a pending job. An empty reason flag is treated as
// omitted rather than sent as "".
func (c *Client) ApproveJob(jobID int64, reason string) (*models.Job, error) {
	var out models.Job
	if err := c.do(http.MethodPost, fmt.Sprintf("/approvals/%d/approve", jobID), decisionBody(reason), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DenyJob denies a pending or scheduled job.
func (c *Client) DenyJob(jobID int64, reason string) (*models.Job, error) {
	var out models.Job
	if err := c.do(http.MethodPost, fmt.Sprintf("/approvals/%d/deny", jobID), decisionBody(reason), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func decisionBody(reason string) map[string]string {
	if reason == "" {
		return map[string]string{}
	}
	return map[string]string{"reason": reason}
}

// JobLog fetches the combined attempt log for a job.
func (c *Client) JobLog(jobID int64) (string, error) {
	var out struct {
		Log string `json:"log"`
	}
	if err := c.do(http.MethodGet, fmt.Sprintf("/jobs/%d/log", jobID), nil, &out); err != nil {
		return "", err
	}
	return out.Log, nil
}
