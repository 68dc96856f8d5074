// Package client talks to the Whistle REST API and its notification stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/whistle/whistle-server/internal/models"
	"go.uber.org/zap"
)

const apiPrefix = "/api/v1"

// ErrUnauthorized is matched by APIError for 401 responses.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Client calls one Whistle server.
type Client struct {
	baseURL string
	http    *http.Client
	// stream has no overall timeout; the stream lives until cancelled.
	stream *http.Client
	logger *zap.SugaredLogger
}

// New creates a client for the server at baseURL.
func New(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
		logger:  logger,
	}
}

// Login exchanges admin credentials for a session token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp models.AdminAuthResponse
	err := c.do(ctx, http.MethodPost, "/admin/login", "", models.AdminAuthRequest{
		Username: username,
		Password: password,
	}, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Success || resp.Token == "" {
		return "", &APIError{StatusCode: http.StatusUnauthorized, Message: resp.Error}
	}
	return resp.Token, nil
}

// Submit posts a report anonymously.
func (c *Client) Submit(ctx context.Context, req *models.CreateReportRequest) (*models.CreateReportResponse, error) {
	var resp models.CreateReportResponse
	if err := c.do(ctx, http.MethodPost, "/reports", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches the public status of a report.
func (c *Client) Status(ctx context.Context, id string) (*models.ReportStatusResponse, error) {
	var resp models.ReportStatusResponse
	if err := c.do(ctx, http.MethodGet, "/reports/"+url.PathEscape(id)+"/status", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reports lists reports for an admin, optionally filtered by status.
func (c *Client) Reports(ctx context.Context, token string, status models.ReportStatus) (*models.GetReportsResponse, error) {
	path := "/reports"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var resp models.GetReportsResponse
	if err := c.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Update changes a report's status or admin response.
func (c *Client) Update(ctx context.Context, token, id string, req models.UpdateReportRequest) (*models.Report, error) {
	var resp models.Report
	if err := c.do(ctx, http.MethodPut, "/reports/"+url.PathEscape(id), token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
