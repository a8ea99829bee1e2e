// Package backend is a client for the community REST API. Every call is authenticated
// with the caller's access token.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benvon/community-portal/internal/autherr"
	"github.com/benvon/community-portal/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxErrorBody = 1 << 16

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Client calls the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. A nil httpClient gets a traced client with a
// 10s timeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil || u.Host == "" {
		return nil, autherr.Configuration("backend API URL %q is invalid", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// ProfileStatus reports whether the token's user has a profile in the backend.
func (c *Client) ProfileStatus(ctx context.Context, accessToken string) (*models.ProfileStatus, error) {
	var status models.ProfileStatus
	if err := c.do(ctx, http.MethodGet, "/users/profile-status", accessToken, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListUsers returns one page of users matching params.Filter.
func (c *Client) ListUsers(ctx context.Context, accessToken string, params models.UserListParams) (*models.UserPage, error) {
	q := url.Values{}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.PerPage > 0 {
		q.Set("perPage", strconv.Itoa(params.PerPage))
	}
	if params.Filter != "" {
		q.Set("filter", params.Filter)
	}
	path := "/users"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page models.UserPage
	if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpdateUser applies a partial update to the user with id.
func (c *Client) UpdateUser(ctx context.Context, accessToken, id string, update models.UserUpdate) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(id), accessToken, update, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateRoles replaces the roles of the user with id.
func (c *Client) UpdateRoles(ctx context.Context, accessToken, id string, update models.RolesUpdate) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(id)+"/roles", accessToken, update, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Ping checks that the backend answers at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusInternalServerError {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return autherr.Wrap(autherr.CodeOf(err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
		if resp.StatusCode == http.StatusUnauthorized {
			return autherr.Wrap(autherr.CodeInvalidToken, apiErr)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(data))
}
