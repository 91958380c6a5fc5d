// Package remote implements the REST gateway for the appointment API. It
// exposes only the operations the sync engine and CLI need, attaches a
// per-call timeout to every request, and sanitizes responses before handing
// them to callers. A small [Retry] helper with exponential backoff covers
// startup probes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avaldes/citasync/internal/model"
)

// defaultTimeout bounds each API call when the caller does not configure one.
const defaultTimeout = 10 * time.Second

// Doer is the subset of [*http.Client] used by the gateway. Defining it as an
// interface allows mock injection in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the appointment API gateway. Create one with [NewClient].
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	hc      Doer
	log     *slog.Logger
}

// NewClient creates a Client for the API at baseURL. token may be empty for
// unauthenticated deployments; timeout <= 0 falls back to the default.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("api base URL %q must be a valid http or https URL", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		hc:      &http.Client{},
		log:     logger,
	}, nil
}

// SetDoer swaps the underlying HTTP client. Intended for tests.
func (c *Client) SetDoer(d Doer) { c.hc = d }

// do executes one API call with the per-call timeout. body and out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("creating %s %s request: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("executing %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		var br struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&br)
		if br.Message == "" {
			br.Message = "bad request"
		}
		return errors.New(br.Message)
	case resp.StatusCode == http.StatusUnauthorized:
		return errors.New("API returned 401 Unauthorized — check api_token")
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("appointment not found (%s %s)", method, path)
	case resp.StatusCode >= 300:
		return fmt.Errorf("API returned unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// Create posts a new appointment and returns the server's copy, including
// the assigned ID.
func (c *Client) Create(ctx context.Context, payload model.Appointment) (model.Appointment, error) {
	c.log.Debug("creating appointment", "patient", payload.Patient, "date", payload.Date)

	var created model.Appointment
	if err := c.do(ctx, http.MethodPost, "/appointments", payload, &created); err != nil {
		return model.Appointment{}, fmt.Errorf("creating appointment: %w", err)
	}
	if created.ID == "" {
		return model.Appointment{}, errors.New("creating appointment: server response missing id")
	}
	return created.Sanitized(), nil
}

// Update rewrites the appointment with the given server ID.
func (c *Client) Update(ctx context.Context, id string, payload model.Appointment) (model.Appointment, error) {
	c.log.Debug("updating appointment", "id", id)

	var updated model.Appointment
	if err := c.do(ctx, http.MethodPut, "/appointments/"+url.PathEscape(id), payload, &updated); err != nil {
		return model.Appointment{}, fmt.Errorf("updating appointment %q: %w", id, err)
	}
	return updated.Sanitized(), nil
}

// Delete removes the appointment with the given server ID.
func (c *Client) Delete(ctx context.Context, id string) error {
	c.log.Debug("deleting appointment", "id", id)

	if err := c.do(ctx, http.MethodDelete, "/appointments/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting appointment %q: %w", id, err)
	}
	return nil
}

// List returns every appointment known to the server.
func (c *Client) List(ctx context.Context) ([]model.Appointment, error) {
	var appts []model.Appointment
	if err := c.do(ctx, http.MethodGet, "/appointments", nil, &appts); err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}
	for i := range appts {
		appts[i] = appts[i].Sanitized()
	}
	return appts, nil
}

// Get returns a single appointment by server ID.
func (c *Client) Get(ctx context.Context, id string) (model.Appointment, error) {
	var appt model.Appointment
	if err := c.do(ctx, http.MethodGet, "/appointments/"+url.PathEscape(id), nil, &appt); err != nil {
		return model.Appointment{}, fmt.Errorf("fetching appointment %q: %w", id, err)
	}
	return appt.Sanitized(), nil
}

// Ping issues a cheap request to check whether the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/appointments", nil)
	if err != nil {
		return fmt.Errorf("creating ping request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("pinging API: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("API ping returned status %d", resp.StatusCode)
	}
	return nil
}
