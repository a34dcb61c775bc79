package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiError is the error envelope returned by vaultd.
type apiError struct {
	Status int
	Kind   string `json:"kind"`
	Msg    string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("vaultd: status %d: %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("vaultd: %s (%d): %s", e.Kind, e.Status, e.Msg)
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(endpoint, token string, timeout time.Duration) (*client, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return &client{
		base:  strings.TrimRight(parsed.String(), "/"),
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(payload, apiErr); jsonErr != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(payload))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}

func (c *client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}
