package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client is an HTTP client for the envvault API.
type Client struct {
	addr  string
	token string
	http  *http.Client
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// newClient creates a Client from the current config and the ENVVAULT_* overrides.
func newClient() (*Client, error) {
	addr := cfg.Address
	if v := os.Getenv("ENVVAULT_ADDR"); v != "" {
		addr = v
	}
	token := cfg.Token
	if v := os.Getenv("ENVVAULT_TOKEN"); v != "" {
		token = v
	}
	caCert := cfg.TLSCACert
	if v := os.Getenv("ENVVAULT_CACERT"); v != "" {
		caCert = v
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caCert != "" {
		data, err := os.ReadFile(caCert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("no certificates found in %s", caCert)
		}
		tlsCfg.RootCAs = pool
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}
	return &Client{addr: addr, token: token, http: httpClient}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Envvault-Token", c.token)
	}
	return c.http.Do(req)
}

// call sends a JSON request and decodes a JSON object answer. 204 yields an empty map.
func (c *Client) call(ctx context.Context, method, path string, body any) (map[string]any, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(resp.StatusCode, data)
	}
	result := map[string]any{}
	if resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)
	}
	return result, nil
}

// text fetches a non-JSON body, such as a dotenv export.
func (c *Client) text(ctx context.Context, path string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", parseError(resp.StatusCode, data)
	}
	return string(data), nil
}

func parseError(status int, data []byte) error {
	var body struct {
		Errors []string `json:"errors"`
		Kind   string   `json:"kind"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Errors) == 0 {
		return &APIError{Status: status, Message: http.StatusText(status)}
	}
	return &APIError{Status: status, Kind: body.Kind, Message: body.Errors[0]}
}

// projectPath is the API prefix of one project.
func projectPath(workspace, project string) string {
	return "/v1/workspaces/" + url.PathEscape(workspace) + "/projects/" + url.PathEscape(project)
}
