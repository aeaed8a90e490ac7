package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/daimoniac/swarmshield/internal/errors"
)

// Packument is the registry document listing every version of a package
type Packument struct {
	Name     string                     `json:"name"`
	Versions map[string]VersionManifest `json:"versions"`
	Time     map[string]string          `json:"time,omitempty"`
}

// VersionManifest is the package.json of one published version
type VersionManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Scripts      map[string]string `json:"scripts,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Client fetches package documents from an npm-compatible registry
type Client interface {
	Packument(ctx context.Context, name string) (*Packument, error)
}

type npmClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewNPMClient creates a registry client for baseURL. token is sent as a
// bearer token when set.
func NewNPMClient(baseURL, token string, timeout time.Duration) (Client, error) {
	if baseURL == "" {
		return nil, errors.NewPermanentf("registry URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.NewPermanentf("invalid registry URL %s: %w", baseURL, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &npmClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// packageURL escapes scoped names as @scope%2Fname.
func (c *npmClient) packageURL(name string) string {
	return c.baseURL + "/" + url.PathEscape(name)
}

func (c *npmClient) Packument(ctx context.Context, name string) (*Packument, error) {
	if name == "" {
		return nil, errors.NewInvalidInputf("package name is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.packageURL(name), nil)
	if err != nil {
		return nil, errors.NewPermanentf("failed to build request for %s: %w", name, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransientf("failed to fetch %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NewNotFoundf("package %s not found in registry", name)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.NewTransientf("registry returned %d for %s", resp.StatusCode, name)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.NewPermanentf("registry returned %d for %s: %s", resp.StatusCode, name, strings.TrimSpace(string(body)))
	}

	var doc Packument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, errors.NewTransientf("failed to decode packument for %s: %w", name, err)
	}
	if doc.Name == "" {
		doc.Name = name
	}
	if doc.Name != name {
		return nil, errors.NewPermanent(fmt.Errorf("registry returned packument for %s, expected %s", doc.Name, name))
	}
	return &doc, nil
}
