package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProjectsHTTP lists the projects known to the remote manager.
type ProjectsHTTP struct {
	baseURL string
	http    *http.Client
}

// NewProjectsHTTP builds a catalog client for the manager's HTTP API.
func NewProjectsHTTP(baseURL string) *ProjectsHTTP {
	return &ProjectsHTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// ListProjects fetches the project catalog. The payload is either a bare
// list or an object with a "projects" key, depending on server version.
func (c *ProjectsHTTP) ListProjects(ctx context.Context) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/projects/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read projects list: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list projects returned %s", resp.Status)
	}

	var list []map[string]any
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Projects []map[string]any `json:"projects"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("parse projects list: %w", err)
	}
	return wrapped.Projects, nil
}
