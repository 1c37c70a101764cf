package api

import (
	"time"

	"github.com/cuemby/scuttle/pkg/types"
)

// Request bodies are defined here so pkg/client and the CLI share the
// exact wire shapes with the server.

// SubmitTaskRequest is the body of POST /api/v1/tasks.
type SubmitTaskRequest struct {
	HostID string `json:"host_id"`
	URL    string `json:"url"`
	types.TaskOptions
}

// SubmitTasksBulkRequest is the body of POST /api/v1/tasks/bulk. Options
// apply to every URL in the batch.
type SubmitTasksBulkRequest struct {
	HostID string   `json:"host_id"`
	URLs   []string `json:"urls"`
	types.TaskOptions
}

// RestartTaskRequest is the body of POST /api/v1/tasks/{id}/restart.
// ParseOnly re-enters at downloaded against the stored body; the restart
// options are ignored in that mode.
type RestartTaskRequest struct {
	ParseOnly bool `json:"parse_only,omitempty"`
	types.RestartOptions
}

// RestartFailedRequest is the body of POST /api/v1/tasks/restart-failed.
type RestartFailedRequest struct {
	HostID      string     `json:"host_id,omitempty"`
	FailedAfter *time.Time `json:"failed_after,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	types.RestartOptions
}

// ChangePriorityRequest is the body of PUT /api/v1/tasks/{id}/priority.
type ChangePriorityRequest struct {
	Priority int `json:"priority"`
}

// ClaimRequest is the body of POST /api/v1/tasks/{id}/claim. Stage is
// "crawl" or "parse".
type ClaimRequest struct {
	Stage string `json:"stage"`
}

// BindProxyRequest is the body of POST /api/v1/hosts/{id}/proxies. Either
// ProxyID (single bind with priority) or ProxyIDs (bulk) is set.
type BindProxyRequest struct {
	ProxyID  string   `json:"proxy_id,omitempty"`
	Priority int      `json:"priority,omitempty"`
	ProxyIDs []string `json:"proxy_ids,omitempty"`
}
