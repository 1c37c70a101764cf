package client

import (
	"bufio"
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

	"github.com/cuemby/scuttle/pkg/api"
	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/events"
	"github.com/cuemby/scuttle/pkg/proxy"
	"github.com/cuemby/scuttle/pkg/types"
)

// requestTimeout bounds every unary call. WatchEvents runs on the caller's
// context instead.
const requestTimeout = 10 * time.Second

// Client wraps the Scuttle HTTP API for CLI and worker usage
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the manager API at baseURL. A bare
// host:port is treated as http.
func NewClient(baseURL string) (*Client, error) {
	return NewClientWithToken(baseURL, "")
}

// NewClientWithToken creates a client that authenticates every request with
// the given bearer token.
func NewClientWithToken(baseURL, token string) (*Client, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid manager address %q: %w", baseURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid manager address %q: missing host", baseURL)
	}
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		token:   token,
		// No Timeout on the http.Client itself: the event stream must stay
		// open. Unary calls carry a per-request context deadline.
		http: &http.Client{},
	}, nil
}

// Close releases idle connections held by the transport.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) do(method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
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

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError rebuilds a sentinel-wrapped error from the {error, kind} payload
// so callers branch with errdefs the same way they would in-process.
func apiError(resp *http.Response) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("manager returned %s", resp.Status)
	}
	if sentinel, ok := kindSentinels[body.Kind]; ok {
		return fmt.Errorf("%s: %w", body.Error, sentinel)
	}
	return fmt.Errorf("%s (%s)", body.Error, body.Kind)
}

var kindSentinels = map[string]error{
	"not_found":          errdefs.ErrNotFound,
	"duplicate":          errdefs.ErrDuplicate,
	"illegal_transition": errdefs.ErrIllegalTransition,
	"html_not_available": errdefs.ErrHTMLNotAvailable,
	"no_proxy_available": errdefs.ErrNoProxyAvailable,
	"broker_unavailable": errdefs.ErrBrokerUnavailable,
	"store_unavailable":  errdefs.ErrStoreUnavailable,
	"validation":         errdefs.ErrInvalidArgument,
}

// SubmitTask submits one URL for crawling
func (c *Client) SubmitTask(hostID, rawURL string, opts types.TaskOptions) (*types.CrawlTask, error) {
	var task types.CrawlTask
	err := c.do(http.MethodPost, "/api/v1/tasks",
		api.SubmitTaskRequest{HostID: hostID, URL: rawURL, TaskOptions: opts}, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// SubmitTasksBulk submits a batch of URLs under shared options
func (c *Client) SubmitTasksBulk(hostID string, urls []string, opts types.TaskOptions) (*types.BulkSubmitResult, error) {
	var result types.BulkSubmitResult
	err := c.do(http.MethodPost, "/api/v1/tasks/bulk",
		api.SubmitTasksBulkRequest{HostID: hostID, URLs: urls, TaskOptions: opts}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTask fetches a task by ID
func (c *Client) GetTask(id string) (*types.CrawlTask, error) {
	var task types.CrawlTask
	if err := c.do(http.MethodGet, "/api/v1/tasks/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// QueryTasks returns one page of tasks matching the query
func (c *Client) QueryTasks(q types.TaskQuery) (*types.TaskPage, error) {
	var page types.TaskPage
	path := "/api/v1/tasks"
	if params := taskQueryValues(q).Encode(); params != "" {
		path += "?" + params
	}
	if err := c.do(http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func taskQueryValues(q types.TaskQuery) url.Values {
	v := url.Values{}
	f := q.Filter
	if len(f.Statuses) > 0 {
		parts := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			parts[i] = string(s)
		}
		v.Set("status", strings.Join(parts, ","))
	}
	if f.HostID != "" {
		v.Set("host_id", f.HostID)
	}
	if f.PriorityMin > 0 {
		v.Set("priority_min", strconv.Itoa(f.PriorityMin))
	}
	if f.PriorityMax > 0 {
		v.Set("priority_max", strconv.Itoa(f.PriorityMax))
	}
	if f.CreatedAfter != nil {
		v.Set("created_after", f.CreatedAfter.Format(time.RFC3339))
	}
	if f.CreatedBefore != nil {
		v.Set("created_before", f.CreatedBefore.Format(time.RFC3339))
	}
	if f.FailedAfter != nil {
		v.Set("failed_after", f.FailedAfter.Format(time.RFC3339))
	}
	if f.IsRecurring != nil {
		v.Set("is_recurring", strconv.FormatBool(*f.IsRecurring))
	}
	if q.Sort != "" {
		v.Set("sort", string(q.Sort))
	}
	if q.Desc {
		v.Set("desc", "true")
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	return v
}

// PauseTask pauses a task that has not been handed to a worker yet
func (c *Client) PauseTask(id string) (*types.CrawlTask, error) {
	return c.taskAction(id, "pause", nil)
}

// ResumeTask returns a paused task to pending
func (c *Client) ResumeTask(id string) (*types.CrawlTask, error) {
	return c.taskAction(id, "resume", nil)
}

// CancelTask terminally cancels a task and frees its fingerprint
func (c *Client) CancelTask(id string) (*types.CrawlTask, error) {
	return c.taskAction(id, "cancel", nil)
}

// RestartTask re-runs a failed or completed task from the beginning
func (c *Client) RestartTask(id string, opts types.RestartOptions) (*types.CrawlTask, error) {
	return c.taskAction(id, "restart", api.RestartTaskRequest{RestartOptions: opts})
}

// RestartParseOnly re-enters a task at the parse stage against its stored body
func (c *Client) RestartParseOnly(id string) (*types.CrawlTask, error) {
	return c.taskAction(id, "restart", api.RestartTaskRequest{ParseOnly: true})
}

// RestartFailed restarts failed tasks in bulk, optionally scoped to a host
// and a failure cutoff
func (c *Client) RestartFailed(hostID string, failedAfter *time.Time, limit int, opts types.RestartOptions) (*types.BulkRestartResult, error) {
	var result types.BulkRestartResult
	err := c.do(http.MethodPost, "/api/v1/tasks/restart-failed", api.RestartFailedRequest{
		HostID:         hostID,
		FailedAfter:    failedAfter,
		Limit:          limit,
		RestartOptions: opts,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ChangePriority updates a task's priority without touching its status
func (c *Client) ChangePriority(id string, priority int) (*types.CrawlTask, error) {
	var task types.CrawlTask
	err := c.do(http.MethodPut, "/api/v1/tasks/"+id+"/priority",
		api.ChangePriorityRequest{Priority: priority}, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ClaimCrawl moves a queued task to crawling on behalf of a worker
func (c *Client) ClaimCrawl(id string) (*types.CrawlTask, error) {
	return c.taskAction(id, "claim", api.ClaimRequest{Stage: "crawl"})
}

// ClaimParse moves a queued_parse task to parsing on behalf of a worker
func (c *Client) ClaimParse(id string) (*types.CrawlTask, error) {
	return c.taskAction(id, "claim", api.ClaimRequest{Stage: "parse"})
}

// RecordAttempt reports a crawl or parse outcome and returns the task in its
// post-transition state
func (c *Client) RecordAttempt(id string, attempt types.Attempt) (*types.CrawlTask, error) {
	return c.taskAction(id, "attempt", attempt)
}

func (c *Client) taskAction(id, action string, body interface{}) (*types.CrawlTask, error) {
	var task types.CrawlTask
	if err := c.do(http.MethodPost, "/api/v1/tasks/"+id+"/"+action, body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateHost registers a crawl target
func (c *Client) CreateHost(host *types.Host) (*types.Host, error) {
	var created types.Host
	if err := c.do(http.MethodPost, "/api/v1/hosts", host, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListHosts lists all hosts
func (c *Client) ListHosts() ([]*types.Host, error) {
	var hosts []*types.Host
	if err := c.do(http.MethodGet, "/api/v1/hosts", nil, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// GetHost fetches a host by ID or name
func (c *Client) GetHost(nameOrID string) (*types.Host, error) {
	var host types.Host
	if err := c.do(http.MethodGet, "/api/v1/hosts/"+nameOrID, nil, &host); err != nil {
		return nil, err
	}
	return &host, nil
}

// UpdateHost replaces a host's mutable fields
func (c *Client) UpdateHost(host *types.Host) (*types.Host, error) {
	var updated types.Host
	if err := c.do(http.MethodPut, "/api/v1/hosts/"+host.ID, host, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteHost removes a host with no live tasks
func (c *Client) DeleteHost(id string) error {
	return c.do(http.MethodDelete, "/api/v1/hosts/"+id, nil, nil)
}

// EnableHost marks a host eligible for dispatch
func (c *Client) EnableHost(id string) (*types.Host, error) {
	return c.hostAction(id, "enable")
}

// DisableHost stops new dispatch for a host
func (c *Client) DisableHost(id string) (*types.Host, error) {
	return c.hostAction(id, "disable")
}

func (c *Client) hostAction(id, action string) (*types.Host, error) {
	var host types.Host
	if err := c.do(http.MethodPost, "/api/v1/hosts/"+id+"/"+action, nil, &host); err != nil {
		return nil, err
	}
	return &host, nil
}

// BindProxy attaches a proxy to a host at the given priority
func (c *Client) BindProxy(hostID, proxyID string, priority int) (*types.HostProxyBinding, error) {
	var binding types.HostProxyBinding
	err := c.do(http.MethodPost, "/api/v1/hosts/"+hostID+"/proxies",
		api.BindProxyRequest{ProxyID: proxyID, Priority: priority}, &binding)
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

// BindProxiesBulk attaches several proxies to a host, skipping already-bound
// pairs
func (c *Client) BindProxiesBulk(hostID string, proxyIDs []string) (*proxy.BindBulkResult, error) {
	var result proxy.BindBulkResult
	err := c.do(http.MethodPost, "/api/v1/hosts/"+hostID+"/proxies",
		api.BindProxyRequest{ProxyIDs: proxyIDs}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UnbindProxy detaches a proxy from a host
func (c *Client) UnbindProxy(hostID, proxyID string) error {
	return c.do(http.MethodDelete, "/api/v1/hosts/"+hostID+"/proxies/"+proxyID, nil, nil)
}

// ProxyStats returns per-binding health counters for a host
func (c *Client) ProxyStats(hostID string) ([]types.BindingStats, error) {
	var stats []types.BindingStats
	if err := c.do(http.MethodGet, "/api/v1/hosts/"+hostID+"/proxies", nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// AcquireProxy leases a proxy for a crawl against the host. The response
// includes dial credentials.
func (c *Client) AcquireProxy(hostID string) (*types.ProxyLease, error) {
	var lease types.ProxyLease
	if err := c.do(http.MethodPost, "/api/v1/hosts/"+hostID+"/lease", nil, &lease); err != nil {
		return nil, err
	}
	return &lease, nil
}

// ReleaseProxy returns a lease with its outcome
func (c *Client) ReleaseProxy(bindingID string, outcome types.ProxyOutcome) error {
	return c.do(http.MethodPost, "/api/v1/leases/"+bindingID+"/release", outcome, nil)
}

// CreateProxy registers an egress proxy
func (c *Client) CreateProxy(p *types.Proxy) (*types.Proxy, error) {
	var created types.Proxy
	if err := c.do(http.MethodPost, "/api/v1/proxies", p, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListProxies lists all proxies with credentials redacted
func (c *Client) ListProxies() ([]*types.Proxy, error) {
	var proxies []*types.Proxy
	if err := c.do(http.MethodGet, "/api/v1/proxies", nil, &proxies); err != nil {
		return nil, err
	}
	return proxies, nil
}

// GetProxy fetches a proxy by ID with credentials redacted
func (c *Client) GetProxy(id string) (*types.Proxy, error) {
	var p types.Proxy
	if err := c.do(http.MethodGet, "/api/v1/proxies/"+id, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProxy replaces a proxy's endpoint fields, preserving health counters
func (c *Client) UpdateProxy(p *types.Proxy) (*types.Proxy, error) {
	var updated types.Proxy
	if err := c.do(http.MethodPut, "/api/v1/proxies/"+p.ID, p, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteProxy removes a proxy and cascades its bindings
func (c *Client) DeleteProxy(id string) error {
	return c.do(http.MethodDelete, "/api/v1/proxies/"+id, nil, nil)
}

// EnableProxy returns a proxy to rotation and clears its failure count
func (c *Client) EnableProxy(id string) (*types.Proxy, error) {
	return c.proxyAction(id, "enable")
}

// DisableProxy removes a proxy from rotation
func (c *Client) DisableProxy(id string) (*types.Proxy, error) {
	return c.proxyAction(id, "disable")
}

// ProbeProxy asks the server to dial the proxy endpoint once
func (c *Client) ProbeProxy(id string) (*types.ProxyProbe, error) {
	var probe types.ProxyProbe
	if err := c.do(http.MethodPost, "/api/v1/proxies/"+id+"/probe", nil, &probe); err != nil {
		return nil, err
	}
	return &probe, nil
}

func (c *Client) proxyAction(id, action string) (*types.Proxy, error) {
	var p types.Proxy
	if err := c.do(http.MethodPost, "/api/v1/proxies/"+id+"/"+action, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Stats returns store-wide entity counts
func (c *Client) Stats() (*types.StoreCounts, error) {
	var counts types.StoreCounts
	if err := c.do(http.MethodGet, "/api/v1/stats", nil, &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}

// WatchEvents opens the manager's event stream. The returned channel closes
// when ctx is cancelled or the stream drops.
func (c *Client) WatchEvents(ctx context.Context) (<-chan *events.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}

	ch := make(chan *events.Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event events.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}
			select {
			case ch <- &event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
