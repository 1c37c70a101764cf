package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/scuttle/pkg/api"
	"github.com/cuemby/scuttle/pkg/blob"
	"github.com/cuemby/scuttle/pkg/config"
	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/events"
	"github.com/cuemby/scuttle/pkg/manager"
	"github.com/cuemby/scuttle/pkg/proxy"
	"github.com/cuemby/scuttle/pkg/storage"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mutate func(*config.Config)) *Client {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	eventBroker := events.NewBroker()
	eventBroker.Start()
	t.Cleanup(eventBroker.Stop)

	allocator := proxy.NewAllocator(store, eventBroker, storage.OutcomePolicy{})
	mgr := manager.New(store, allocator, blobs, eventBroker, cfg)

	server := api.NewServer(mgr, nil, cfg.API)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	cli, err := NewClientWithToken(ts.URL, cfg.API.AuthToken)
	require.NoError(t, err)
	t.Cleanup(cli.Close)
	return cli
}

func TestNewClientAddress(t *testing.T) {
	cli, err := NewClient("localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cli.baseURL)

	cli, err = NewClient("https://manager.internal:9443/")
	require.NoError(t, err)
	assert.Equal(t, "https://manager.internal:9443", cli.baseURL)

	_, err = NewClient("")
	assert.Error(t, err)
}

func TestTaskRoundTrip(t *testing.T) {
	cli := newTestClient(t, nil)

	host, err := cli.CreateHost(&types.Host{
		Name:      "shop.example.com",
		BaseURL:   "https://shop.example.com",
		ParserTag: "article_v1",
		Active:    true,
	})
	require.NoError(t, err)

	task, err := cli.SubmitTask(host.ID, "HTTPS://Shop.example.COM/p?b=2&a=1", types.TaskOptions{Priority: 2})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/p?a=1&b=2", task.URL)
	assert.Equal(t, types.TaskStatusPending, task.Status)

	got, err := cli.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	// Error kinds survive the wire.
	_, err = cli.SubmitTask(host.ID, "https://shop.example.com/p?a=1&b=2", types.TaskOptions{})
	assert.True(t, errdefs.IsDuplicate(err), "want duplicate, got %v", err)

	_, err = cli.GetTask("missing")
	assert.True(t, errdefs.IsNotFound(err), "want not found, got %v", err)

	page, err := cli.QueryTasks(types.TaskQuery{
		Filter: types.TaskFilter{
			HostID:   host.ID,
			Statuses: []types.TaskStatus{types.TaskStatusPending},
		},
		Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, page.Tasks, 1)

	paused, err := cli.PauseTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPaused, paused.Status)

	_, err = cli.PauseTask(task.ID)
	assert.True(t, errdefs.IsIllegalTransition(err), "want illegal transition, got %v", err)
}

func TestProxyFlow(t *testing.T) {
	cli := newTestClient(t, nil)

	host, err := cli.CreateHost(&types.Host{
		Name:      "shop.example.com",
		BaseURL:   "https://shop.example.com",
		ParserTag: "article_v1",
		Active:    true,
	})
	require.NoError(t, err)

	created, err := cli.CreateProxy(&types.Proxy{
		Address:  "10.0.0.1",
		Port:     8080,
		Username: "crawler",
		Password: "hunter2",
		Active:   true,
	})
	require.NoError(t, err)
	assert.Empty(t, created.Password, "admin responses are redacted")

	_, err = cli.BindProxy(host.ID, created.ID, 1)
	require.NoError(t, err)

	lease, err := cli.AcquireProxy(host.ID)
	require.NoError(t, err)
	require.NotNil(t, lease.Proxy)
	assert.Equal(t, "hunter2", lease.Proxy.Password, "leases carry dial credentials")

	require.NoError(t, cli.ReleaseProxy(lease.BindingID, types.ProxyOutcome{Success: true, LatencyMS: 80}))

	stats, err := cli.ProxyStats(host.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].SuccessCount)

	require.NoError(t, cli.UnbindProxy(host.ID, created.ID))
	_, err = cli.AcquireProxy(host.ID)
	assert.True(t, errdefs.IsNoProxyAvailable(err), "want no proxy available, got %v", err)
}

func TestBearerToken(t *testing.T) {
	cli := newTestClient(t, func(cfg *config.Config) {
		cfg.API.AuthToken = "secret-token"
	})

	// The env wires the token into the client, so calls pass.
	_, err := cli.ListHosts()
	require.NoError(t, err)

	// A client without the token is rejected.
	bare, err := NewClient(cli.baseURL)
	require.NoError(t, err)
	_, err = bare.ListHosts()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestWatchEvents(t *testing.T) {
	cli := newTestClient(t, nil)

	host, err := cli.CreateHost(&types.Host{
		Name:      "shop.example.com",
		BaseURL:   "https://shop.example.com",
		ParserTag: "article_v1",
		Active:    true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := cli.WatchEvents(ctx)
	require.NoError(t, err)

	// Let the subscription land before publishing.
	time.Sleep(50 * time.Millisecond)
	task, err := cli.SubmitTask(host.ID, "https://shop.example.com/watched", types.TaskOptions{})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-stream:
			require.True(t, ok, "stream closed early")
			if event.Type == events.EventTaskSubmitted && event.Metadata["task_id"] == task.ID {
				return
			}
		case <-deadline:
			t.Fatal("no task.submitted event within deadline")
		}
	}
}
