package manager

import (
	"context"
	"strconv"
	"time"

	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/events"
	"github.com/cuemby/scuttle/pkg/health"
	"github.com/cuemby/scuttle/pkg/metrics"
	"github.com/cuemby/scuttle/pkg/proxy"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/google/uuid"
)

// CreateHost registers a crawlable site. Name, base URL and parser tag
// are required; the name must be unique.
func (m *Manager) CreateHost(host *types.Host) (*types.Host, error) {
	if host.Name == "" {
		return nil, errdefs.InvalidArgument("host name is required")
	}
	if host.BaseURL == "" {
		return nil, errdefs.InvalidArgument("host base_url is required")
	}
	if host.ParserTag == "" {
		return nil, errdefs.InvalidArgument("host parser_tag is required")
	}

	if host.ID == "" {
		host.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	host.CreatedAt = now
	host.UpdatedAt = now

	if err := m.store.CreateHost(host); err != nil {
		return nil, err
	}

	m.logger.Info().Str("host_id", host.ID).Str("name", host.Name).Msg("Host created")
	m.publishEvent(events.EventHostCreated, host.ID, host.Name,
		map[string]string{"name": host.Name})
	return host, nil
}

// GetHost returns one host row.
func (m *Manager) GetHost(id string) (*types.Host, error) {
	return m.store.GetHost(id)
}

// GetHostByName resolves a host by its unique name.
func (m *Manager) GetHostByName(name string) (*types.Host, error) {
	return m.store.GetHostByName(name)
}

// ListHosts returns all hosts.
func (m *Manager) ListHosts() ([]*types.Host, error) {
	return m.store.ListHosts()
}

// UpdateHost replaces a host's settings. The id is immutable.
func (m *Manager) UpdateHost(host *types.Host) (*types.Host, error) {
	if host.Name == "" {
		return nil, errdefs.InvalidArgument("host name is required")
	}

	current, err := m.store.GetHost(host.ID)
	if err != nil {
		return nil, err
	}
	host.CreatedAt = current.CreatedAt
	host.UpdatedAt = time.Now().UTC()

	if err := m.store.UpdateHost(host); err != nil {
		return nil, err
	}

	m.logger.Info().Str("host_id", host.ID).Msg("Host updated")
	m.publishEvent(events.EventHostUpdated, host.ID, host.Name, nil)
	return host, nil
}

// SetHostActive enables or disables dispatch for a host. Disabling stops
// new dispatches immediately; tasks already queued or in flight finish
// their current attempt.
func (m *Manager) SetHostActive(id string, active bool) (*types.Host, error) {
	host, err := m.store.GetHost(id)
	if err != nil {
		return nil, err
	}
	if host.Active == active {
		return host, nil
	}

	host.Active = active
	host.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateHost(host); err != nil {
		return nil, err
	}

	m.logger.Info().Str("host_id", id).Bool("active", active).Msg("Host active flag changed")
	m.publishEvent(events.EventHostUpdated, id, host.Name,
		map[string]string{"active": strconv.FormatBool(active)})
	return host, nil
}

// DeleteHost removes a host and its bindings. The store refuses while
// live tasks reference the host; terminal task rows are kept as history.
func (m *Manager) DeleteHost(id string) error {
	host, err := m.store.GetHost(id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteHost(id); err != nil {
		return err
	}

	m.logger.Info().Str("host_id", id).Str("name", host.Name).Msg("Host deleted")
	m.publishEvent(events.EventHostDeleted, id, host.Name, nil)
	return nil
}

// CreateProxy registers an outbound identity. The password is encrypted
// at rest when the store holds an encryption key.
func (m *Manager) CreateProxy(p *types.Proxy) (*types.Proxy, error) {
	if p.Address == "" {
		return nil, errdefs.InvalidArgument("proxy address is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return nil, errdefs.InvalidArgument("proxy port %d outside 1..65535", p.Port)
	}
	if p.Protocol == "" {
		p.Protocol = types.ProxyProtocolHTTP
	}
	if !p.Protocol.Valid() {
		return nil, errdefs.InvalidArgument("unsupported proxy protocol %q", p.Protocol)
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := m.store.CreateProxy(p); err != nil {
		return nil, err
	}

	m.logger.Info().Str("proxy_id", p.ID).Str("endpoint", p.Endpoint()).Msg("Proxy created")
	m.publishEvent(events.EventProxyCreated, p.ID, p.Endpoint(), nil)
	return p, nil
}

// GetProxy returns one proxy row with the password decrypted. The API
// layer redacts credentials before responding.
func (m *Manager) GetProxy(id string) (*types.Proxy, error) {
	return m.store.GetProxy(id)
}

// ListProxies returns all proxies.
func (m *Manager) ListProxies() ([]*types.Proxy, error) {
	return m.store.ListProxies()
}

// UpdateProxy replaces a proxy's settings, preserving health counters.
func (m *Manager) UpdateProxy(p *types.Proxy) (*types.Proxy, error) {
	current, err := m.store.GetProxy(p.ID)
	if err != nil {
		return nil, err
	}
	if !p.Protocol.Valid() {
		return nil, errdefs.InvalidArgument("unsupported proxy protocol %q", p.Protocol)
	}

	p.SuccessCount = current.SuccessCount
	p.FailureCount = current.FailureCount
	p.LastUsedAt = current.LastUsedAt
	p.LastSuccessAt = current.LastSuccessAt
	p.LastFailureAt = current.LastFailureAt
	p.AvgLatencyMS = current.AvgLatencyMS
	p.DisabledAt = current.DisabledAt
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	if err := m.store.UpdateProxy(p); err != nil {
		return nil, err
	}

	m.logger.Info().Str("proxy_id", p.ID).Msg("Proxy updated")
	m.publishEvent(events.EventProxyUpdated, p.ID, p.Endpoint(), nil)
	return p, nil
}

// SetProxyActive enables or disables a proxy everywhere. A manual enable
// clears the consecutive-failure count and the disabled timestamp, making
// its bindings immediately eligible again.
func (m *Manager) SetProxyActive(id string, active bool) (*types.Proxy, error) {
	p, err := m.store.GetProxy(id)
	if err != nil {
		return nil, err
	}
	if p.Active == active {
		return p, nil
	}

	now := time.Now().UTC()
	p.Active = active
	p.UpdatedAt = now
	if active {
		p.FailureCount = 0
		p.DisabledAt = nil
	} else {
		p.DisabledAt = &now
	}

	if err := m.store.UpdateProxy(p); err != nil {
		return nil, err
	}

	if active {
		metrics.ProxiesReenabled.Inc()
		m.logger.Info().Str("proxy_id", id).Msg("Proxy re-enabled by operator")
		m.publishEvent(events.EventProxyReenabled, id, p.Endpoint(), nil)
	} else {
		metrics.ProxiesDisabled.Inc()
		m.logger.Warn().Str("proxy_id", id).Msg("Proxy disabled by operator")
		m.publishEvent(events.EventProxyDisabled, id, p.Endpoint(), nil)
	}
	return p, nil
}

// ProbeProxy dials the proxy endpoint once and reports reachability.
// Counters are untouched; operators probe before re-enabling a proxy
// that was disabled for consecutive failures.
func (m *Manager) ProbeProxy(ctx context.Context, id string) (*types.ProxyProbe, error) {
	p, err := m.store.GetProxy(id)
	if err != nil {
		return nil, err
	}

	result := health.NewTCPChecker(p.Endpoint()).Check(ctx)
	m.logger.Debug().
		Str("proxy_id", id).
		Str("endpoint", p.Endpoint()).
		Bool("reachable", result.Healthy).
		Dur("latency", result.Duration).
		Msg("Proxy probed")

	return &types.ProxyProbe{
		ProxyID:   p.ID,
		Endpoint:  p.Endpoint(),
		Reachable: result.Healthy,
		Message:   result.Message,
		LatencyMS: result.Duration.Milliseconds(),
		CheckedAt: result.CheckedAt,
	}, nil
}

// DeleteProxy removes a proxy and cascades its bindings.
func (m *Manager) DeleteProxy(id string) error {
	p, err := m.store.GetProxy(id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteProxy(id); err != nil {
		return err
	}

	m.logger.Info().Str("proxy_id", id).Str("endpoint", p.Endpoint()).Msg("Proxy deleted")
	m.publishEvent(events.EventProxyDeleted, id, p.Endpoint(), nil)
	return nil
}

// BindProxy attaches a proxy to a host for allocation.
func (m *Manager) BindProxy(hostID, proxyID string, priority int) (*types.HostProxyBinding, error) {
	return m.allocator.Bind(hostID, proxyID, priority)
}

// BindProxiesBulk attaches several proxies to a host, skipping pairs that
// already exist.
func (m *Manager) BindProxiesBulk(hostID string, proxyIDs []string) (*proxy.BindBulkResult, error) {
	return m.allocator.BindBulk(hostID, proxyIDs)
}

// UnbindProxy detaches a proxy from a host.
func (m *Manager) UnbindProxy(hostID, proxyID string) error {
	return m.allocator.Unbind(hostID, proxyID)
}

// ProxyStats returns the per-binding health summary for a host.
func (m *Manager) ProxyStats(hostID string) ([]types.BindingStats, error) {
	return m.allocator.Stats(hostID)
}
