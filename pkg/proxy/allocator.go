package proxy

import (
	"fmt"
	"time"

	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/events"
	"github.com/cuemby/scuttle/pkg/log"
	"github.com/cuemby/scuttle/pkg/metrics"
	"github.com/cuemby/scuttle/pkg/storage"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Allocator hands out proxies for crawl attempts and folds attempt outcomes
// back into binding and proxy health.
type Allocator struct {
	store  storage.Store
	events *events.Broker // nil = no event publishing
	policy storage.OutcomePolicy
	logger zerolog.Logger
}

// NewAllocator creates a new proxy allocator. Zero policy fields fall back
// to the shipped thresholds (binding 5, proxy 10, grace 5m).
func NewAllocator(store storage.Store, broker *events.Broker, policy storage.OutcomePolicy) *Allocator {
	if policy.BindingFailureThreshold <= 0 {
		policy.BindingFailureThreshold = 5
	}
	if policy.GlobalFailureThreshold <= 0 {
		policy.GlobalFailureThreshold = 10
	}
	if policy.ReenableGrace <= 0 {
		policy.ReenableGrace = 5 * time.Minute
	}

	return &Allocator{
		store:  store,
		events: broker,
		policy: policy,
		logger: log.WithComponent("allocator"),
	}
}

// Acquire selects the least-recently-used healthy proxy bound to the host
// and stamps its last-used marker in the same store transaction. Returns
// errdefs.ErrNoProxyAvailable when no binding passes the health gate.
func (a *Allocator) Acquire(hostID string) (*types.ProxyLease, error) {
	lease, err := a.store.AcquireProxyForHost(hostID, time.Now().UTC(), a.policy.BindingFailureThreshold)
	if err != nil {
		if errdefs.IsNoProxyAvailable(err) {
			metrics.ProxyAcquireMisses.Inc()
			a.logger.Debug().Str("host_id", hostID).Msg("No eligible proxy for host")
		}
		return nil, err
	}

	a.logger.Debug().
		Str("host_id", hostID).
		Str("binding_id", lease.BindingID).
		Str("proxy_id", lease.Proxy.ID).
		Msg("Proxy acquired")

	return lease, nil
}

// Release records the outcome of a crawl attempt against the leased binding.
// The binding id is the lease handle handed out by Acquire.
func (a *Allocator) Release(bindingID string, outcome types.ProxyOutcome) error {
	result, err := a.store.RecordProxyOutcome(bindingID, outcome, a.policy, time.Now().UTC())
	if err != nil {
		return err
	}

	if result.BindingExhausted {
		metrics.BindingsDisabled.Inc()
		a.logger.Warn().
			Str("binding_id", result.Binding.ID).
			Str("proxy_id", result.Binding.ProxyID).
			Str("host_id", result.Binding.HostID).
			Int("failures", result.Binding.FailureCount).
			Msg("Binding reached failure threshold")
		a.publish(events.EventBindingExhausted, result.Binding.ID,
			fmt.Sprintf("binding %s exhausted after %d consecutive failures", result.Binding.ID, result.Binding.FailureCount),
			map[string]string{
				"binding_id": result.Binding.ID,
				"proxy_id":   result.Binding.ProxyID,
				"host_id":    result.Binding.HostID,
			})
	}

	if result.ProxyDisabled {
		metrics.ProxiesDisabled.Inc()
		a.logger.Warn().
			Str("proxy_id", result.Proxy.ID).
			Str("endpoint", result.Proxy.Endpoint()).
			Msg("Proxy auto-disabled")
		a.publish(events.EventProxyDisabled, result.Proxy.ID,
			fmt.Sprintf("proxy %s disabled after %d consecutive failures", result.Proxy.ID, result.Proxy.FailureCount),
			map[string]string{"proxy_id": result.Proxy.ID})
	}

	if result.ProxyReenabled {
		metrics.ProxiesReenabled.Inc()
		a.logger.Info().
			Str("proxy_id", result.Proxy.ID).
			Str("endpoint", result.Proxy.Endpoint()).
			Msg("Proxy re-enabled after successful attempt")
		a.publish(events.EventProxyReenabled, result.Proxy.ID,
			fmt.Sprintf("proxy %s re-enabled", result.Proxy.ID),
			map[string]string{"proxy_id": result.Proxy.ID})
	}

	return nil
}

// Bind creates a host/proxy binding. A duplicate pair returns
// errdefs.ErrDuplicate.
func (a *Allocator) Bind(hostID, proxyID string, priority int) (*types.HostProxyBinding, error) {
	now := time.Now().UTC()
	binding := &types.HostProxyBinding{
		ID:        uuid.New().String(),
		HostID:    hostID,
		ProxyID:   proxyID,
		Active:    true,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := a.store.CreateBinding(binding); err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("binding_id", binding.ID).
		Str("host_id", hostID).
		Str("proxy_id", proxyID).
		Msg("Binding created")
	a.publish(events.EventBindingCreated, binding.ID,
		fmt.Sprintf("proxy %s bound to host %s", proxyID, hostID),
		map[string]string{"binding_id": binding.ID, "host_id": hostID, "proxy_id": proxyID})

	return binding, nil
}

// BindBulkResult reports per-proxy outcomes of a bulk bind
type BindBulkResult struct {
	Bound   []*types.HostProxyBinding `json:"bound"`
	Skipped []BindSkip                `json:"skipped,omitempty"`
}

// BindSkip records a proxy that could not be bound and why
type BindSkip struct {
	ProxyID string `json:"proxy_id"`
	Reason  string `json:"reason"`
}

// BindBulk binds many proxies to one host. Existing pairs and missing
// proxies are skipped and reported; the rest are bound.
func (a *Allocator) BindBulk(hostID string, proxyIDs []string) (*BindBulkResult, error) {
	if _, err := a.store.GetHost(hostID); err != nil {
		return nil, err
	}

	result := &BindBulkResult{Bound: []*types.HostProxyBinding{}}
	for _, proxyID := range proxyIDs {
		binding, err := a.Bind(hostID, proxyID, 0)
		if err != nil {
			result.Skipped = append(result.Skipped, BindSkip{ProxyID: proxyID, Reason: err.Error()})
			continue
		}
		result.Bound = append(result.Bound, binding)
	}

	return result, nil
}

// Unbind removes the binding between a host and a proxy
func (a *Allocator) Unbind(hostID, proxyID string) error {
	binding, err := a.store.GetBindingByPair(hostID, proxyID)
	if err != nil {
		return err
	}

	if err := a.store.DeleteBinding(binding.ID); err != nil {
		return err
	}

	a.logger.Info().
		Str("binding_id", binding.ID).
		Str("host_id", hostID).
		Str("proxy_id", proxyID).
		Msg("Binding removed")
	a.publish(events.EventBindingDeleted, binding.ID,
		fmt.Sprintf("proxy %s unbound from host %s", proxyID, hostID),
		map[string]string{"binding_id": binding.ID, "host_id": hostID, "proxy_id": proxyID})

	return nil
}

// Stats returns the health summary of every binding for a host
func (a *Allocator) Stats(hostID string) ([]types.BindingStats, error) {
	bindings, err := a.store.ListBindingsByHost(hostID)
	if err != nil {
		return nil, err
	}

	stats := make([]types.BindingStats, 0, len(bindings))
	for _, binding := range bindings {
		entry := types.BindingStats{
			BindingID:    binding.ID,
			ProxyID:      binding.ProxyID,
			Active:       binding.Active,
			SuccessCount: binding.SuccessCount,
			FailureCount: binding.FailureCount,
			AvgLatencyMS: binding.AvgLatencyMS,
			LastUsedAt:   binding.LastUsedAt,
		}

		row, err := a.store.GetProxy(binding.ProxyID)
		if err == nil {
			entry.Endpoint = row.Endpoint()
			entry.ProxyActive = row.Active
		}

		stats = append(stats, entry)
	}

	return stats, nil
}

// publish sends an event when a broker is attached
func (a *Allocator) publish(eventType events.EventType, id, message string, metadata map[string]string) {
	if a.events == nil {
		return
	}
	a.events.Publish(&events.Event{
		ID:       id,
		Type:     eventType,
		Message:  message,
		Metadata: metadata,
	})
}
