// Package proxy implements proxy allocation for crawl attempts.
//
// # Overview
//
// Every crawl attempt against a host goes through a proxy chosen from the
// host's bindings. The Allocator wraps the store's atomic selection with
// policy, logging, metrics and lifecycle events:
//
//   - Acquire picks the least-recently-used healthy binding and stamps it
//     in one store transaction, so concurrent acquires for the same host
//     never return the same identity at the same instant.
//   - Release folds the attempt outcome back into binding and proxy
//     health counters and publishes the resulting state changes.
//   - Bind/BindBulk/Unbind/Stats manage which proxies serve which hosts.
//
// # Selection
//
// Eligible bindings satisfy all of:
//
//	binding.active && proxy.active && binding.failure_count < threshold
//
// Among those, ordering is last_used_at ascending with never-used bindings
// first, then average latency ascending. No eligible binding yields
// errdefs.ErrNoProxyAvailable; callers treat that as backpressure for the
// host, not as a task failure.
//
// # Health Folding
//
// A success zeroes the consecutive-failure counters on both the binding
// and the proxy, increments success counts, and folds the latency sample
// into a rolling average. A failure increments both counters:
//
//   - binding failures reaching the binding threshold (default 5) gate
//     the binding out of selection until a success through another host
//     clears the proxy or an operator resets it;
//   - proxy failures reaching the global threshold (default 10) disable
//     the proxy everywhere and stamp disabled_at;
//   - a success recorded after the re-enable grace period (default 5m)
//     turns a disabled proxy back on.
//
// # Usage
//
//	alloc := proxy.NewAllocator(store, eventBroker, storage.OutcomePolicy{
//		BindingFailureThreshold: cfg.Proxy.BindingFailureThreshold,
//		GlobalFailureThreshold:  cfg.Proxy.GlobalFailureThreshold,
//		ReenableGrace:           cfg.Proxy.ReenableGrace,
//	})
//
//	lease, err := alloc.Acquire(hostID)
//	if errdefs.IsNoProxyAvailable(err) {
//		// back off, retry later
//	}
//	// ... perform the fetch through lease.Proxy ...
//	alloc.Release(lease.BindingID, types.ProxyOutcome{Success: true, LatencyMS: 213})
//
// # Integration Points
//
//   - pkg/storage: AcquireProxyForHost and RecordProxyOutcome do the
//     single-transaction work; the allocator adds policy defaults on top.
//   - pkg/manager: worker-facing acquire/release operations and binding
//     admin delegate here.
//   - pkg/events: binding.exhausted, proxy.disabled and proxy.reenabled
//     events fan out to the SSE stream.
//   - pkg/metrics: acquire misses and disable/re-enable counters.
package proxy
