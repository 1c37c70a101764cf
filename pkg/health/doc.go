// Package health provides health checking primitives for scuttle's own
// dependencies and for the proxies it hands out to crawl workers.
//
// # Overview
//
// Two consumers drive this package:
//
//   - The server process monitors its critical dependencies (the bolt
//     task store and the redis broker) and feeds the results into the
//     readiness endpoint. A server that cannot reach its store or broker
//     must stop accepting dispatch work.
//   - The proxy probe endpoint performs one-shot TCP checks against a
//     proxy's forward endpoint before an operator re-enables it.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│                        Monitor                          │
//	│                                                         │
//	│   ┌───────────────┐  ┌───────────────┐                  │
//	│   │ store loop    │  │ broker loop   │   one goroutine  │
//	│   │ PingChecker   │  │ PingChecker   │   per component  │
//	│   └───────┬───────┘  └───────┬───────┘                  │
//	│           │ Status.Update    │                          │
//	│           └────────┬─────────┘                          │
//	│                    ▼                                    │
//	│              ReportFunc ──► metrics.UpdateComponent     │
//	└─────────────────────────────────────────────────────────┘
//
//	 TCPChecker (one-shot, no Monitor) ──► proxy probe endpoint
//
// # Checkers
//
// All checkers implement the Checker interface:
//
//	type Checker interface {
//		Check(ctx context.Context) Result
//		Type() CheckType
//	}
//
// TCPChecker dials an address and reports whether the connection was
// accepted. PingChecker wraps anything with a Ping(ctx) method; the bolt
// store answers with a read transaction and the broker with a redis PING.
//
// # Status Tracking
//
// Status applies a consecutive-failure threshold so a single flaky round
// trip does not flip readiness:
//
//	status := health.NewStatus()
//	status.Update(result, config)   // unhealthy after config.Retries misses
//
// One successful check recovers the component immediately. Config
// optionally carries a StartPeriod during which failures are recorded but
// never counted, which keeps a still-connecting broker from tripping the
// threshold at boot.
//
// # Usage
//
// Monitoring server dependencies:
//
//	monitor := health.NewMonitor(func(name string, st health.Status) {
//		metrics.UpdateComponent(name, st.Healthy, st.LastResult.Message)
//	})
//	monitor.Register("store", health.NewStoreChecker(store), health.DefaultConfig())
//	monitor.Register("broker", health.NewBrokerChecker(broker), health.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//
// Probing a proxy on demand:
//
//	checker := health.NewTCPChecker("proxy1.example.net:8080").WithTimeout(3 * time.Second)
//	result := checker.Check(ctx)
//	if !result.Healthy {
//		return fmt.Errorf("proxy unreachable: %s", result.Message)
//	}
//
// # Integration Points
//
//   - pkg/metrics: Monitor reports feed the component health registry
//     behind /healthz and /readyz.
//   - pkg/manager: the proxy probe operation runs a TCPChecker against
//     the proxy endpoint.
//   - cmd/scuttle: the server command registers store and broker
//     checkers at startup.
//
// # Design Decisions
//
// Checks run in their own goroutines with per-check timeouts, so a hung
// dependency delays only its own loop. Results are pushed through a
// callback rather than polled, which keeps this package free of metrics
// and transport imports.
package health
