// Package api is the HTTP control plane surface: a JSON adapter over
// manager.Manager plus probes, metrics and the event stream.
//
// # Overview
//
// Server mounts a chi router with three groups:
//
//   - Probes and scrape: GET /healthz (liveness), GET /readyz (runs the
//     registered store/broker checks, 503 on any failure), GET /metrics
//     (Prometheus).
//   - /api/v1: every manager operation, one route per verb. Tasks
//     (submit, bulk, query, get, pause, resume, cancel, restart,
//     restart-failed, priority, claim, attempt), hosts (CRUD, enable,
//     disable, bindings, lease), proxies (CRUD, enable, disable), lease
//     release, stats.
//   - GET /api/v1/events: Server-Sent Events stream of lifecycle events.
//
// # Middleware
//
// RequestID, RealIP, zerolog request logging and Recoverer wrap every
// route. Inside /api/v1, a static bearer token check activates when
// api.auth_token is set, and a global token-bucket rate limit when
// api.rate_limit is positive. Probe routes stay open so orchestrators can
// always reach them.
//
// # Errors
//
// Every non-2xx response carries {"error": "...", "kind": "..."} where
// kind is the errdefs class. Mapping: validation 400, not_found 404,
// duplicate and illegal_transition 409, html_not_available 422,
// no_proxy_available / broker_unavailable / store_unavailable 503,
// anything else 500. Clients branch on kind, never on message text.
//
// # Credentials
//
// Admin proxy responses redact the password. The one exception is the
// worker-facing lease endpoint (POST /api/v1/hosts/{id}/lease), which
// returns credentials because the worker dials through them.
//
// # Usage
//
//	server := api.NewServer(mgr, []health.Checker{
//		health.NewStoreChecker(store),
//		health.NewBrokerChecker(broker),
//	}, cfg.API)
//
//	go server.Start()
//	defer server.Shutdown(ctx)
//
// Handler() exposes the router for httptest-based tests.
package api
