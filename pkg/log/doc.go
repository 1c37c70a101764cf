// Package log owns the process-wide zerolog root and the conventions for
// deriving child loggers from it.
//
// # Overview
//
// Scuttle logs structured JSON in production and a human console format in
// development. Both come from one root logger initialized exactly once:
//
//	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
//
// The server command feeds Init from the log section of its config file,
// so operators pick level and format without touching code.
//
// # Child Loggers
//
// Long-lived components never log through the root directly. Each takes a
// child tagged with its subsystem name at construction:
//
//	logger := log.WithComponent("dispatcher")
//	logger.Info().Int("count", n).Msg("Dispatch pass complete")
//
// which emits
//
//	{"level":"info","component":"dispatcher","count":17,"time":"2026-08-25T10:30:00Z","message":"Dispatch pass complete"}
//
// The manager, dispatcher, broker, proxy allocator and API server all
// follow this pattern, so every production line can be filtered by its
// component field. Stream consumers take WithQueue children instead, and
// WithTaskID, WithHost and WithProxy cover ad hoc tooling that follows a
// single entity around.
//
// # Levels
//
// Levels are plain strings in config ("debug", "info", "warn", "error")
// and parse through zerolog. Anything unrecognized falls back to info
// rather than failing startup. The API middleware drops its request lines
// to debug for /healthz, /readyz and /metrics so steady-state probe
// traffic stays out of info logs.
//
// # Field Conventions
//
// Events about the same entity use the same key everywhere: task_id,
// host_id, queue, proxy_id, request_id. Errors attach with .Err(err),
// never formatted into the message. Proxy credentials and API tokens
// must not appear in any field; log the proxy id, not its URL.
//
// # Integration Points
//
//   - cmd/scuttle: calls Init before the server boots.
//   - pkg/api: request middleware logs method, path, status and duration
//     with the chi request id.
//   - pkg/broker: publish retries and consumer claims, tagged by queue.
//   - pkg/dispatcher: dispatch, reclaim and recurrence passes.
//   - pkg/proxy: allocation decisions and binding health flips.
//
// # Design Decisions
//
// The root is a package-level variable rather than an injected dependency.
// Startup code logs before any constructor wiring exists, and the zero
// value is safe: until Init runs, the root has no writer and zerolog
// discards every event. Package tests rely on exactly that, exercising
// components without calling Init and producing no output.
package log
