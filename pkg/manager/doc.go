// Package manager is the control plane: every operator and worker
// operation funnels through it.
//
// # Overview
//
// The Manager composes the store, the proxy allocator, the blob store and
// the event broker behind one verb-per-method surface. It owns input
// validation, option defaulting, URL normalization and event publication;
// the store underneath owns atomicity. Methods come in three groups:
//
//   - Submission and lifecycle: SubmitTask, SubmitTasksBulk, PauseTask,
//     ResumeTask, CancelTask, RestartTask, RestartParseOnly,
//     BulkRestartFailed, ChangePriority, GetTask, QueryTasks.
//   - Worker write-backs: ClaimCrawl, ClaimParse, RecordAttempt,
//     AcquireProxy, ReleaseProxy.
//   - Administration: host CRUD and activation, proxy CRUD and
//     activation, bindings, per-host proxy stats.
//
// # Concurrency Model
//
// The manager holds no locks and no in-memory task state. Every mutation
// is a single compare-and-swap against the store with an explicit
// from-state set, so concurrent operators, workers and dispatcher rounds
// settle by transaction order. A lost race surfaces as an
// illegal-transition error naming the status that won; callers treat it
// as "somebody got there first", not as corruption.
//
// # Submission
//
// SubmitTask normalizes the URL, fingerprints the normalized form and
// inserts a pending row. The store's fingerprint index makes duplicate
// submission of a URL with a live task an errdefs.ErrDuplicate naming the
// owning task. Terminal rows do not block resubmission. Bulk submission
// applies the same path per URL and reports inserted, duplicate and
// invalid entries separately; partial success is the contract.
//
// # Restart Semantics
//
// RestartTask re-enters a failed or completed row at pending and clears
// the previous attempt's residue (timestamps, error, blob ref, HTTP
// fields). RestartParseOnly re-enters at downloaded instead, keeping the
// stored body so only the parse stage re-runs; it refuses when the blob
// is missing. Cancelled rows stay cancelled.
//
// # Usage
//
//	mgr := manager.New(store, allocator, blobs, eventBroker, cfg)
//
//	task, err := mgr.SubmitTask(hostID, "https://Shop.example.com/p?b=2&a=1", types.TaskOptions{
//		Priority: 2,
//	})
//	if errdefs.IsDuplicate(err) {
//		// a live task already owns this URL
//	}
//
//	// Worker side, after receiving a CrawlJob:
//	if _, err := mgr.ClaimCrawl(job.TaskID); err != nil {
//		// paused or cancelled since dispatch; ack and drop
//	}
//	_, err = mgr.RecordAttempt(job.TaskID, types.Attempt{
//		Kind: types.AttemptDownloadSuccess, BlobRef: ref, HTTPCode: 200,
//	})
//
// # Integration Points
//
//   - pkg/storage: all state; the manager never caches rows.
//   - pkg/proxy: AcquireProxy and ReleaseProxy delegate to the allocator.
//   - pkg/blob: RestartParseOnly checks the body still exists.
//   - pkg/events: lifecycle events for the SSE stream; a nil broker
//     disables publishing.
//   - pkg/dispatcher: shares the backoff curve so retry delays match
//     between worker write-backs and lease reclaim.
//   - pkg/api: the HTTP layer is a thin JSON adapter over this package.
package manager
