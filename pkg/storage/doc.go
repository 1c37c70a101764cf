/*
Package storage persists Scuttle's orchestration state in a single bbolt
file and owns every multi-entity invariant that state carries.

The Store interface covers hosts, crawl tasks, proxies and host-proxy
bindings. Rows are JSON in one bucket per entity, plus a fingerprint
bucket that serves as the live-row uniqueness index for URL dedup:

	hosts              host ID → Host row
	tasks              task ID → CrawlTask row
	proxies            proxy ID → Proxy row (credential sealed at rest)
	bindings           binding ID → HostProxyBinding row
	task_fingerprints  host_id/sha256 → ID of the live task owning the URL

bbolt gives serialized writers and snapshot readers. Everything that must
hold together (a task row and its index entry, a deleted host and its
bindings, an acquire decision and the last_used_at stamp it implies)
happens inside one Update transaction, so there is no reconciliation
step and no lock outside the database.

# Fingerprint Index

The task_fingerprints bucket enforces at most one live (non-terminal)
task per normalized URL per host. It is maintained inside the same
transaction as every task write that changes liveness:

  - CreateTask / CreateTasksBulk: reject or report rows whose fingerprint
    is already owned, then index the new row
  - TransitionTask: drop the entry when a row goes terminal, re-claim it
    when a terminal row is restarted (failing with a duplicate error if
    another live row took the URL in the meantime)
  - RecordAttempt: same maintenance for worker-reported terminal outcomes
  - MaterializeRecurrence: skips the child when a live row owns the URL
  - DeleteTask: drops the entry when the deleted row is the owner

Because index and row share one transaction, a crash can never leave the
index pointing at a terminal row or missing a live one.

# Task Lifecycle Operations

FetchDue:
  - pending rows with scheduled_at <= now on active hosts
  - Ordered by priority asc, then scheduled_at asc
  - Drives the dispatcher's queue-fill round

TransitionTask:
  - Compare-and-swap on status: from-set → to
  - Mismatch returns (false, current row, nil), not an error
  - Patch callback mutates the row inside the same transaction
  - Fingerprint index maintained when liveness changes

RecordAttempt:
  - Folds a worker outcome into the row atomically
  - download_success: crawling → downloaded, stores blob ref + HTTP detail
  - parse_success: parsing → completed, schedules next run for recurring rows
  - transient_failure: retry with exponential backoff, or failed when spent
  - terminal_failure: straight to failed
  - Results arriving for a row that already moved on fail with an
    illegal-transition error, so duplicate deliveries advance state once

ReclaimExpired:
  - Rows stuck in a lease-bearing state past their deadline return to pending
    with retry_count+1 and immediate schedule, or fail when retries are spent
  - Recovers work lost to crashed workers or dropped queues

DueRecurring / MaterializeRecurrence:
  - Completed recurring rows whose next_run_at has arrived get a fresh pending
    child row (recur_count+1, created_by "recurrence")
  - The parent's next_run_at advances by one interval from its previous value,
    keeping long-running schedules drift-free

QueryTasks:
  - Arbitrary filter (status set, host, priority band, creation window,
    recurrence flag, failed-after mark)
  - Sorted by a whitelisted key, cursor-paginated

# Proxy Allocation

AcquireProxyForHost:
  - Candidates: active bindings for the host, under the failure threshold,
    whose proxy is active
  - Least-recently-used first (never-used sorts before everything), ties on
    average latency
  - Winner's last_used_at stamped within the same write transaction, so
    concurrent acquires spread across bindings instead of herding

RecordProxyOutcome:
  - Success: increments totals, zeroes consecutive failures, folds latency
    into the moving average, may re-enable a disabled proxy after the grace
    window
  - Failure: increments consecutive counters on binding and proxy; crossing
    the global threshold disables the proxy everywhere

# Usage

Creating a Store:

	store, err := storage.NewBoltStore("/var/lib/scuttle")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

With credential encryption:

	enc, err := security.NewEncryptorFromPassword(cfg.Store.EncryptionKey)
	if err != nil {
		log.Fatal(err)
	}
	store, err := storage.NewBoltStore(cfg.Store.DataDir)
	if err != nil {
		log.Fatal(err)
	}
	store = store.WithEncryptor(enc)

Host Operations:

	host := &types.Host{
		ID:      "host-abc123",
		Name:    "news-example",
		BaseURL: "https://news.example.com",
		Active:  true,
	}
	err := store.CreateHost(host)

	host, err := store.GetHostByName("news-example")
	hosts, err := store.ListHosts()

Task Lifecycle:

	// Submit
	task := &types.CrawlTask{
		ID:          uuid.New().String(),
		HostID:      host.ID,
		URL:         "https://news.example.com/front",
		Fingerprint: fp,
		Status:      types.TaskStatusPending,
		Priority:    types.PriorityDefault,
		MaxRetries:  3,
	}
	err := store.CreateTask(task)

	// Dispatch round
	due, err := store.FetchDue(100, time.Now().UTC())
	for _, t := range due {
		ok, _, err := store.TransitionTask(t.ID,
			[]types.TaskStatus{types.TaskStatusPending},
			types.TaskStatusQueued, nil)
		...
	}

	// Worker write-back
	updated, err := store.RecordAttempt(taskID, types.Attempt{
		Kind:      types.AttemptDownloadSuccess,
		BlobRef:   "blobs/2024/01/abc.html",
		HTTPCode:  200,
		LatencyMS: 412,
	}, policy, time.Now().UTC())

Proxy Allocation:

	lease, err := store.AcquireProxyForHost(host.ID, time.Now().UTC(), 5)
	if errdefs.IsNoProxyAvailable(err) {
		// crawl without a proxy or park the task
	}

	result, err := store.RecordProxyOutcome(lease.BindingID,
		types.ProxyOutcome{Success: true, LatencyMS: 412}, policy, time.Now().UTC())

# Conventions

Status changes name their expected source states and losing a CAS race is
a normal return value, not an error; callers decide whether a miss matters.
Writes that imply other writes (cascading binding deletes, index upkeep,
the acquire stamp) never span transactions. Sentinel errors come from
pkg/errdefs wrapped with entity context, so call sites test with
errdefs.IsNotFound, IsDuplicate and IsIllegalTransition rather than string
matching. Updates and deletes check existence first and return a not-found
error for missing keys; nothing in this package upserts silently.

# Performance

Point reads are B+tree lookups and stay under a millisecond. FetchDue,
QueryTasks and the by-host listings scan the full tasks bucket with a
predicate, which holds up into the hundreds of thousands of rows before
latency becomes visible in dispatch rounds; terminal rows are never purged
automatically, so long-lived deployments should archive them (see
Troubleshooting). Writers serialize on bbolt's single Update lock, with
bulk submission batched into one transaction to amortize the fsync.

# Troubleshooting

Database Locked:
  - Symptom: "timeout" opening the database
  - Cause: Another process has the exclusive lock
  - Solution: Ensure only one orchestrator accesses the file

Duplicate Submissions Accepted:
  - Symptom: Two live tasks share a URL
  - Cause: Fingerprint index missing entries (manual edits, partial restore)
  - Solution: Run scuttle-migrate to rebuild the index from live rows

Slow Dispatch Rounds:
  - Symptom: FetchDue latency grows with table size
  - Cause: Full scan over the tasks bucket
  - Check: Task count vs. expectation; terminal rows never purged
  - Solution: Delete or archive old terminal rows

Large Database File:
  - Symptom: File grows and never shrinks
  - Cause: BoltDB recycles pages but does not release them
  - Solution: Offline compact (bbolt compact) during maintenance

Backup is a file copy while the process is stopped, or bbolt's online
backup. After restoring a copy that predates a schema change, run
scuttle-migrate to rebuild the fingerprint index.

# Monitoring

Store activity surfaces through pkg/metrics at the call sites that drive
it:

  - scuttle_tasks_by_status: Gauge per lifecycle state, sampled from Counts
  - scuttle_tasks_reclaimed_total: Lease-expiry recoveries
  - scuttle_duplicate_submissions_total: Fingerprint rejections
  - scuttle_attempts_recorded_total: Worker write-backs by kind

# Security

Proxy credentials are sealed with AES-256-GCM before every Put and opened
on every read, so rows in memory and over the Store interface carry
plaintext while the file never does. Remaining row data is not encrypted;
use disk encryption where the crawl state itself is sensitive. The
database file is created 0600.

# Integration Points

  - pkg/manager: Control-plane operations wrap store calls with validation
  - pkg/dispatcher: FetchDue, TransitionTask, ReclaimExpired, recurrence
  - pkg/proxy: Allocator facade over acquire/outcome operations
  - pkg/security: Credential encryption at the storage boundary
  - pkg/types: All entity definitions

# See Also

  - pkg/manager for control-plane validation on top of the store
  - pkg/dispatcher for the scheduling loop built on FetchDue
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
