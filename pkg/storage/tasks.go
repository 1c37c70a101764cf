package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	// MaxBulkTasks caps one bulk submission.
	MaxBulkTasks = 10000

	// DefaultQueryLimit applies when a query names no page size.
	DefaultQueryLimit = 50

	// MaxQueryLimit bounds any single page.
	MaxQueryLimit = 1000
)

// Task operations

// CreateTask inserts a pending task, enforcing live-fingerprint uniqueness
// within the host. The conflicting live row's id is carried in the error.
func (s *BoltStore) CreateTask(task *types.CrawlTask) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketHosts).Get([]byte(task.HostID)) == nil {
			return errdefs.NotFound("host", task.HostID)
		}
		if owner := tx.Bucket(bucketFingerprints).Get(fingerprintKey(task.HostID, task.Fingerprint)); owner != nil {
			return fmt.Errorf("url fingerprint owned by live task %s: %w", string(owner), errdefs.ErrDuplicate)
		}
		return insertTaskTx(tx, task)
	})
}

// CreateTasksBulk inserts up to MaxBulkTasks rows for one host in a single
// transaction. Duplicates are reported per item, never failing the batch;
// a missing host fails the whole call.
func (s *BoltStore) CreateTasksBulk(tasks []*types.CrawlTask) (*types.BulkSubmitResult, error) {
	result := &types.BulkSubmitResult{Inserted: []string{}}
	if len(tasks) == 0 {
		return result, nil
	}
	if len(tasks) > MaxBulkTasks {
		return nil, errdefs.InvalidArgument("bulk submit of %d tasks exceeds the %d limit", len(tasks), MaxBulkTasks)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		hostID := tasks[0].HostID
		if tx.Bucket(bucketHosts).Get([]byte(hostID)) == nil {
			return errdefs.NotFound("host", hostID)
		}

		fpb := tx.Bucket(bucketFingerprints)
		for _, task := range tasks {
			if task.HostID != hostID {
				return errdefs.InvalidArgument("bulk submit mixes hosts %s and %s", hostID, task.HostID)
			}
			if owner := fpb.Get(fingerprintKey(task.HostID, task.Fingerprint)); owner != nil {
				result.Duplicates = append(result.Duplicates, types.BulkDuplicate{
					URL:        task.URL,
					ExistingID: string(owner),
				})
				continue
			}
			if err := insertTaskTx(tx, task); err != nil {
				return err
			}
			result.Inserted = append(result.Inserted, task.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BoltStore) GetTask(id string) (*types.CrawlTask, error) {
	var task *types.CrawlTask
	err := s.db.View(func(tx *bolt.Tx) error {
		t, err := getTaskTx(tx, id)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *BoltStore) ListTasksByHost(hostID string) ([]*types.CrawlTask, error) {
	var tasks []*types.CrawlTask
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.CrawlTask
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.HostID == hostID {
				tasks = append(tasks, &task)
			}
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		task, err := getTaskTx(tx, id)
		if err != nil {
			return err
		}
		fpb := tx.Bucket(bucketFingerprints)
		key := fingerprintKey(task.HostID, task.Fingerprint)
		if owner := fpb.Get(key); owner != nil && string(owner) == id {
			if err := fpb.Delete(key); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

// Task lifecycle

// FetchDue returns pending tasks whose schedule has arrived and whose host
// is active, ordered by (priority asc, scheduled_at asc).
func (s *BoltStore) FetchDue(limit int, now time.Time) ([]*types.CrawlTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	var due []*types.CrawlTask
	err := s.db.View(func(tx *bolt.Tx) error {
		activeHosts := make(map[string]bool)
		if err := tx.Bucket(bucketHosts).ForEach(func(k, v []byte) error {
			var h types.Host
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if h.Active {
				activeHosts[h.ID] = true
			}
			return nil
		}); err != nil {
			return err
		}

		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.CrawlTask
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Status != types.TaskStatusPending {
				return nil
			}
			if t.ScheduledAt.After(now) {
				return nil
			}
			if !activeHosts[t.HostID] {
				return nil
			}
			due = append(due, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// TransitionTask is the compare-and-swap at the center of the concurrency
// model: the status changes to `to` only if the current status is in `from`.
// A mismatch returns (false, current row, nil) rather than an error, so a
// racing caller can tell "lost the race" from "store broke".
func (s *BoltStore) TransitionTask(id string, from []types.TaskStatus, to types.TaskStatus, patch TransitionPatch) (bool, *types.CrawlTask, error) {
	var task *types.CrawlTask
	var swapped bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := getTaskTx(tx, id)
		if err != nil {
			return err
		}
		task = t

		match := false
		for _, f := range from {
			if t.Status == f {
				match = true
				break
			}
		}
		if !match {
			return nil
		}

		prev := t.Status
		now := time.Now().UTC()
		t.Status = to
		t.LastTransitionAt = now
		t.UpdatedAt = now
		if patch != nil {
			patch(t)
		}

		if err := updateFingerprintIndexTx(tx, t, prev); err != nil {
			return err
		}
		if err := putTaskTx(tx, t); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return swapped, task, nil
}

// UpdateTaskPriority changes the dispatch priority without going through the
// status machine: no transition timestamp is stamped, so leases and reclaim
// deadlines are unaffected. Terminal rows accept the change too, since a
// completed recurring parent's priority is inherited by its future children.
func (s *BoltStore) UpdateTaskPriority(id string, priority int) (*types.CrawlTask, error) {
	var task *types.CrawlTask
	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := getTaskTx(tx, id)
		if err != nil {
			return err
		}
		t.Priority = priority
		t.UpdatedAt = time.Now().UTC()
		if err := putTaskTx(tx, t); err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// RecordAttempt applies a worker write-back atomically. Redelivered results
// land on a row that already moved on and fail with an illegal-transition
// error, which keeps duplicate broker deliveries to one state advance.
func (s *BoltStore) RecordAttempt(id string, outcome types.Attempt, policy AttemptPolicy, now time.Time) (*types.CrawlTask, error) {
	var task *types.CrawlTask

	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := getTaskTx(tx, id)
		if err != nil {
			return err
		}
		prev := t.Status

		switch outcome.Kind {
		case types.AttemptDownloadSuccess:
			if t.Status != types.TaskStatusCrawling {
				return fmt.Errorf("download result for task %s in status %s: %w", id, t.Status, errdefs.ErrIllegalTransition)
			}
			t.Status = types.TaskStatusDownloaded
			t.BlobRef = outcome.BlobRef
			t.HTTPCode = outcome.HTTPCode
			t.LatencyMS = outcome.LatencyMS
			if outcome.ProxyID != "" {
				t.ProxyID = outcome.ProxyID
			}
			t.Error = ""

		case types.AttemptParseSuccess:
			if t.Status != types.TaskStatusParsing {
				return fmt.Errorf("parse result for task %s in status %s: %w", id, t.Status, errdefs.ErrIllegalTransition)
			}
			t.Status = types.TaskStatusCompleted
			completed := now
			t.CompletedAt = &completed
			t.Error = ""
			if t.IsRecurring && t.Interval > 0 {
				next := now.Add(t.Interval)
				t.NextRunAt = &next
			} else {
				t.NextRunAt = nil
			}

		case types.AttemptTransientFailure:
			if !t.Status.Active() {
				return fmt.Errorf("transient failure for task %s in status %s: %w", id, t.Status, errdefs.ErrIllegalTransition)
			}
			t.Error = outcome.Error
			recordAttemptDetail(t, outcome)
			if t.RetryCount >= t.MaxRetries {
				t.Status = types.TaskStatusFailed
				completed := now
				t.CompletedAt = &completed
			} else {
				if policy.Backoff == nil {
					return errdefs.InvalidArgument("transient failure for task %s without a backoff policy", id)
				}
				t.RetryCount++
				t.Status = types.TaskStatusPending
				t.ScheduledAt = now.Add(policy.Backoff(t.RetryCount))
			}

		case types.AttemptTerminalFailure:
			if !t.Status.Active() {
				return fmt.Errorf("terminal failure for task %s in status %s: %w", id, t.Status, errdefs.ErrIllegalTransition)
			}
			t.Status = types.TaskStatusFailed
			t.Error = outcome.Error
			recordAttemptDetail(t, outcome)
			completed := now
			t.CompletedAt = &completed

		default:
			return errdefs.InvalidArgument("unknown attempt kind %q", outcome.Kind)
		}

		t.LastTransitionAt = now
		t.UpdatedAt = now

		if err := updateFingerprintIndexTx(tx, t, prev); err != nil {
			return err
		}
		if err := putTaskTx(tx, t); err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ReclaimExpired returns tasks stuck past their state deadline to pending
// with the retry count incremented, or fails them once retries are spent.
func (s *BoltStore) ReclaimExpired(now time.Time, deadlines Deadlines) ([]*types.CrawlTask, error) {
	var reclaimed []*types.CrawlTask

	err := s.db.Update(func(tx *bolt.Tx) error {
		var expired []*types.CrawlTask
		if err := tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.CrawlTask
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if !t.Status.Active() {
				return nil
			}
			deadline := deadlines.For(t.Status)
			if deadline <= 0 {
				return nil
			}
			if t.LastTransitionAt.Add(deadline).After(now) {
				return nil
			}
			expired = append(expired, &t)
			return nil
		}); err != nil {
			return err
		}

		for _, t := range expired {
			prev := t.Status
			if t.RetryCount >= t.MaxRetries {
				t.Status = types.TaskStatusFailed
				t.Error = fmt.Sprintf("lease expired in %s after %d retries", prev, t.RetryCount)
				completed := now
				t.CompletedAt = &completed
			} else {
				t.RetryCount++
				t.Status = types.TaskStatusPending
				t.ScheduledAt = now
				t.Error = fmt.Sprintf("lease expired in %s", prev)
			}
			t.LastTransitionAt = now
			t.UpdatedAt = now

			if err := updateFingerprintIndexTx(tx, t, prev); err != nil {
				return err
			}
			if err := putTaskTx(tx, t); err != nil {
				return err
			}
			reclaimed = append(reclaimed, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

// DueRecurring lists completed recurring tasks whose next run has arrived.
func (s *BoltStore) DueRecurring(now time.Time) ([]*types.CrawlTask, error) {
	var due []*types.CrawlTask
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.CrawlTask
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Status != types.TaskStatusCompleted || !t.IsRecurring {
				return nil
			}
			if t.NextRunAt == nil || t.NextRunAt.After(now) {
				return nil
			}
			due = append(due, &t)
			return nil
		})
	})
	return due, err
}

// MaterializeRecurrence inserts a fresh pending row copying the parent's
// url, host, priority and interval, and advances the parent's next run by
// one interval. Returns nil without error when another replica already
// advanced the schedule, or when a live row holds the fingerprint.
func (s *BoltStore) MaterializeRecurrence(parentID string, now time.Time) (*types.CrawlTask, error) {
	var child *types.CrawlTask

	err := s.db.Update(func(tx *bolt.Tx) error {
		parent, err := getTaskTx(tx, parentID)
		if err != nil {
			return err
		}
		if parent.Status != types.TaskStatusCompleted || !parent.IsRecurring ||
			parent.NextRunAt == nil || parent.NextRunAt.After(now) {
			return nil
		}

		// Advancing from the previous mark rather than from now keeps the
		// schedule drift-free under late dispatcher rounds.
		next := parent.NextRunAt.Add(parent.Interval)
		parent.NextRunAt = &next
		parent.UpdatedAt = now
		if err := putTaskTx(tx, parent); err != nil {
			return err
		}

		key := fingerprintKey(parent.HostID, parent.Fingerprint)
		fpb := tx.Bucket(bucketFingerprints)
		if owner := fpb.Get(key); owner != nil {
			// A live row for the same URL already exists (for example a
			// fresh manual submission); skip the child but keep the
			// advanced schedule.
			return nil
		}

		c := &types.CrawlTask{
			ID:               uuid.New().String(),
			HostID:           parent.HostID,
			URL:              parent.URL,
			Fingerprint:      parent.Fingerprint,
			Status:           types.TaskStatusPending,
			Priority:         parent.Priority,
			ScheduledAt:      now,
			MaxRetries:       parent.MaxRetries,
			IsRecurring:      true,
			Interval:         parent.Interval,
			RecurCount:       parent.RecurCount + 1,
			CreatedAt:        now,
			UpdatedAt:        now,
			LastTransitionAt: now,
			CreatedBy:        "recurrence",
		}
		if err := putTaskTx(tx, c); err != nil {
			return err
		}
		if err := fpb.Put(key, []byte(c.ID)); err != nil {
			return err
		}
		child = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

// QueryTasks filters, sorts and cursor-paginates the task set.
func (s *BoltStore) QueryTasks(q types.TaskQuery) (*types.TaskPage, error) {
	sortKey := q.Sort
	if sortKey == "" {
		sortKey = types.TaskSortCreatedAt
	}
	if !sortKey.Valid() {
		return nil, errdefs.InvalidArgument("unknown sort key %q", q.Sort)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var matched []*types.CrawlTask
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.CrawlTask
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if matchTaskFilter(&t, q.Filter) {
				matched = append(matched, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matched, func(i, j int) bool {
		c := compareTasks(matched[i], matched[j], sortKey)
		if q.Desc {
			return c > 0
		}
		return c < 0
	})

	start := 0
	if q.Cursor != "" {
		cur, err := decodeTaskCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		if cur.Key != sortKey {
			return nil, errdefs.InvalidArgument("cursor sorts by %q but query sorts by %q", cur.Key, sortKey)
		}
		start = len(matched)
		for i, t := range matched {
			c, err := compareTaskToCursor(t, cur)
			if err != nil {
				return nil, err
			}
			after := c > 0
			if q.Desc {
				after = c < 0
			}
			if after {
				start = i
				break
			}
		}
	}

	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	page := &types.TaskPage{Tasks: matched[start:end]}
	if page.Tasks == nil {
		page.Tasks = []*types.CrawlTask{}
	}
	if end < len(matched) && end > start {
		page.NextCursor = encodeTaskCursor(matched[end-1], sortKey)
	}
	return page, nil
}

// Internal helpers

// insertTaskTx fills row defaults, persists the row and indexes its
// fingerprint. Uniqueness must be checked by the caller.
func insertTaskTx(tx *bolt.Tx, task *types.CrawlTask) error {
	if task.ID == "" {
		return errdefs.InvalidArgument("task has no id")
	}
	if task.Fingerprint == "" {
		return errdefs.InvalidArgument("task %s has no fingerprint", task.ID)
	}

	now := time.Now().UTC()
	if task.Status == "" {
		task.Status = types.TaskStatusPending
	}
	task.CreatedAt = nowOr(task.CreatedAt, now)
	task.UpdatedAt = nowOr(task.UpdatedAt, task.CreatedAt)
	task.LastTransitionAt = nowOr(task.LastTransitionAt, task.CreatedAt)
	task.ScheduledAt = nowOr(task.ScheduledAt, task.CreatedAt)

	if err := putTaskTx(tx, task); err != nil {
		return err
	}
	if !task.Status.Terminal() {
		return tx.Bucket(bucketFingerprints).Put(fingerprintKey(task.HostID, task.Fingerprint), []byte(task.ID))
	}
	return nil
}

// updateFingerprintIndexTx keeps the live-row uniqueness index consistent
// across a status change from prev to task.Status.
func updateFingerprintIndexTx(tx *bolt.Tx, task *types.CrawlTask, prev types.TaskStatus) error {
	wasLive := !prev.Terminal()
	isLive := !task.Status.Terminal()
	if wasLive == isLive {
		return nil
	}

	fpb := tx.Bucket(bucketFingerprints)
	key := fingerprintKey(task.HostID, task.Fingerprint)

	if wasLive && !isLive {
		if owner := fpb.Get(key); owner != nil && string(owner) == task.ID {
			return fpb.Delete(key)
		}
		return nil
	}

	// Terminal row coming back to life (restart): the fingerprint must not
	// collide with another live row.
	if owner := fpb.Get(key); owner != nil && string(owner) != task.ID {
		return fmt.Errorf("url fingerprint owned by live task %s: %w", string(owner), errdefs.ErrDuplicate)
	}
	return fpb.Put(key, []byte(task.ID))
}

func recordAttemptDetail(t *types.CrawlTask, outcome types.Attempt) {
	if outcome.HTTPCode != 0 {
		t.HTTPCode = outcome.HTTPCode
	}
	if outcome.LatencyMS != 0 {
		t.LatencyMS = outcome.LatencyMS
	}
	if outcome.ProxyID != "" {
		t.ProxyID = outcome.ProxyID
	}
}

func matchTaskFilter(t *types.CrawlTask, f types.TaskFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.HostID != "" && t.HostID != f.HostID {
		return false
	}
	if f.PriorityMin > 0 && t.Priority < f.PriorityMin {
		return false
	}
	if f.PriorityMax > 0 && t.Priority > f.PriorityMax {
		return false
	}
	if f.CreatedAfter != nil && t.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !t.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.IsRecurring != nil && t.IsRecurring != *f.IsRecurring {
		return false
	}
	if f.FailedAfter != nil {
		if t.Status != types.TaskStatusFailed {
			return false
		}
		// Inclusive boundary: a task failing exactly at the mark matches.
		if t.CompletedAt == nil || t.CompletedAt.Before(*f.FailedAfter) {
			return false
		}
	}
	return true
}

func compareTasks(a, b *types.CrawlTask, key types.TaskSortKey) int {
	var c int
	switch key {
	case types.TaskSortCreatedAt:
		c = compareTime(a.CreatedAt, b.CreatedAt)
	case types.TaskSortScheduledAt:
		c = compareTime(a.ScheduledAt, b.ScheduledAt)
	case types.TaskSortPriority:
		c = a.Priority - b.Priority
	case types.TaskSortStatus:
		c = strings.Compare(string(a.Status), string(b.Status))
	}
	if c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

// taskCursor pins a page boundary to (sort key, value, row id).
type taskCursor struct {
	Key types.TaskSortKey `json:"k"`
	Val string            `json:"v"`
	ID  string            `json:"id"`
}

func encodeTaskCursor(t *types.CrawlTask, key types.TaskSortKey) string {
	cur := taskCursor{Key: key, ID: t.ID}
	switch key {
	case types.TaskSortCreatedAt:
		cur.Val = t.CreatedAt.UTC().Format(time.RFC3339Nano)
	case types.TaskSortScheduledAt:
		cur.Val = t.ScheduledAt.UTC().Format(time.RFC3339Nano)
	case types.TaskSortPriority:
		cur.Val = strconv.Itoa(t.Priority)
	case types.TaskSortStatus:
		cur.Val = string(t.Status)
	}
	data, _ := json.Marshal(cur)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeTaskCursor(s string) (*taskCursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errdefs.InvalidArgument("malformed cursor: %v", err)
	}
	var cur taskCursor
	if err := json.Unmarshal(data, &cur); err != nil {
		return nil, errdefs.InvalidArgument("malformed cursor: %v", err)
	}
	return &cur, nil
}

func compareTaskToCursor(t *types.CrawlTask, cur *taskCursor) (int, error) {
	var c int
	switch cur.Key {
	case types.TaskSortCreatedAt, types.TaskSortScheduledAt:
		cv, err := time.Parse(time.RFC3339Nano, cur.Val)
		if err != nil {
			return 0, errdefs.InvalidArgument("malformed cursor value %q: %v", cur.Val, err)
		}
		tv := t.CreatedAt
		if cur.Key == types.TaskSortScheduledAt {
			tv = t.ScheduledAt
		}
		c = compareTime(tv, cv)
	case types.TaskSortPriority:
		p, err := strconv.Atoi(cur.Val)
		if err != nil {
			return 0, errdefs.InvalidArgument("malformed cursor value %q: %v", cur.Val, err)
		}
		c = t.Priority - p
	case types.TaskSortStatus:
		c = strings.Compare(string(t.Status), cur.Val)
	default:
		return 0, errdefs.InvalidArgument("unknown cursor sort key %q", cur.Key)
	}
	if c != 0 {
		return c, nil
	}
	return strings.Compare(t.ID, cur.ID), nil
}
