package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// AcquireProxyForHost picks the least-recently-used healthy binding for the
// host and stamps last_used_at on both the binding and the proxy in the same
// write transaction, so two concurrent acquires never pick the same "oldest"
// row. Never-used bindings sort first; ties break on average latency.
func (s *BoltStore) AcquireProxyForHost(hostID string, now time.Time, bindingFailureThreshold int) (*types.ProxyLease, error) {
	var lease *types.ProxyLease

	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketHosts).Get([]byte(hostID)) == nil {
			return errdefs.NotFound("host", hostID)
		}

		type candidate struct {
			binding *types.HostProxyBinding
			proxy   *types.Proxy
		}
		var candidates []candidate

		if err := tx.Bucket(bucketBindings).ForEach(func(k, v []byte) error {
			var b types.HostProxyBinding
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if b.HostID != hostID || !b.Active {
				return nil
			}
			if bindingFailureThreshold > 0 && b.FailureCount >= bindingFailureThreshold {
				return nil
			}
			p, err := getProxyTx(tx, b.ProxyID)
			if err != nil {
				if errdefs.IsNotFound(err) {
					// Orphaned binding; skip rather than fail the acquire.
					return nil
				}
				return err
			}
			if !p.Active {
				return nil
			}
			candidates = append(candidates, candidate{binding: &b, proxy: p})
			return nil
		}); err != nil {
			return err
		}

		if len(candidates) == 0 {
			return fmt.Errorf("host %s: %w", hostID, errdefs.ErrNoProxyAvailable)
		}

		sort.Slice(candidates, func(i, j int) bool {
			bi, bj := candidates[i].binding, candidates[j].binding
			switch {
			case bi.LastUsedAt == nil && bj.LastUsedAt != nil:
				return true
			case bi.LastUsedAt != nil && bj.LastUsedAt == nil:
				return false
			case bi.LastUsedAt != nil && bj.LastUsedAt != nil && !bi.LastUsedAt.Equal(*bj.LastUsedAt):
				return bi.LastUsedAt.Before(*bj.LastUsedAt)
			}
			if bi.AvgLatencyMS != bj.AvgLatencyMS {
				return bi.AvgLatencyMS < bj.AvgLatencyMS
			}
			return bi.ID < bj.ID
		})

		win := candidates[0]
		used := now
		win.binding.LastUsedAt = &used
		win.binding.UpdatedAt = now
		if err := putBindingTx(tx, win.binding); err != nil {
			return err
		}

		if err := s.decryptProxy(win.proxy); err != nil {
			return err
		}
		win.proxy.LastUsedAt = &used
		win.proxy.UpdatedAt = now
		if err := s.putProxyTx(tx, win.proxy); err != nil {
			return err
		}

		lease = &types.ProxyLease{BindingID: win.binding.ID, Proxy: win.proxy}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// RecordProxyOutcome folds a crawl result into the binding and proxy health
// counters. Failure counts are consecutive: one success zeroes them. A proxy
// crossing the global threshold is disabled everywhere; a later success
// arriving after the re-enable grace brings it back.
func (s *BoltStore) RecordProxyOutcome(bindingID string, outcome types.ProxyOutcome, policy OutcomePolicy, now time.Time) (*OutcomeResult, error) {
	var result *OutcomeResult

	err := s.db.Update(func(tx *bolt.Tx) error {
		binding, err := getBindingTx(tx, bindingID)
		if err != nil {
			return err
		}
		proxy, err := getProxyTx(tx, binding.ProxyID)
		if err != nil {
			return err
		}
		if err := s.decryptProxy(proxy); err != nil {
			return err
		}

		res := &OutcomeResult{}
		if outcome.Success {
			binding.SuccessCount++
			binding.FailureCount = 0
			binding.AvgLatencyMS = foldLatency(binding.AvgLatencyMS, outcome.LatencyMS)

			proxy.SuccessCount++
			proxy.FailureCount = 0
			proxy.AvgLatencyMS = foldLatency(proxy.AvgLatencyMS, outcome.LatencyMS)
			ts := now
			proxy.LastSuccessAt = &ts

			if !proxy.Active && proxy.DisabledAt != nil && policy.ReenableGrace > 0 &&
				!now.Before(proxy.DisabledAt.Add(policy.ReenableGrace)) {
				proxy.Active = true
				proxy.DisabledAt = nil
				res.ProxyReenabled = true
			}
		} else {
			binding.FailureCount++
			proxy.FailureCount++
			ts := now
			proxy.LastFailureAt = &ts

			if policy.BindingFailureThreshold > 0 && binding.FailureCount >= policy.BindingFailureThreshold {
				res.BindingExhausted = true
			}
			if policy.GlobalFailureThreshold > 0 && proxy.Active && proxy.FailureCount >= policy.GlobalFailureThreshold {
				proxy.Active = false
				at := now
				proxy.DisabledAt = &at
				res.ProxyDisabled = true
			}
		}

		binding.UpdatedAt = now
		proxy.UpdatedAt = now

		if err := putBindingTx(tx, binding); err != nil {
			return err
		}
		if err := s.putProxyTx(tx, proxy); err != nil {
			return err
		}

		res.Binding = binding
		res.Proxy = proxy
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// foldLatency is a half-weight moving average; the first sample is taken
// as-is so one slow cold start does not anchor the figure at half its value.
func foldLatency(avg float64, sample int64) float64 {
	if sample <= 0 {
		return avg
	}
	if avg == 0 {
		return float64(sample)
	}
	return (avg + float64(sample)) / 2
}
