package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/security"
	"github.com/cuemby/scuttle/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketHosts        = []byte("hosts")
	bucketTasks        = []byte("tasks")
	bucketProxies      = []byte("proxies")
	bucketBindings     = []byte("bindings")
	bucketFingerprints = []byte("task_fingerprints")

	allBuckets = [][]byte{
		bucketHosts, bucketTasks, bucketProxies, bucketBindings, bucketFingerprints,
	}
)

// BoltStore is the bbolt-backed Store. Every write runs inside a single
// Update transaction, so cross-entity invariants (cascades, uniqueness
// checks, the fingerprint index) hold without additional locking.
type BoltStore struct {
	db  *bolt.DB
	enc *security.Encryptor // nil = credentials stored in plaintext
}

// NewBoltStore opens or creates scuttle.db under dataDir and ensures
// every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "scuttle.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// WithEncryptor enables credential encryption at rest for proxy rows.
func (s *BoltStore) WithEncryptor(enc *security.Encryptor) *BoltStore {
	s.enc = enc
	return s
}

// Ping verifies the database can serve a read transaction
func (s *BoltStore) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.db.View(func(tx *bolt.Tx) error {
			if tx.Bucket(bucketTasks) == nil {
				return fmt.Errorf("tasks bucket missing")
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes and closes the underlying bolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Host operations

func (s *BoltStore) CreateHost(host *types.Host) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)

		// Name is unique among hosts
		var conflict string
		err := b.ForEach(func(k, v []byte) error {
			var existing types.Host
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Name == host.Name && existing.ID != host.ID {
				conflict = existing.ID
			}
			return nil
		})
		if err != nil {
			return err
		}
		if conflict != "" {
			return errdefs.Duplicate("host name", host.Name)
		}

		data, err := json.Marshal(host)
		if err != nil {
			return err
		}
		return b.Put([]byte(host.ID), data)
	})
}

func (s *BoltStore) GetHost(id string) (*types.Host, error) {
	var host types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("host", id)
		}
		return json.Unmarshal(data, &host)
	})
	if err != nil {
		return nil, err
	}
	return &host, nil
}

func (s *BoltStore) GetHostByName(name string) (*types.Host, error) {
	var host *types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		return b.ForEach(func(k, v []byte) error {
			var h types.Host
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if h.Name == name {
				host = &h
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, errdefs.NotFound("host", name)
	}
	return host, nil
}

func (s *BoltStore) ListHosts() ([]*types.Host, error) {
	var hosts []*types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		return b.ForEach(func(k, v []byte) error {
			var host types.Host
			if err := json.Unmarshal(v, &host); err != nil {
				return err
			}
			hosts = append(hosts, &host)
			return nil
		})
	})
	return hosts, err
}

func (s *BoltStore) UpdateHost(host *types.Host) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		if b.Get([]byte(host.ID)) == nil {
			return errdefs.NotFound("host", host.ID)
		}
		data, err := json.Marshal(host)
		if err != nil {
			return err
		}
		return b.Put([]byte(host.ID), data)
	})
}

// DeleteHost removes a host and its bindings. Deletion is refused while the
// host still owns live tasks; terminal task rows are kept as history.
func (s *BoltStore) DeleteHost(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		hb := tx.Bucket(bucketHosts)
		if hb.Get([]byte(id)) == nil {
			return errdefs.NotFound("host", id)
		}

		live := 0
		err := tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.CrawlTask
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.HostID == id && !task.Status.Terminal() {
				live++
			}
			return nil
		})
		if err != nil {
			return err
		}
		if live > 0 {
			return fmt.Errorf("host %s has %d live tasks: %w", id, live, errdefs.ErrIllegalTransition)
		}

		if err := deleteBindingsTx(tx, func(b *types.HostProxyBinding) bool {
			return b.HostID == id
		}); err != nil {
			return err
		}

		return hb.Delete([]byte(id))
	})
}

// Proxy operations

func (s *BoltStore) CreateProxy(proxy *types.Proxy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProxies)

		// Endpoint tuple is unique among proxies
		var conflict string
		err := b.ForEach(func(k, v []byte) error {
			var existing types.Proxy
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.ID != proxy.ID &&
				existing.Address == proxy.Address &&
				existing.Port == proxy.Port &&
				existing.Protocol == proxy.Protocol {
				conflict = existing.ID
			}
			return nil
		})
		if err != nil {
			return err
		}
		if conflict != "" {
			return errdefs.Duplicate("proxy endpoint", proxy.Endpoint())
		}

		return s.putProxyTx(tx, proxy)
	})
}

func (s *BoltStore) GetProxy(id string) (*types.Proxy, error) {
	var proxy *types.Proxy
	err := s.db.View(func(tx *bolt.Tx) error {
		p, err := getProxyTx(tx, id)
		if err != nil {
			return err
		}
		proxy = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.decryptProxy(proxy); err != nil {
		return nil, err
	}
	return proxy, nil
}

func (s *BoltStore) ListProxies() ([]*types.Proxy, error) {
	var proxies []*types.Proxy
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProxies)
		return b.ForEach(func(k, v []byte) error {
			var proxy types.Proxy
			if err := json.Unmarshal(v, &proxy); err != nil {
				return err
			}
			proxies = append(proxies, &proxy)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for _, p := range proxies {
		if err := s.decryptProxy(p); err != nil {
			return nil, err
		}
	}
	return proxies, nil
}

func (s *BoltStore) UpdateProxy(proxy *types.Proxy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProxies)
		if b.Get([]byte(proxy.ID)) == nil {
			return errdefs.NotFound("proxy", proxy.ID)
		}
		return s.putProxyTx(tx, proxy)
	})
}

// DeleteProxy removes a proxy and cascades its bindings.
func (s *BoltStore) DeleteProxy(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProxies)
		if b.Get([]byte(id)) == nil {
			return errdefs.NotFound("proxy", id)
		}

		if err := deleteBindingsTx(tx, func(bind *types.HostProxyBinding) bool {
			return bind.ProxyID == id
		}); err != nil {
			return err
		}

		return b.Delete([]byte(id))
	})
}

// Binding operations

func (s *BoltStore) CreateBinding(binding *types.HostProxyBinding) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketHosts).Get([]byte(binding.HostID)) == nil {
			return errdefs.NotFound("host", binding.HostID)
		}
		if tx.Bucket(bucketProxies).Get([]byte(binding.ProxyID)) == nil {
			return errdefs.NotFound("proxy", binding.ProxyID)
		}

		b := tx.Bucket(bucketBindings)
		var conflict string
		err := b.ForEach(func(k, v []byte) error {
			var existing types.HostProxyBinding
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.HostID == binding.HostID && existing.ProxyID == binding.ProxyID {
				conflict = existing.ID
			}
			return nil
		})
		if err != nil {
			return err
		}
		if conflict != "" {
			return errdefs.Duplicate("binding", binding.HostID+"/"+binding.ProxyID)
		}

		return putBindingTx(tx, binding)
	})
}

func (s *BoltStore) GetBinding(id string) (*types.HostProxyBinding, error) {
	var binding *types.HostProxyBinding
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := getBindingTx(tx, id)
		if err != nil {
			return err
		}
		binding = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

func (s *BoltStore) GetBindingByPair(hostID, proxyID string) (*types.HostProxyBinding, error) {
	var binding *types.HostProxyBinding
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBindings)
		return b.ForEach(func(k, v []byte) error {
			var bind types.HostProxyBinding
			if err := json.Unmarshal(v, &bind); err != nil {
				return err
			}
			if bind.HostID == hostID && bind.ProxyID == proxyID {
				binding = &bind
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if binding == nil {
		return nil, errdefs.NotFound("binding", hostID+"/"+proxyID)
	}
	return binding, nil
}

func (s *BoltStore) ListBindings() ([]*types.HostProxyBinding, error) {
	var bindings []*types.HostProxyBinding
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBindings)
		return b.ForEach(func(k, v []byte) error {
			var binding types.HostProxyBinding
			if err := json.Unmarshal(v, &binding); err != nil {
				return err
			}
			bindings = append(bindings, &binding)
			return nil
		})
	})
	return bindings, err
}

func (s *BoltStore) ListBindingsByHost(hostID string) ([]*types.HostProxyBinding, error) {
	var bindings []*types.HostProxyBinding
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBindings)
		return b.ForEach(func(k, v []byte) error {
			var binding types.HostProxyBinding
			if err := json.Unmarshal(v, &binding); err != nil {
				return err
			}
			if binding.HostID == hostID {
				bindings = append(bindings, &binding)
			}
			return nil
		})
	})
	return bindings, err
}

func (s *BoltStore) UpdateBinding(binding *types.HostProxyBinding) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketBindings).Get([]byte(binding.ID)) == nil {
			return errdefs.NotFound("binding", binding.ID)
		}
		return putBindingTx(tx, binding)
	})
}

func (s *BoltStore) DeleteBinding(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBindings)
		if b.Get([]byte(id)) == nil {
			return errdefs.NotFound("binding", id)
		}
		return b.Delete([]byte(id))
	})
}

// Metrics support

func (s *BoltStore) CountTasksByStatus() (map[types.TaskStatus]int, error) {
	counts := make(map[types.TaskStatus]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.CrawlTask
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			counts[task.Status]++
			return nil
		})
	})
	return counts, err
}

func (s *BoltStore) Counts() (*types.StoreCounts, error) {
	counts := &types.StoreCounts{
		TasksByStatus: make(map[types.TaskStatus]int),
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.CrawlTask
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			counts.TasksByStatus[task.Status]++
			return nil
		}); err != nil {
			return err
		}
		counts.Hosts = tx.Bucket(bucketHosts).Stats().KeyN
		counts.Proxies = tx.Bucket(bucketProxies).Stats().KeyN
		counts.Bindings = tx.Bucket(bucketBindings).Stats().KeyN
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Transaction helpers

func getHostTx(tx *bolt.Tx, id string) (*types.Host, error) {
	data := tx.Bucket(bucketHosts).Get([]byte(id))
	if data == nil {
		return nil, errdefs.NotFound("host", id)
	}
	var host types.Host
	if err := json.Unmarshal(data, &host); err != nil {
		return nil, err
	}
	return &host, nil
}

func getProxyTx(tx *bolt.Tx, id string) (*types.Proxy, error) {
	data := tx.Bucket(bucketProxies).Get([]byte(id))
	if data == nil {
		return nil, errdefs.NotFound("proxy", id)
	}
	var proxy types.Proxy
	if err := json.Unmarshal(data, &proxy); err != nil {
		return nil, err
	}
	return &proxy, nil
}

func getBindingTx(tx *bolt.Tx, id string) (*types.HostProxyBinding, error) {
	data := tx.Bucket(bucketBindings).Get([]byte(id))
	if data == nil {
		return nil, errdefs.NotFound("binding", id)
	}
	var binding types.HostProxyBinding
	if err := json.Unmarshal(data, &binding); err != nil {
		return nil, err
	}
	return &binding, nil
}

func getTaskTx(tx *bolt.Tx, id string) (*types.CrawlTask, error) {
	data := tx.Bucket(bucketTasks).Get([]byte(id))
	if data == nil {
		return nil, errdefs.NotFound("task", id)
	}
	var task types.CrawlTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func putTaskTx(tx *bolt.Tx, task *types.CrawlTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
}

func putBindingTx(tx *bolt.Tx, binding *types.HostProxyBinding) error {
	data, err := json.Marshal(binding)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketBindings).Put([]byte(binding.ID), data)
}

// putProxyTx seals the credential before the row touches disk. The input
// row is not mutated; in-memory rows always carry plaintext.
func (s *BoltStore) putProxyTx(tx *bolt.Tx, proxy *types.Proxy) error {
	row := *proxy
	if s.enc != nil && row.Password != "" {
		sealed, err := s.enc.EncryptString(row.Password)
		if err != nil {
			return fmt.Errorf("failed to encrypt proxy credential: %w", err)
		}
		row.Password = sealed
	}
	data, err := json.Marshal(&row)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketProxies).Put([]byte(row.ID), data)
}

func (s *BoltStore) decryptProxy(proxy *types.Proxy) error {
	if s.enc == nil || proxy == nil || proxy.Password == "" {
		return nil
	}
	plain, err := s.enc.DecryptString(proxy.Password)
	if err != nil {
		return fmt.Errorf("failed to decrypt proxy credential: %w", err)
	}
	proxy.Password = plain
	return nil
}

func deleteBindingsTx(tx *bolt.Tx, match func(*types.HostProxyBinding) bool) error {
	b := tx.Bucket(bucketBindings)
	var ids [][]byte
	err := b.ForEach(func(k, v []byte) error {
		var binding types.HostProxyBinding
		if err := json.Unmarshal(v, &binding); err != nil {
			return err
		}
		if match(&binding) {
			key := make([]byte, len(k))
			copy(key, k)
			ids = append(ids, key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := b.Delete(id); err != nil {
			return err
		}
	}
	return nil
}

// fingerprintKey builds the live-row uniqueness index key.
func fingerprintKey(hostID, fingerprint string) []byte {
	return []byte(hostID + "/" + fingerprint)
}

// nowOr returns t unless it is zero, in which case fallback is used.
func nowOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
