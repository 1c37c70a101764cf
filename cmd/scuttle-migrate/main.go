package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	dataDir    = flag.String("data-dir", "/var/lib/scuttle", "Scuttle data directory")
	dryRun     = flag.Bool("dry-run", false, "Show what would be repaired without making changes")
	backupPath = flag.String("backup", "", "Path to backup the database before repair (default: <data-dir>/scuttle.db.backup)")
)

// taskRecord carries the fields the repair needs; the rest of the task
// document passes through untouched.
type taskRecord struct {
	ID          string `json:"id"`
	HostID      string `json:"host_id"`
	Fingerprint string `json:"fingerprint"`
	Status      string `json:"status"`
}

type bindingRecord struct {
	ID      string `json:"id"`
	HostID  string `json:"host_id"`
	ProxyID string `json:"proxy_id"`
}

// terminal mirrors the store's task lifecycle: terminal rows do not own a
// fingerprint index entry.
func (t taskRecord) terminal() bool {
	return t.Status == "completed" || t.Status == "failed" || t.Status == "cancelled"
}

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Scuttle Database Repair Tool")
	log.Println("============================")

	dbPath := filepath.Join(*dataDir, "scuttle.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)

	// Create backup unless in dry-run mode
	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created successfully")
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := rebuildFingerprintIndex(db, *dryRun); err != nil {
		log.Fatalf("Fingerprint index repair failed: %v", err)
	}
	if err := pruneOrphanedBindings(db, *dryRun); err != nil {
		log.Fatalf("Binding prune failed: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to perform the repair.")
	} else {
		log.Println("\n✓ Repair completed successfully!")
	}
}

// rebuildFingerprintIndex reconciles the task_fingerprints bucket against
// the tasks bucket. Every live (non-terminal) task owns exactly one entry
// keyed host_id/fingerprint; entries pointing at terminal or deleted tasks
// are stale.
func rebuildFingerprintIndex(db *bolt.DB, dryRun bool) error {
	desired := make(map[string]string) // index key -> task ID
	var taskCount, liveCount int

	// First, inspect what exists
	err := db.View(func(tx *bolt.Tx) error {
		tasks := tx.Bucket([]byte("tasks"))
		if tasks == nil {
			log.Println("✓ No 'tasks' bucket found - nothing to index")
			return nil
		}

		return tasks.ForEach(func(k, v []byte) error {
			taskCount++
			var rec taskRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				log.Printf("⚠ Warning: Skipping invalid JSON for task %s: %v", k, err)
				return nil
			}
			if rec.terminal() || rec.Fingerprint == "" {
				return nil
			}
			liveCount++
			key := rec.HostID + "/" + rec.Fingerprint
			if prev, ok := desired[key]; ok {
				log.Printf("⚠ Warning: Tasks %s and %s share fingerprint %s; keeping %s", prev, rec.ID, key, prev)
				return nil
			}
			desired[key] = rec.ID
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Printf("Scanned %d tasks (%d live)", taskCount, liveCount)

	var stale, missing int
	err = db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket([]byte("task_fingerprints"))
		if index == nil {
			missing = len(desired)
			return nil
		}
		seen := make(map[string]bool, len(desired))
		if err := index.ForEach(func(k, v []byte) error {
			key := string(k)
			if owner, ok := desired[key]; !ok || owner != string(v) {
				stale++
				return nil
			}
			seen[key] = true
			return nil
		}); err != nil {
			return err
		}
		missing = len(desired) - len(seen)
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("Fingerprint index: %d stale entries, %d missing entries", stale, missing)
	if stale == 0 && missing == 0 {
		log.Println("✓ Fingerprint index is consistent")
		return nil
	}

	return db.Update(func(tx *bolt.Tx) error {
		if dryRun {
			log.Println("\n[DRY RUN] Would perform the following operations:")
			log.Printf("1. Drop and recreate 'task_fingerprints' bucket")
			log.Printf("2. Write %d index entries for live tasks", len(desired))
			return nil
		}

		if tx.Bucket([]byte("task_fingerprints")) != nil {
			if err := tx.DeleteBucket([]byte("task_fingerprints")); err != nil {
				return fmt.Errorf("failed to drop index bucket: %w", err)
			}
		}
		index, err := tx.CreateBucket([]byte("task_fingerprints"))
		if err != nil {
			return fmt.Errorf("failed to create index bucket: %w", err)
		}
		for key, id := range desired {
			if err := index.Put([]byte(key), []byte(id)); err != nil {
				return fmt.Errorf("failed to write index entry %s: %w", key, err)
			}
		}
		log.Printf("✓ Rebuilt fingerprint index with %d entries", len(desired))
		return nil
	})
}

// pruneOrphanedBindings removes host/proxy bindings whose host or proxy no
// longer exists. Orphans accumulate when rows are deleted while the manager
// is down and cannot clean up.
func pruneOrphanedBindings(db *bolt.DB, dryRun bool) error {
	type orphan struct {
		id     string
		reason string
	}
	var orphans []orphan
	var bindingCount int

	err := db.View(func(tx *bolt.Tx) error {
		bindings := tx.Bucket([]byte("bindings"))
		if bindings == nil {
			log.Println("✓ No 'bindings' bucket found - nothing to prune")
			return nil
		}

		hosts := tx.Bucket([]byte("hosts"))
		proxies := tx.Bucket([]byte("proxies"))

		return bindings.ForEach(func(k, v []byte) error {
			bindingCount++
			var rec bindingRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				log.Printf("⚠ Warning: Skipping invalid JSON for binding %s: %v", k, err)
				return nil
			}
			if hosts == nil || hosts.Get([]byte(rec.HostID)) == nil {
				orphans = append(orphans, orphan{id: rec.ID, reason: "host " + rec.HostID + " deleted"})
				return nil
			}
			if proxies == nil || proxies.Get([]byte(rec.ProxyID)) == nil {
				orphans = append(orphans, orphan{id: rec.ID, reason: "proxy " + rec.ProxyID + " deleted"})
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Printf("Scanned %d bindings, found %d orphaned", bindingCount, len(orphans))
	if len(orphans) == 0 {
		log.Println("✓ No orphaned bindings")
		return nil
	}

	for _, o := range orphans {
		log.Printf("  orphan: %s (%s)", o.id, o.reason)
	}

	return db.Update(func(tx *bolt.Tx) error {
		if dryRun {
			log.Printf("\n[DRY RUN] Would delete %d orphaned bindings", len(orphans))
			return nil
		}

		bindings := tx.Bucket([]byte("bindings"))
		for _, o := range orphans {
			if err := bindings.Delete([]byte(o.id)); err != nil {
				return fmt.Errorf("failed to delete binding %s: %w", o.id, err)
			}
		}
		log.Printf("✓ Deleted %d orphaned bindings", len(orphans))
		return nil
	})
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
