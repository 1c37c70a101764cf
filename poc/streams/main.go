package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamName = "scuttle-poc:crawl"
	groupName  = "workers"
)

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:6379", "Redis address")
		count   = flag.Int("count", 6, "Number of jobs to publish")
		minIdle = flag.Duration("idle", 2*time.Second, "Idle time before a pending delivery can be stolen")
	)
	flag.Parse()

	log.Println("=== Scuttle Redis Streams POC ===")
	log.Printf("Redis: %s", *addr)
	log.Printf("Stream: %s  Group: %s", streamName, groupName)
	log.Println()

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: *addr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis not reachable at %s: %v\n"+
			"Start one with: docker run --rm -p 6379:6379 redis:7-alpine", *addr, err)
	}
	log.Println("✓ Connected to Redis")

	// Start from a clean stream so runs are repeatable.
	rdb.Del(ctx, streamName)

	// Test 1: publish before the consumer group exists. The dispatcher can
	// enqueue jobs before any worker boots, so a group created at "0" has
	// to see that backlog.
	log.Printf("\n1. Publishing %d jobs (no group yet)...", *count)
	for i := 0; i < *count; i++ {
		err := rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: streamName,
			MaxLen: 10000,
			Approx: true,
			Values: map[string]interface{}{
				"task_id": fmt.Sprintf("task-%04d", i),
				"url":     fmt.Sprintf("https://example.com/page/%d", i),
			},
		}).Err()
		if err != nil {
			log.Fatalf("XADD failed: %v", err)
		}
	}
	xlen, _ := rdb.XLen(ctx, streamName).Result()
	log.Printf("✓ Stream length: %d", xlen)

	log.Println("\n2. Creating consumer group at \"0\"...")
	if err := rdb.XGroupCreateMkStream(ctx, streamName, groupName, "0").Err(); err != nil {
		log.Fatalf("XGROUP CREATE failed: %v", err)
	}
	log.Println("✓ Group created, backlog is claimable")

	// Test 2: crawler-1 takes the whole batch, acks half, then "crashes"
	// holding the rest.
	log.Println("\n3. crawler-1 reads the batch...")
	streams, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: "crawler-1",
		Streams:  []string{streamName, ">"},
		Count:    int64(*count),
		Block:    time.Second,
	}).Result()
	if err != nil {
		log.Fatalf("XREADGROUP failed: %v", err)
	}
	msgs := streams[0].Messages
	log.Printf("✓ crawler-1 received %d jobs", len(msgs))

	acked := len(msgs) / 2
	for _, m := range msgs[:acked] {
		if err := rdb.XAck(ctx, streamName, groupName, m.ID).Err(); err != nil {
			log.Fatalf("XACK failed: %v", err)
		}
	}
	log.Printf("✓ crawler-1 acked %d, crashed holding %d", acked, len(msgs)-acked)

	// The abandoned deliveries stay on the pending entries list with an
	// idle clock, still owned by the dead consumer.
	pending, _ := rdb.XPending(ctx, streamName, groupName).Result()
	log.Printf("\n4. Pending after the crash: %d, owners: %v", pending.Count, pending.Consumers)

	log.Printf("\n5. Waiting %v for the deliveries to go idle...", *minIdle)
	time.Sleep(*minIdle + 100*time.Millisecond)

	// Test 3: a healthy consumer steals everything idle past the threshold.
	// This is the recovery path for a worker that died mid-crawl.
	claimed, _, err := rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamName,
		Group:    groupName,
		Consumer: "crawler-2",
		MinIdle:  *minIdle,
		Start:    "0",
		Count:    int64(*count),
	}).Result()
	if err != nil {
		log.Fatalf("XAUTOCLAIM failed: %v", err)
	}
	log.Printf("✓ crawler-2 stole %d deliveries", len(claimed))

	ext, _ := rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamName,
		Group:  groupName,
		Start:  "-",
		End:    "+",
		Count:  int64(*count),
	}).Result()
	for _, e := range ext {
		log.Printf("  %s owner=%s deliveries=%d", e.ID, e.Consumer, e.RetryCount)
	}

	for _, m := range claimed {
		if err := rdb.XAck(ctx, streamName, groupName, m.ID).Err(); err != nil {
			log.Fatalf("XACK failed: %v", err)
		}
	}
	log.Printf("✓ crawler-2 acked %d", len(claimed))

	// Acking clears the PEL but never deletes entries. Stream size is only
	// bounded by MAXLEN ~ at publish time, independent of consumption.
	finalPending, _ := rdb.XPending(ctx, streamName, groupName).Result()
	finalLen, _ := rdb.XLen(ctx, streamName).Result()
	log.Println("\n--- Results ---")
	log.Printf("Pending entries: %d", finalPending.Count)
	log.Printf("Stream length:   %d", finalLen)
	if finalPending.Count == 0 && finalLen == int64(*count) {
		log.Println("✓ Redelivery model holds: read, steal after idle, ack to clear")
	} else {
		log.Println("✗ Unexpected end state")
	}
}
