// Package broker adapts Redis Streams as the work queue between the
// dispatcher and the crawl/parse workers.
//
// # Overview
//
// Three logical queues map to three streams:
//
//	crawl     scuttle:crawl      download work, priority 3..10
//	priority  scuttle:priority   download work, priority 1..2
//	parse     scuttle:parse      parse work for downloaded bodies
//
// The dispatcher publishes; external workers consume. Delivery is
// at-least-once: the store's compare-and-swap transitions make duplicate
// deliveries benign, so the queue never needs to be exactly-once.
//
// # Publishing
//
// Publish marshals the job as JSON under the stream entry field "job" and
// appends it with XADD. Before appending it checks XLEN against the
// configured maximum; a full stream returns errdefs.ErrQueueFull, which
// the dispatcher treats as backpressure: the task stays pending and the
// batch stops until the next round.
//
// # Consuming
//
// All workers share one consumer group per stream. A Consumer owns a name
// inside the group and delivers messages on a channel:
//
//	consumer, err := b.Consumer(broker.QueueCrawl, hostname)
//	if err := consumer.Start(ctx); err != nil { ... }
//	for d := range consumer.Deliveries() {
//		job, err := broker.DecodeCrawlJob(d.Payload)
//		// ... crawl ...
//		d.Ack()
//	}
//
// Prefetch caps unacked in-flight deliveries per consumer; Ack frees a
// slot and XACKs the entry. A delivery left unacked past the visibility
// timeout is reassigned to another consumer via XAUTOCLAIM, which each
// consumer folds into its read loop before asking for fresh entries.
//
// # Retention
//
// Acked entries stay in the stream until trimmed. The janitor loop trims
// on two bounds per stream: entries older than the queue's TTL (XTRIM
// MINID, where the cutoff is now minus TTL since stream IDs are
// millisecond timestamps) and total length (XTRIM MAXLEN ~). Work queues
// default to 24h retention, the priority queue to 1h.
//
// # Durability
//
// Persistence and failover are a deployment concern: point addrs at a
// replicated/sentinel setup and the universal client follows. The store
// remains the source of truth for task state; losing queue entries only
// delays work until the reclaim pass re-queues the affected tasks.
package broker
