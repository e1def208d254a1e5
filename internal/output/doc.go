// Package output implements the delivery engine: one worker per enabled
// output tails the queue's durable log from the output's last committed
// checkpoint and feeds messages to a sink adapter.
//
// A worker runs sessions. Each session re-resolves the output, queue, and
// database records, builds a fresh adapter from the output's params, opens
// a cursor at the committed resume point, and streams until it is stopped,
// the output is changed by another actor, or a transient failure aborts
// it. Failed sessions back off linearly with the consecutive-failure count
// before retrying; missing or disabled records and configuration errors
// terminate the worker permanently.
//
// Checkpoints only move forward. A commit is applied only if the persisted
// record's checkpoint still equals the value the session started from,
// under the store's per-output lock, so concurrent repositioning by the
// configuration API is never overwritten.
//
// Manager supervises workers: it starts one per enabled output, routes
// change notifications to the owning worker, and reaps exited workers.
package output
