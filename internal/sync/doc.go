// Package sync runs sync passes that bring the local ledger of a stream up to
// date with the remote service and push the events produced on this device.
//
// # Pass state machine
//
// A pass starts by loading the stream cursor. A stream that never synced, or
// whose cursor carries the bootstrap flag, is first restored from the latest
// snapshot. The pass then applies segments one at a time:
//
//   - the segment checksum is verified against the raw bytes
//   - the segment must start exactly at the cursor's next segment and event index
//   - every event must belong to the stream and continue the index sequence
//   - the events and the advanced cursor are committed together
//
// Afterwards the local outbox is pushed in batches.
//
// A failed pass leaves the cursor at the last committed segment. When the
// failure means the stream cannot be caught up incrementally (a stale cursor)
// or the fetched data cannot be trusted (an integrity failure), the stream is
// flagged so that the next pass bootstraps.
//
// # Concurrency
//
// Passes for the same stream never overlap: concurrent callers share the
// in-flight pass through a singleflight group, and a per-stream mutex
// serializes passes that start back to back.
//
// The scheduler subpackage triggers RunAll periodically.
package sync
