// Package broadcast executes bulk notification jobs against rate-limited
// delivery channels.
//
// A broadcast targets a frozen audience snapshot (resolved once at start)
// with one message or email payload and delivers it batch by batch: each
// batch fans out with bounded concurrency, a token bucket keeps the attempt
// rate under the provider ceiling, and a provider throttle signal pauses
// the whole run. Progress counters are checkpointed to the durable job
// store so a polling client can follow along.
//
// Lifecycle
//
// Jobs move queued -> in_progress -> {completed | partial | failed |
// cancelled} and write exactly one terminal status. Cancellation is
// cooperative and batch-granular: a requested stop is honored at the next
// batch boundary, sends already in flight finish and are counted.
//
// The Service is the registry: at most one execution per job id, with the
// entry removed the instant its run ends regardless of outcome.
package broadcast
