// Package metrics translates job-queue lifecycle events into statsd datagrams.
//
// The host job runtime generates events at several points of a single job's lifecycle: when it
// is enqueued or scheduled, right before a worker forks to run it, and when it finishes or
// fails. The emissions in this package are therefore structured around the notion of hooks: the
// JobHook interface defines methods that the runtime invokes at each of those points. The
// StatsdJobHook implementation formats counters and timers in the statsd line protocol (with
// DogStatsD-style tags) and ships each one as a single UDP datagram.
//
// Metrics are best-effort telemetry. No hook ever returns an error or panics into the caller:
// an unresolvable destination, a failed send, or a malformed job record only ever results in a
// skipped emission.
package metrics
