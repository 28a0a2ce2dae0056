// Package job models the read-only view of a queued unit of work that the host runtime hands to
// the metrics hooks: the queue it was pulled from and its resque-style payload. The only state
// the hooks may attach to a Job is the timestamp at which processing began.
package job
