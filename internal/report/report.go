// Package report forwards unexpected failures, such as panics recovered inside metrics hooks, to
// an external error tracker. Reporting never blocks the caller; short-lived processes call Flush
// before exiting so that queued reports are delivered.
package report

import (
	"fmt"

	"github.com/getsentry/raven-go"
)

// Reporter defines the interface for error tracking backends.
type Reporter interface {
	// Report submits an error along with descriptive tags.
	Report(err error, tags map[string]string)

	// Flush blocks until every submitted error has been delivered or dropped.
	Flush()
}

// RavenReporter reports errors to Sentry.
type RavenReporter struct{}

// NoopReporter implements the Reporter interface but drops every error.
type NoopReporter struct{}

// NewRavenReporter configures the process-wide Sentry client with the specified DSN and release
// identifier.
func NewRavenReporter(dsn string, release string) (Reporter, error) {
	if err := raven.SetDSN(dsn); err != nil {
		return nil, fmt.Errorf("report: error configuring sentry: err=%v", err)
	}

	raven.SetRelease(release)

	return &RavenReporter{}, nil
}

// Report sends the error to Sentry asynchronously.
func (r *RavenReporter) Report(err error, tags map[string]string) {
	raven.CaptureError(err, tags)
}

// Flush waits for the Sentry client to finish sending queued events.
func (r *RavenReporter) Flush() {
	raven.Wait()
}

// NewNoopReporter creates a noop implementation of Reporter.
func NewNoopReporter() Reporter {
	return &NoopReporter{}
}

// Report noops.
func (r *NoopReporter) Report(err error, tags map[string]string) {}

// Flush noops.
func (r *NoopReporter) Flush() {}
