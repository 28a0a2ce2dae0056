//go:generate go run golang.org/x/tools/cmd/stringer -type=MetricType -linecomment=true

package metrics

import (
	"fmt"
)

// MetricType is the statsd type of an emitted metric. Its string form is the wire token.
type MetricType int

const (
	// Counter metrics are cumulative and incremented by their value.
	Counter MetricType = iota // c
	// Timer metrics are durations expressed in milliseconds.
	Timer // ms
)

// MetricSpec describes one metric emission. Specs are built fresh for every emission and are
// discarded once formatted.
type MetricSpec struct {
	Type  MetricType
	Name  string
	Value int64
	Tags  Tags
}

// FormatLine serializes a metric into a single statsd line, prefix.name:value|type|#tags.
//
// Names and tag values are not escaped: colons, pipes, and commas will corrupt the line, so
// callers must supply clean identifiers.
func FormatLine(prefix string, spec MetricSpec) string {
	return fmt.Sprintf("%s.%s:%d|%s%s", prefix, spec.Name, spec.Value, spec.Type, FormatTags(spec.Tags))
}
