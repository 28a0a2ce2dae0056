package metrics

import (
	"math"
	"time"
)

// Stopwatch measures the wall-clock time elapsed since a recorded start. The start may come from
// another process, such as a queue timestamp written by the job's producer, so readings are not
// monotonic.
type Stopwatch struct {
	start time.Time
	now   func() time.Time
}

// NewStopwatch creates a stopwatch started at the specified moment.
func NewStopwatch(start time.Time, now func() time.Time) *Stopwatch {
	if now == nil {
		now = time.Now
	}

	return &Stopwatch{
		start: start,
		now:   now,
	}
}

// Elapsed returns the amount of time that has elapsed since the stopwatch was started.
func (s *Stopwatch) Elapsed() time.Duration {
	return s.now().Sub(s.start)
}

// Millis returns the elapsed time as a timer metric value. By default the duration is rounded to
// whole seconds before being scaled to milliseconds, so sub-second durations collapse to 0 or
// 1000; precise selects rounding at millisecond granularity instead.
func (s *Stopwatch) Millis(precise bool) int64 {
	seconds := s.Elapsed().Seconds()

	if precise {
		return int64(math.Round(seconds * 1000))
	}

	return int64(math.Round(seconds)) * 1000
}
