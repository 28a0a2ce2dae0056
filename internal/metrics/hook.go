package metrics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"jobstatsd/internal/job"
	"jobstatsd/internal/log"
	"jobstatsd/internal/report"
)

// JobHook is a metrics hook interface for reporting events that occur during a single job's
// lifecycle. The host runtime invokes each method synchronously from whichever worker handles the
// event. Implementations must never fail the job: none of the methods return an error.
type JobHook interface {
	// AfterEnqueue reports that a job was pushed to a queue.
	AfterEnqueue(class string, args job.Args, queue string)

	// AfterSchedule reports that a job was scheduled for future execution.
	AfterSchedule(at time.Time, queue string, class string, args job.Args)

	// BeforeFork reports that a worker is about to fork to run a job. This is where execution
	// time tracking begins, so that fork and pre-perform overhead are included.
	BeforeFork(j *job.Job)

	// AfterPerform reports that a job completed successfully.
	AfterPerform(j *job.Job)

	// OnFailure reports that a job failed.
	OnFailure(err error, j *job.Job)
}

// StatsdJobHook is an implementation of JobHook that outputs metrics synchronously to statsd,
// one datagram per metric.
type StatsdJobHook struct {
	settings  atomic.Pointer[Settings]
	writeMu   sync.Mutex
	transport Transport
	logger    log.Logger
	reporter  report.Reporter
	now       func() time.Time
}

// StatsdJobHookOpts formalizes the collaborators of a StatsdJobHook. Zero values select the UDP
// transport, no logging, no error reporting, and the system clock.
type StatsdJobHookOpts struct {
	Transport Transport
	Logger    log.Logger
	Reporter  report.Reporter
	Clock     func() time.Time
}

// NoopJobHook implements the JobHook interface but noops on all emissions.
type NoopJobHook struct{}

// NewStatsdJobHook creates a hook emitting with the specified settings.
func NewStatsdJobHook(settings Settings, opts StatsdJobHookOpts) *StatsdJobHook {
	if opts.Transport == nil {
		opts.Transport = NewUDPTransport()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Reporter == nil {
		opts.Reporter = report.NewNoopReporter()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	h := &StatsdJobHook{
		transport: opts.Transport,
		logger:    opts.Logger,
		reporter:  opts.Reporter,
		now:       opts.Clock,
	}
	h.settings.Store(&settings)

	return h
}

// Settings returns the configuration snapshot currently in effect.
func (h *StatsdJobHook) Settings() Settings {
	return *h.settings.Load()
}

// Configure atomically replaces the configuration snapshot.
func (h *StatsdJobHook) Configure(settings Settings) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.settings.Store(&settings)
	h.logger.Info("hook: configured: prefix=%s dest=%s", settings.Prefix, settings.Destination)
}

// SetHost overrides the default statsd destination.
func (h *StatsdJobHook) SetHost(host string, port int) {
	h.update(func(s *Settings) {
		s.Destination = Destination{Host: host, Port: port}
	})
}

// SetPrefix overrides the prefix prepended to every metric name.
func (h *StatsdJobHook) SetPrefix(prefix string) {
	h.update(func(s *Settings) {
		s.Prefix = prefix
	})
}

func (h *StatsdJobHook) update(mutate func(s *Settings)) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	next := *h.settings.Load()
	mutate(&next)
	h.settings.Store(&next)
}

// AfterEnqueue statsd implementation
func (h *StatsdJobHook) AfterEnqueue(class string, args job.Args, queue string) {
	defer h.absorbPanic("AfterEnqueue")

	h.emitJob(Counter, "job.enqueued", 1, job.ClassFromEnqueue(class, args), queue)
}

// AfterSchedule statsd implementation
func (h *StatsdJobHook) AfterSchedule(at time.Time, queue string, class string, args job.Args) {
	defer h.absorbPanic("AfterSchedule")

	h.emitJob(Counter, "job.scheduled", 1, job.ClassFromEnqueue(class, args), queue)
}

// BeforeFork statsd implementation
func (h *StatsdJobHook) BeforeFork(j *job.Job) {
	defer h.absorbPanic("BeforeFork")

	if j == nil {
		h.logger.Debug("hook: skipping before fork: reason=nil job")
		return
	}

	now := h.now()
	j.MarkStarted(now)

	if j.Payload.QueueTime.IsZero() {
		return
	}

	queued := NewStopwatch(j.Payload.QueueTime, func() time.Time { return now }).Millis(h.Settings().PreciseTiming)
	h.emitJob(Timer, "job.time_in_queue", queued, job.ClassFromJob(j), j.Queue)
}

// AfterPerform statsd implementation
func (h *StatsdJobHook) AfterPerform(j *job.Job) {
	defer h.absorbPanic("AfterPerform")

	if j == nil {
		h.logger.Debug("hook: skipping after perform: reason=nil job")
		return
	}

	class := job.ClassFromJob(j)
	started, ok := j.StartedAt()
	j.ClearStarted()

	h.emitJob(Counter, "job.finished", 1, class, j.Queue)

	if !ok {
		h.logger.Debug("hook: skipping processing time: reason=no start recorded class=%s", class)
		return
	}

	processed := NewStopwatch(started, h.now).Millis(h.Settings().PreciseTiming)
	h.emitJob(Timer, "job.processed", processed, class, j.Queue)
}

// OnFailure statsd implementation
func (h *StatsdJobHook) OnFailure(err error, j *job.Job) {
	defer h.absorbPanic("OnFailure")

	if j == nil {
		h.logger.Debug("hook: skipping failure: reason=nil job err=%v", err)
		return
	}

	j.ClearStarted()

	h.emitJob(Counter, "job.failed", 1, job.ClassFromJob(j), j.Queue)
}

// emitJob emits a metric tagged with the job class and queue. Jobs without an identity are not
// reported; an empty queue is reported as an empty tag value.
func (h *StatsdJobHook) emitJob(metricType MetricType, name string, value int64, class string, queue string) {
	if class == "" {
		h.logger.Debug("hook: skipping emission: reason=empty class metric=%s", name)
		return
	}

	h.emit(MetricSpec{
		Type:  metricType,
		Name:  name,
		Value: value,
		Tags:  Tags{KV("class", class), KV("queue", queue)},
	})
}

// emit formats and sends a single metric. Failures are logged and dropped.
func (h *StatsdJobHook) emit(spec MetricSpec) {
	settings := h.Settings()

	dest, ok := ResolveDestination(settings.Destination)
	if !ok {
		h.logger.Debug("hook: skipping emission: reason=no destination metric=%s", spec.Name)
		return
	}

	ctx, cancel := withSendTimeout(context.Background(), settings.Timeout)
	defer cancel()

	line := FormatLine(settings.Prefix, spec)
	if err := h.transport.Send(ctx, dest, line); err != nil {
		h.logger.Debug("hook: send failed: dest=%s line=%s err=%v", dest, line, err)
		return
	}

	h.logger.Debug("hook: sent: dest=%s line=%s", dest, line)
}

// absorbPanic recovers a panic raised while handling an event, so that metrics plumbing can never
// fail the job being processed.
func (h *StatsdJobHook) absorbPanic(hook string) {
	if r := recover(); r != nil {
		err := fmt.Errorf("hook: recovered panic: hook=%s panic=%v", hook, r)
		h.logger.Error("%v", err)
		h.reporter.Report(err, map[string]string{"hook": hook})
	}
}

// NewNoopJobHook creates a noop implementation of JobHook.
func NewNoopJobHook() JobHook {
	return &NoopJobHook{}
}

// AfterEnqueue noops.
func (h *NoopJobHook) AfterEnqueue(class string, args job.Args, queue string) {}

// AfterSchedule noops.
func (h *NoopJobHook) AfterSchedule(at time.Time, queue string, class string, args job.Args) {}

// BeforeFork noops.
func (h *NoopJobHook) BeforeFork(j *job.Job) {}

// AfterPerform noops.
func (h *NoopJobHook) AfterPerform(j *job.Job) {}

// OnFailure noops.
func (h *NoopJobHook) OnFailure(err error, j *job.Job) {}
