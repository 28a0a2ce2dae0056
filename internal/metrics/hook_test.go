package metrics_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobstatsd/internal/job"
	"jobstatsd/internal/log"
	"jobstatsd/internal/metrics"
	"jobstatsd/internal/mocks"
)

var testDest = metrics.Destination{Host: "127.0.0.1", Port: 8125}

func clearDestinationEnv(t *testing.T) {
	t.Setenv("STATSD_HOST", "")
	t.Setenv("GRAPHITE_HOST", "")
	t.Setenv("STATSD_PORT", "")
}

func testSettings() metrics.Settings {
	settings := metrics.DefaultSettings()
	settings.Destination = testDest
	return settings
}

func newHook(t *testing.T, transport metrics.Transport, clock func() time.Time) *metrics.StatsdJobHook {
	clearDestinationEnv(t)

	return metrics.NewStatsdJobHook(testSettings(), metrics.StatsdJobHookOpts{
		Transport: transport,
		Clock:     clock,
	})
}

type recordingReporter struct {
	errs []error
	tags []map[string]string
}

func (r *recordingReporter) Report(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}

func (r *recordingReporter) Flush() {}

type sentLine struct {
	dest metrics.Destination
	line string
}

// recordingTransport stores every line it is asked to send.
type recordingTransport struct {
	mu    sync.Mutex
	lines []sentLine
}

func (r *recordingTransport) Send(ctx context.Context, dest metrics.Destination, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = append(r.lines, sentLine{dest: dest, line: line})
	return nil
}

type panickingTransport struct{}

func (p *panickingTransport) Send(ctx context.Context, dest metrics.Destination, line string) error {
	panic("socket exploded")
}

func TestAfterEnqueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Send(gomock.Any(), testDest, "resque.job.enqueued:1|c|#class:MyJob,queue:default").
		Return(nil)

	hook := newHook(t, transport, nil)
	hook.AfterEnqueue("MyJob", job.Args{"id": 1}, "default")
}

func TestAfterEnqueueUnwrapsCallable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Send(gomock.Any(), testDest, "resque.job.enqueued:1|c|#class:Mailer::send,queue:emails").
		Return(nil)

	hook := newHook(t, transport, nil)
	hook.AfterEnqueue("Job", job.Args{"callable": []interface{}{"Mailer", "send"}}, "emails")
}

func TestAfterSchedule(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Send(gomock.Any(), testDest, "resque.job.scheduled:1|c|#class:Nightly,queue:cron").
		Return(nil)

	hook := newHook(t, transport, nil)
	hook.AfterSchedule(time.Now().Add(time.Hour), "cron", "Nightly", job.Args{"day": "mon"})
}

func TestBeforeForkRecordsStartAndTimeInQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	now := time.Unix(1700000010, int64(300*time.Millisecond))

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Send(gomock.Any(), testDest, "resque.job.time_in_queue:10000|ms|#class:Resize,queue:images").
		Return(nil)

	hook := newHook(t, transport, func() time.Time { return now })

	j := job.NewJob("images", job.Payload{Class: "Resize", QueueTime: time.Unix(1700000000, 0)})
	hook.BeforeFork(j)

	started, ok := j.StartedAt()
	assert.True(t, ok)
	assert.Equal(t, now, started)
}

func TestBeforeForkWithoutQueueTimeOnlyRecordsStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	hook := newHook(t, transport, nil)

	j := job.NewJob("images", job.Payload{Class: "Resize"})
	hook.BeforeFork(j)

	_, ok := j.StartedAt()
	assert.True(t, ok)
}

func TestAfterPerformEmitsFinishedAndProcessed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	start := time.Unix(1700000000, 0)
	now := start
	clock := func() time.Time { return now }

	transport := mocks.NewMockTransport(ctrl)
	gomock.InOrder(
		transport.EXPECT().
			Send(gomock.Any(), testDest, "resque.job.finished:1|c|#class:Resize,queue:images").
			Return(nil),
		transport.EXPECT().
			Send(gomock.Any(), testDest, "resque.job.processed:2000|ms|#class:Resize,queue:images").
			Return(nil),
	)

	hook := newHook(t, transport, clock)

	j := job.NewJob("images", job.Payload{Class: "Resize"})
	hook.BeforeFork(j)
	now = start.Add(2200 * time.Millisecond)
	hook.AfterPerform(j)

	_, ok := j.StartedAt()
	assert.False(t, ok, "start timestamp must not outlive the job")
}

func TestAfterPerformPreciseTiming(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	start := time.Unix(1700000000, 0)
	now := start
	clock := func() time.Time { return now }

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Send(gomock.Any(), testDest, "resque.job.finished:1|c|#class:Resize,queue:images").Return(nil)
	transport.EXPECT().Send(gomock.Any(), testDest, "resque.job.processed:2200|ms|#class:Resize,queue:images").Return(nil)

	hook := newHook(t, transport, clock)
	settings := hook.Settings()
	settings.PreciseTiming = true
	hook.Configure(settings)

	j := job.NewJob("images", job.Payload{Class: "Resize"})
	hook.BeforeFork(j)
	now = start.Add(2200 * time.Millisecond)
	hook.AfterPerform(j)
}

func TestAfterPerformWithoutStartSkipsTimer(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Send(gomock.Any(), testDest, "resque.job.finished:1|c|#class:Resize,queue:images").
		Return(nil)

	hook := newHook(t, transport, nil)
	hook.AfterPerform(job.NewJob("images", job.Payload{Class: "Resize"}))
}

func TestOnFailureEmitsFailedOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Send(gomock.Any(), testDest, "resque.job.failed:1|c|#class:Resize,queue:images").
		Return(nil)

	hook := newHook(t, transport, nil)

	j := job.NewJob("images", job.Payload{Class: "Resize"})
	j.MarkStarted(time.Now())
	hook.OnFailure(errors.New("out of memory"), j)

	_, ok := j.StartedAt()
	assert.False(t, ok)
}

func TestOnFailureWithoutQueueEmitsEmptyQueueTag(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Send(gomock.Any(), testDest, "resque.job.failed:1|c|#class:Resize,queue:").
		Return(nil)

	hook := newHook(t, transport, nil)

	assert.NotPanics(t, func() {
		hook.OnFailure(errors.New("boom"), &job.Job{Payload: job.Payload{Class: "Resize"}})
	})
}

func TestHandlersSkipUnidentifiedJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No expectations: any Send fails the test.
	transport := mocks.NewMockTransport(ctrl)
	hook := newHook(t, transport, nil)

	assert.NotPanics(t, func() {
		hook.AfterEnqueue("", nil, "default")
		hook.BeforeFork(nil)
		hook.AfterPerform(nil)
		hook.OnFailure(errors.New("boom"), nil)
		hook.OnFailure(nil, &job.Job{})
		hook.BeforeFork(&job.Job{Payload: job.Payload{QueueTime: time.Unix(1, 0)}})
	})
}

func TestTransportFailureIsAbsorbed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var buf bytes.Buffer

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	clearDestinationEnv(t)
	hook := metrics.NewStatsdJobHook(testSettings(), metrics.StatsdJobHookOpts{
		Transport: transport,
		Logger:    log.NewWriterLogger(log.Debug, &buf),
	})

	assert.NotPanics(t, func() {
		hook.AfterEnqueue("MyJob", job.Args{"id": 1}, "default")
	})
	assert.Contains(t, buf.String(), "hook: send failed")
}

func TestSendIsSkippedWithoutDestination(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	hook := newHook(t, transport, nil)
	hook.SetHost("", 0)

	hook.AfterEnqueue("MyJob", job.Args{"id": 1}, "default")
}

func TestPanicsAreRecoveredAndReported(t *testing.T) {
	clearDestinationEnv(t)

	reporter := &recordingReporter{}
	hook := metrics.NewStatsdJobHook(testSettings(), metrics.StatsdJobHookOpts{
		Transport: &panickingTransport{},
		Reporter:  reporter,
	})

	assert.NotPanics(t, func() {
		hook.OnFailure(errors.New("boom"), job.NewJob("default", job.Payload{Class: "MyJob"}))
	})

	require.Len(t, reporter.errs, 1)
	assert.Contains(t, reporter.errs[0].Error(), "socket exploded")
	assert.Equal(t, map[string]string{"hook": "OnFailure"}, reporter.tags[0])
}

func TestEnvironmentOverridesAreReadOnEveryEmission(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	gomock.InOrder(
		transport.EXPECT().Send(gomock.Any(), testDest, gomock.Any()).Return(nil),
		transport.EXPECT().Send(gomock.Any(), metrics.Destination{Host: "10.0.0.5", Port: 9000}, gomock.Any()).Return(nil),
	)

	hook := newHook(t, transport, nil)
	hook.AfterEnqueue("MyJob", job.Args{"id": 1}, "default")

	t.Setenv("STATSD_HOST", "10.0.0.5:9000")
	hook.AfterEnqueue("MyJob", job.Args{"id": 1}, "default")
}

func TestSettingsOverrides(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().
		Send(gomock.Any(), metrics.Destination{Host: "10.1.1.1", Port: 9125}, "workers.job.enqueued:1|c|#class:MyJob,queue:default").
		Return(nil)

	hook := newHook(t, transport, nil)
	hook.SetHost("10.1.1.1", 9125)
	hook.SetPrefix("workers")

	settings := hook.Settings()
	assert.Equal(t, "workers", settings.Prefix)
	assert.Equal(t, metrics.DefaultTimeout, settings.Timeout)

	hook.AfterEnqueue("MyJob", job.Args{"id": 1}, "default")
}

func TestConcurrentEmissionSeesConsistentSettings(t *testing.T) {
	const (
		emitters   = 8
		perEmitter = 200
	)

	alpha := testSettings()
	alpha.Prefix = "alpha"
	alpha.Destination = metrics.Destination{Host: "127.0.0.1", Port: 8125}

	beta := testSettings()
	beta.Prefix = "beta"
	beta.Destination = metrics.Destination{Host: "127.0.0.2", Port: 9125}

	transport := &recordingTransport{}
	hook := newHook(t, transport, nil)
	hook.Configure(alpha)

	done := make(chan struct{})
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if i%2 == 0 {
				hook.Configure(beta)
			} else {
				hook.Configure(alpha)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < emitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perEmitter; j++ {
				hook.AfterEnqueue("MyJob", nil, "default")
			}
		}()
	}
	wg.Wait()
	close(done)
	writer.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()

	require.Len(t, transport.lines, emitters*perEmitter)
	for _, sent := range transport.lines {
		switch {
		case strings.HasPrefix(sent.line, "alpha.job.enqueued:1|c"):
			assert.Equal(t, alpha.Destination, sent.dest)
		case strings.HasPrefix(sent.line, "beta.job.enqueued:1|c"):
			assert.Equal(t, beta.Destination, sent.dest)
		default:
			t.Fatalf("unexpected line: %s", sent.line)
		}
	}
}

func TestEndToEndOverUDP(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	clearDestinationEnv(t)
	settings := metrics.DefaultSettings()
	settings.Destination = metrics.Destination{Host: "127.0.0.1", Port: conn.LocalAddr().(*net.UDPAddr).Port}

	hook := metrics.NewStatsdJobHook(settings, metrics.StatsdJobHookOpts{})
	hook.AfterEnqueue("Job", job.Args{"callable": []interface{}{"Mailer", "send"}}, "emails")

	buf := make([]byte, 1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	assert.Equal(t, "resque.job.enqueued:1|c|#class:Mailer::send,queue:emails", string(buf[:n]))
}

func TestNoopJobHook(t *testing.T) {
	hook := metrics.NewNoopJobHook()

	assert.NotPanics(t, func() {
		hook.AfterEnqueue("MyJob", nil, "default")
		hook.AfterSchedule(time.Now(), "default", "MyJob", nil)
		hook.BeforeFork(nil)
		hook.AfterPerform(nil)
		hook.OnFailure(nil, nil)
	})
}
