package job

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Args holds the named arguments of a job.
type Args map[string]interface{}

// Payload is the serialized description of a job as it sits in the queue.
type Payload struct {
	ID    string
	Class string
	Args  Args
	// QueueTime is the moment the job was pushed to the queue. The zero value means the
	// producer did not record it.
	QueueTime time.Time
}

// Job is one unit of work being processed by a worker.
type Job struct {
	Queue   string
	Payload Payload

	startedAt time.Time
}

// NewJob creates a job pulled from the named queue.
func NewJob(queue string, payload Payload) *Job {
	return &Job{
		Queue:   queue,
		Payload: payload,
	}
}

// MarkStarted records the moment processing of the job began.
func (j *Job) MarkStarted(at time.Time) {
	j.startedAt = at
}

// StartedAt returns the recorded processing start, if any.
func (j *Job) StartedAt() (time.Time, bool) {
	return j.startedAt, !j.startedAt.IsZero()
}

// ClearStarted drops the recorded processing start once the job's lifecycle is over.
func (j *Job) ClearStarted() {
	j.startedAt = time.Time{}
}

// rawPayload mirrors the JSON document php-resque and compatible producers push onto a queue.
type rawPayload struct {
	ID        string          `json:"id"`
	Class     string          `json:"class"`
	Args      json.RawMessage `json:"args"`
	QueueTime *float64        `json:"queue_time"`
}

// DecodePayload parses a resque JSON payload. Arguments may be given either as an object or as a
// list whose first element is an object, which is how php-resque wraps them.
func DecodePayload(data []byte) (Payload, error) {
	var raw rawPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return Payload{}, fmt.Errorf("job: error decoding payload: %w", err)
	}

	args, err := decodeArgs(raw.Args)
	if err != nil {
		return Payload{}, err
	}

	payload := Payload{
		ID:    raw.ID,
		Class: raw.Class,
		Args:  args,
	}

	if raw.QueueTime != nil {
		payload.QueueTime = UnixSeconds(*raw.QueueTime)
	}

	return payload, nil
}

// DecodeArgs parses job arguments given as a JSON object or a php-resque style wrapped list.
func DecodeArgs(data []byte) (Args, error) {
	return decodeArgs(json.RawMessage(data))
}

func decodeArgs(data json.RawMessage) (Args, error) {
	if len(data) == 0 || string(data) == "null" {
		return Args{}, nil
	}

	var args Args
	if err := json.Unmarshal(data, &args); err == nil {
		return args, nil
	}

	var wrapped []Args
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("job: args must be an object or a list of objects: %w", err)
	}

	if len(wrapped) == 0 || wrapped[0] == nil {
		return Args{}, nil
	}

	return wrapped[0], nil
}

// UnixSeconds converts fractional unix seconds, as written by microtime(true), into a time.
func UnixSeconds(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}
