package job

import "fmt"

// DispatcherClass is the class name the host runtime gives to jobs that merely invoke an
// arbitrary callable stored in their arguments.
const DispatcherClass = "Job"

// ClassFromEnqueue derives the metric identity of a job from the class and arguments passed to
// the enqueue and schedule events.
func ClassFromEnqueue(class string, args Args) string {
	return unwrapCallable(class, args)
}

// ClassFromJob derives the metric identity of a job being processed. A nil job resolves to the
// empty string.
func ClassFromJob(j *Job) string {
	if j == nil {
		return ""
	}

	return unwrapCallable(j.Payload.Class, j.Payload.Args)
}

// unwrapCallable attributes generic dispatcher jobs to the callable they run, rendered as
// target::method. Any other class, or a callable that is not a pair of strings, is returned
// untouched.
func unwrapCallable(class string, args Args) string {
	if class != DispatcherClass {
		return class
	}

	target, method, ok := callablePair(args["callable"])
	if !ok {
		return class
	}

	return fmt.Sprintf("%s::%s", target, method)
}

func callablePair(callable interface{}) (string, string, bool) {
	switch pair := callable.(type) {
	case []string:
		if len(pair) == 2 {
			return pair[0], pair[1], true
		}
	case []interface{}:
		if len(pair) != 2 {
			return "", "", false
		}

		target, ok := pair[0].(string)
		if !ok {
			return "", "", false
		}

		method, ok := pair[1].(string)
		if !ok {
			return "", "", false
		}

		return target, method, true
	}

	return "", "", false
}
