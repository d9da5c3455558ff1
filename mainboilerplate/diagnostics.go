package mainboilerplate

import (
	"fmt"
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
)

const (
	// k8sTerminationLog is the location to write a termination message for
	// Kubernetes to retrieve.
	//
	// Link: https://kubernetes.io/docs/tasks/debug-application-cluster/determine-reason-pod-failure/#setting-the-termination-log-file
	k8sTerminationLog = "/dev/termination-log"
	// maxStackTraceSize is the max bytes captured of a panicking stack.
	maxStackTraceSize = 32768
)

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}

	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}

// LogPanic is a deferred call which recovers a panic at the end of the
// program's lifecycle, records its message and stack trace, and then
// re-panics to preserve the non-zero process exit.
func LogPanic() {
	if r := recover(); r != nil {
		logTerminationMessage(fmt.Sprint("PANIC: ", r))
		logStackTrace(r)

		// Bubble up the panic.
		panic(r)
	}
}

// logTerminationMessage writes |msg| to the Kubernetes termination log,
// where it can be recovered after the container exits.
func logTerminationMessage(msg string) {
	if f, err := os.OpenFile(k8sTerminationLog, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0777); err == nil {
		defer f.Close()
		f.WriteString(msg)
	}
}

func logStackTrace(r interface{}) {
	var trace = make([]byte, maxStackTraceSize)
	trace = trace[:runtime.Stack(trace, false)]

	log.WithFields(log.Fields{"err": r, "stack": string(trace)}).Error("recovered panic")
}
