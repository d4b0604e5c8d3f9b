// Package interfaces provides small internal interfaces shared across
// clexec's components, kept separate from the public package to avoid
// circular imports between it and internal/*.
package interfaces

// Logger is the subset of logging.Logger consumed outside that package.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer receives point-in-time execution events for metrics collection.
// Implementations must be thread-safe: methods are called from the action
// driver, from worker/blocking pool goroutines, and from primitive calls.
type Observer interface {
	ObserveCompile(latencyNs uint64, success bool)
	ObserveExecute(latencyNs uint64, actionsRun int, outcome string)
	ObserveAction(kind string, latencyNs uint64, success bool)
	ObservePrimitiveError(name string)
}
