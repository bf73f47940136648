// Package monitoring holds the diagnostic logging hooks used by the filter
// packages. Per-step diagnostics (N_eff, resampling decisions, worker
// timings) are emitted through Logf so they can be redirected or muted
// without touching the startup and error logging done with package log.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the diagnostic logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Component returns a logger that prefixes every line with "[name] ".
// The current Logf is looked up on each call, so SetLogger applies to
// component loggers created earlier.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
