// Package progress carries job lifecycle events from the supervisor, watchdog
// and artifact delivery to observers. Emit never blocks; a background goroutine
// batches events and fans them out to sinks such as Prometheus or the log.
package progress
