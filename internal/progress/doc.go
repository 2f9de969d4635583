// Package progress carries harvest progress from workers to observers. Workers
// report through a Reporter, which emits Events into a non-blocking Hub; the
// Hub batches events on a background goroutine and fans them out to sinks
// such as structured logs, Prometheus collectors, and the recent-log tail
// served by the control API.
package progress
