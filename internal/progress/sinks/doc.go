// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors, and a bounded tail of recent run messages. Each sink
// satisfies the progress.Sink interface and is safe for repeated Consume/Close
// cycles.
package sinks
