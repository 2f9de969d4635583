// Package harvest defines the shared vocabulary of the chapter harvester: item
// keys and link sets produced by discovery, partitioning across workers, the
// run state machine, per-item outcomes, the error taxonomy, and the narrow
// ports (Session, Reporter, Clock) the pipeline depends on.
package harvest
