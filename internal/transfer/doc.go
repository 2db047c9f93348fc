// Package transfer implements the delta-chunk transfer engine: the worker
// pool, the retrying chunk fetcher, and the coordinator that drives whole
// remote trees to completion.
//
// # Data Flow
//
// For each remote file the [Coordinator] builds a chunk plan (skipping
// chunks a trusted checkpoint already committed), archives the stale local
// version, and submits the pending chunks as tasks to the shared [Pool].
// Workers fetch ranges through the remote session, write them at their
// offsets in the destination file, and durably record each commit in the
// checkpoint store before reporting progress. When every chunk of a file
// reaches a terminal state, the file's checkpoint is finalized and its
// completion event fires.
//
// # Worker Pool
//
// A single pool of W workers serves chunk tasks across all files in a run;
// chunks of one file may run concurrently on different workers and no
// ordering is guaranteed among them. A task's permanent failure never
// cancels sibling tasks.
//
// # Cancellation
//
// Cancelling the run context lets in-flight tasks abort cleanly. Chunks
// without a durable commit record stay pending and are fetched again on the
// next run.
package transfer
