// Package coordinator drives one analysis run through its phases.
//
// A run ingests a dataset, retrieves prior context from the memory bank,
// fans out to the statistics and visualization capabilities in parallel,
// synthesizes a report from the joined results, and commits the finished
// session. Phase boundaries are traced, timed, and recorded on the
// session. Capability failures are downgraded to phase-record failures
// with two exceptions that fail the run: ingestion failing, and both
// parallel branches failing.
//
// The coordinator performs no retries. Retry policy belongs to the
// capability providers, which keeps phase timing and ordering
// predictable.
package coordinator
