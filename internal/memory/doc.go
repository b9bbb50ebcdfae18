// Package memory implements the insightd memory bank: a file-backed,
// append-oriented archive of committed analysis sessions, the patterns
// recurring across them, and a chronological insight log.
//
// Layout under the bank root:
//
//	sessions/<session-id>.json   one versioned record per committed session
//	patterns.json                merged patterns with support counts
//	insights.ndjson              append-only insight log, one commit per line
//	quarantine/                  records that failed to decode
//	.lock                        writer lock file
//
// One writer at a time holds the bank; any number of read-only handles may
// observe it concurrently. Session ids are time-ordered, so the session
// listing doubles as the commit order across process restarts. Records
// that cannot be decoded are moved to quarantine rather than failing the
// whole bank.
//
// Retrieval is structural: a dataset schema is compared to past sessions
// by column-name overlap weighted by type agreement, and sufficiently
// similar sessions are returned as context for the new analysis.
package memory
