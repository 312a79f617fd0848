// Package drain replays the sync queue against the server.
//
// A Processor walks every job with open entries and dispatches that job's
// entries strictly in sequence order, so the server sees start before any
// checklist update and both before complete. A failed or retried head stops
// the job's pass; other jobs are unaffected.
package drain
