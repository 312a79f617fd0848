// Package syncqueue stores the append-only log of local operations awaiting
// transmission to the server.
//
// Sequence numbers are allocated per job from the sync_sequences counter, so
// they keep increasing even after completed entries have been reclaimed.
// Enqueue must run inside the same transaction as the local write it
// records.
package syncqueue
