// Package jobs provides the device-side persistence of Job records.
//
// Jobs are keyed locally by a client-generated id and carry the server id
// used by every other table. Nested values (job data, checklist progress)
// are stored as JSON text, timestamps as epoch milliseconds. Deleted rows
// are tombstones left by cleanup and are invisible to every read.
//
// Usage
//
//	repo := jobs.NewSQLiteRepository(tx)
//	job, err := repo.GetByServerID(ctx, 100)
//	job.Status = models.JobStatusStarted
//	err = repo.Update(ctx, job)
package jobs
