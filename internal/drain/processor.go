package drain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/photostore"
	"github.com/dmitrijs2005/fieldsync/internal/services"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

const DefaultMaxAttempts = 5

// MessageSyncer delivers one queued message_send entry.
type MessageSyncer interface {
	SyncMessage(ctx context.Context, e *models.SyncQueueEntry) error
}

// ConflictRecorder stores a detected conflict inside the caller's
// transaction.
type ConflictRecorder interface {
	Record(ctx context.Context, db dbx.DBTX, jobID int64, t models.ConflictType,
		local, server models.ConflictSnapshot) (*models.SyncConflict, error)
}

type Processor struct {
	db          *sql.DB
	repos       store.Manager
	photos      *photostore.PhotoStorage
	client      services.SyncClient
	messages    MessageSyncer
	conflicts   ConflictRecorder
	net         services.Connectivity
	clock       timex.Clock
	log         logging.Logger
	maxAttempts int

	running sync.Mutex
}

func NewProcessor(db *sql.DB, repos store.Manager, photos *photostore.PhotoStorage, client services.SyncClient,
	messages MessageSyncer, conflicts ConflictRecorder, net services.Connectivity, clock timex.Clock,
	log logging.Logger, maxAttempts int) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Processor{
		db:          db,
		repos:       repos,
		photos:      photos,
		client:      client,
		messages:    messages,
		conflicts:   conflicts,
		net:         net,
		clock:       clock,
		log:         log.With("component", "drain"),
		maxAttempts: maxAttempts,
	}
}

// Report summarizes one drain pass.
type Report struct {
	// Skipped is set when the pass did not run: offline, or another pass
	// was already in progress.
	Skipped   bool
	Jobs      int
	Completed int
	Retried   int
	Failed    int
	Conflicts int
	Synced    []int64
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeConflict
)

// Drain runs one pass over the queue. Endpoint failures are recorded on the
// entries and counted in the report; the returned error is reserved for
// store failures and cancellation.
func (p *Processor) Drain(ctx context.Context) (Report, error) {
	var rep Report
	if !p.net.IsOnline() {
		p.log.Debug(ctx, "offline, drain skipped")
		rep.Skipped = true
		return rep, nil
	}
	if !p.running.TryLock() {
		p.log.Debug(ctx, "drain already running")
		rep.Skipped = true
		return rep, nil
	}
	defer p.running.Unlock()

	jobs, err := p.repos.Queue(p.db).JobsReady(ctx)
	if err != nil {
		return rep, fmt.Errorf("list jobs with ready entries: %w", err)
	}

	for _, jobID := range jobs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Jobs++
		if err := p.drainJob(ctx, jobID, &rep); err != nil {
			return rep, err
		}
	}

	if rep.Jobs > 0 {
		p.log.Info(ctx, "drain finished", "jobs", rep.Jobs, "completed", rep.Completed,
			"retried", rep.Retried, "failed", rep.Failed, "conflicts", rep.Conflicts)
	}
	return rep, nil
}

func (p *Processor) drainJob(ctx context.Context, jobID int64, rep *Report) error {
	ctx = logging.ContextWith(ctx, "job_id", jobID)
	queue := p.repos.Queue(p.db)

	entries, err := queue.ListReady(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list entries of job %d: %w", jobID, err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := queue.MarkInProgress(ctx, e.ID, p.clock.Now()); err != nil {
			return err
		}

		out, err := p.settle(ctx, e, p.dispatch(ctx, e))
		if err != nil {
			return err
		}

		switch out {
		case outcomeCompleted:
			rep.Completed++
			continue
		case outcomeRetried:
			rep.Retried++
		case outcomeFailed:
			rep.Failed++
		case outcomeConflict:
			rep.Conflicts++
		}
		return nil
	}

	// messages can be queued for jobs that were never preloaded, those have
	// no row to mark
	synced, err := p.repos.Jobs(p.db).MarkSyncedIfSettled(ctx, jobID, p.clock.Now())
	if err != nil {
		return err
	}
	if synced {
		rep.Synced = append(rep.Synced, jobID)
	}
	return nil
}

// dispatch performs the server call for e.
func (p *Processor) dispatch(ctx context.Context, e *models.SyncQueueEntry) error {
	switch e.OperationType {
	case models.OperationStart:
		var pl models.StartPayload
		if err := e.DecodePayload(&pl); err != nil {
			return err
		}
		return p.client.StartJob(ctx, pl)

	case models.OperationChecklistUpdate:
		var pl models.ChecklistPayload
		if err := e.DecodePayload(&pl); err != nil {
			return err
		}
		return p.client.UpdateChecklist(ctx, pl)

	case models.OperationComplete:
		var pl models.CompletePayload
		if err := e.DecodePayload(&pl); err != nil {
			return err
		}
		return p.client.CompleteJob(ctx, pl)

	case models.OperationPhotoUpload:
		return p.uploadPhoto(ctx, e)

	case models.OperationMessageSend:
		return p.messages.SyncMessage(ctx, e)
	}
	return fmt.Errorf("%s: %w", e.OperationType, common.ErrUnknownOperation)
}

func (p *Processor) uploadPhoto(ctx context.Context, e *models.SyncQueueEntry) error {
	var pl models.PhotoUploadPayload
	if err := e.DecodePayload(&pl); err != nil {
		return err
	}

	photo, err := p.photos.GetPhoto(ctx, pl.PhotoID)
	if errors.Is(err, common.ErrNotFound) {
		p.log.Debug(ctx, "queued photo no longer exists", "photo_id", pl.PhotoID)
		return nil
	}
	if err != nil {
		return err
	}
	if photo.Uploaded {
		return nil
	}

	if err := p.client.UploadPhoto(ctx, photo); err != nil {
		if common.IsRetryable(err) {
			if ierr := p.photos.IncrementUploadAttempts(ctx, photo.ID); ierr != nil {
				return errors.Join(err, ierr)
			}
		}
		return err
	}
	return p.photos.MarkAsUploaded(ctx, photo.ID)
}

// settle records the result of dispatching e.
func (p *Processor) settle(ctx context.Context, e *models.SyncQueueEntry, callErr error) (outcome, error) {
	queue := p.repos.Queue(p.db)
	now := p.clock.Now()

	if callErr == nil {
		return outcomeCompleted, queue.MarkCompleted(ctx, e.ID, now)
	}

	log := p.log.With("entry_id", e.ID, "operation", e.OperationType)

	if ce, ok := common.AsConflict(callErr); ok {
		if err := p.recordConflict(ctx, e, ce, now); err != nil {
			return outcomeConflict, err
		}
		log.Warn(ctx, "sync conflict", "type", ce.Type)
		return outcomeConflict, nil
	}

	if common.IsRetryable(callErr) {
		status, err := queue.RecordAttempt(ctx, e.ID, callErr.Error(), p.maxAttempts, now)
		if err != nil {
			return outcomeRetried, err
		}
		if status == models.QueueStatusFailed {
			log.Warn(ctx, "sync entry failed after retries", "attempts", p.maxAttempts, "error", callErr)
			return outcomeFailed, nil
		}
		log.Debug(ctx, "sync entry will be retried", "error", callErr)
		return outcomeRetried, nil
	}

	log.Warn(ctx, "sync entry rejected", "error", callErr)
	return outcomeFailed, queue.MarkFailed(ctx, e.ID, callErr.Error(), now)
}

// recordConflict stores the conflict and fails the entry in one transaction.
func (p *Processor) recordConflict(ctx context.Context, e *models.SyncQueueEntry, ce *common.ConflictError, now time.Time) error {
	server, err := models.DecodeSnapshot(ce.Server)
	if err != nil {
		p.log.Warn(ctx, "unreadable server snapshot in conflict", "error", err)
		server = models.ConflictSnapshot{}
	}

	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var local models.ConflictSnapshot
		job, err := p.repos.Jobs(tx).GetByServerID(ctx, e.JobID)
		switch {
		case err == nil:
			local = models.SnapshotOf(job)
		case !errors.Is(err, common.ErrNotFound):
			return err
		}

		c, err := p.conflicts.Record(ctx, tx, e.JobID, models.ConflictType(ce.Type), local, server)
		if err != nil {
			return err
		}
		return p.repos.Queue(tx).MarkFailed(ctx, e.ID, fmt.Sprintf("conflict %s: %s", c.ID, ce.Type), now)
	})
}
