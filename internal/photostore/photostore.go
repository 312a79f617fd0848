// Package photostore keeps captured photos on local disk and their records
// in the local store.
//
// Files live flat in one directory and are named
// {jobId}_{photoType}_{room}_{uuid}.jpg. Records are the source of truth for
// upload state: an uploaded record is never removed just because its file
// disappeared, while an unuploaded record without a file is an orphan and is
// reclaimed by SyncWithFileSystem.
package photostore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/filex"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/photos"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

var unsafeRoomChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Repos vends the photo repository for a connection or transaction.
type Repos interface {
	Photos(db dbx.DBTX) photos.Repository
}

type PhotoStorage struct {
	db       *sql.DB
	repos    Repos
	dir      string
	deviceID string
	clock    timex.Clock
	log      logging.Logger
}

func New(db *sql.DB, repos Repos, dir, deviceID string, clock timex.Clock, log logging.Logger) *PhotoStorage {
	return &PhotoStorage{
		db:       db,
		repos:    repos,
		dir:      dir,
		deviceID: deviceID,
		clock:    clock,
		log:      log.With("component", "photostore"),
	}
}

// Dir returns the photo directory.
func (s *PhotoStorage) Dir() string {
	return s.dir
}

// Init creates the photo directory.
func (s *PhotoStorage) Init() error {
	return filex.EnsureDir(s.dir)
}

// FileName builds the on-disk name of a new photo.
func FileName(jobID int64, t models.PhotoType, room string) string {
	return fmt.Sprintf("%d_%s_%s_%s.jpg", jobID, t, SanitizeRoom(room), uuid.NewString())
}

// SanitizeRoom replaces every character outside [A-Za-z0-9_] with '_'.
func SanitizeRoom(room string) string {
	return unsafeRoomChars.ReplaceAllString(room, "_")
}

// Stage copies src into the photo directory and returns the photo record
// describing it. Nothing is persisted; pass the photo to Persist, or to
// Discard if the surrounding operation fails.
func (s *PhotoStorage) Stage(ctx context.Context, src string, jobID int64, t models.PhotoType, room string, extra map[string]string) (*models.Photo, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("photo type %q: %w", t, common.ErrInvalidState)
	}

	dst := filepath.Join(s.dir, FileName(jobID, t, room))
	if _, err := filex.CopyFile(src, dst); err != nil {
		return nil, err
	}

	digest, err := digestFile(dst)
	if err != nil {
		_ = os.Remove(dst)
		return nil, err
	}

	now := s.clock.Now().UTC()
	p := &models.Photo{
		ID:        uuid.NewString(),
		JobID:     jobID,
		PhotoType: t,
		Room:      room,
		LocalURI:  dst,
		Watermark: models.Watermark{
			Version:   models.WatermarkVersion,
			Timestamp: now,
			JobID:     jobID,
			PhotoType: t,
			Room:      room,
			DeviceID:  s.deviceID,
			Digest:    digest,
			Extra:     extra,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return p, nil
}

// Persist inserts a staged photo using db, which may be a transaction.
func (s *PhotoStorage) Persist(ctx context.Context, db dbx.DBTX, p *models.Photo) error {
	return s.repos.Photos(db).Create(ctx, p)
}

// Discard removes the file of a staged photo that will not be persisted.
func (s *PhotoStorage) Discard(p *models.Photo) {
	if p == nil || p.LocalURI == "" {
		return
	}
	if err := filex.RemoveIfExists(p.LocalURI); err != nil {
		s.log.Warn(context.Background(), "failed to discard staged photo", "path", p.LocalURI, "error", err)
	}
}

// SavePhoto stages and persists a photo in one step.
func (s *PhotoStorage) SavePhoto(ctx context.Context, src string, jobID int64, t models.PhotoType, room string, extra map[string]string) (*models.Photo, error) {
	p, err := s.Stage(ctx, src, jobID, t, room, extra)
	if err != nil {
		return nil, err
	}
	if err := s.Persist(ctx, s.db, p); err != nil {
		s.Discard(p)
		return nil, err
	}
	return p, nil
}

// NotApplicable builds the record of a pass marked N/A. It has no file.
func (s *PhotoStorage) NotApplicable(jobID int64, room string) *models.Photo {
	now := s.clock.Now().UTC()
	return &models.Photo{
		ID:              uuid.NewString(),
		JobID:           jobID,
		PhotoType:       models.PhotoTypePasses,
		Room:            room,
		IsNotApplicable: true,
		Watermark: models.Watermark{
			Version:   models.WatermarkVersion,
			Timestamp: now,
			JobID:     jobID,
			PhotoType: models.PhotoTypePasses,
			Room:      room,
			DeviceID:  s.deviceID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *PhotoStorage) GetPhotosForJob(ctx context.Context, jobID int64) ([]*models.Photo, error) {
	return s.repos.Photos(s.db).ListForJob(ctx, jobID)
}

func (s *PhotoStorage) GetUnuploadedPhotos(ctx context.Context) ([]*models.Photo, error) {
	return s.repos.Photos(s.db).ListUnuploaded(ctx)
}

func (s *PhotoStorage) GetPhoto(ctx context.Context, id string) (*models.Photo, error) {
	return s.repos.Photos(s.db).Get(ctx, id)
}

func (s *PhotoStorage) MarkAsUploaded(ctx context.Context, id string) error {
	return s.repos.Photos(s.db).MarkUploaded(ctx, id, s.clock.Now())
}

func (s *PhotoStorage) IncrementUploadAttempts(ctx context.Context, id string) error {
	return s.repos.Photos(s.db).IncrementAttempts(ctx, id, s.clock.Now())
}

// BeforePhotoCount is the count behind the "after requires before" rule.
func (s *PhotoStorage) BeforePhotoCount(ctx context.Context, jobID int64) (int, error) {
	return s.repos.Photos(s.db).CountByType(ctx, jobID, models.PhotoTypeBefore)
}

// DeletePhoto removes the record, then the file. The file removal is best
// effort: a leftover file is harmless, a record without a file is not.
func (s *PhotoStorage) DeletePhoto(ctx context.Context, id string) error {
	repo := s.repos.Photos(s.db)
	p, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, id); err != nil {
		return err
	}
	s.removeFile(ctx, p)
	return nil
}

// CleanupUploadedPhotos deletes every uploaded photo of the job.
func (s *PhotoStorage) CleanupUploadedPhotos(ctx context.Context, jobID int64) (int, error) {
	list, err := s.repos.Photos(s.db).ListUploadedForJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	return s.deleteAll(ctx, list)
}

// DeleteAllUploaded deletes every uploaded photo regardless of job or age.
func (s *PhotoStorage) DeleteAllUploaded(ctx context.Context) (int, error) {
	list, err := s.repos.Photos(s.db).ListUploaded(ctx)
	if err != nil {
		return 0, err
	}
	return s.deleteAll(ctx, list)
}

// DeleteExhausted abandons photos whose uploads failed maxAttempts times.
func (s *PhotoStorage) DeleteExhausted(ctx context.Context, maxAttempts int) (int, error) {
	list, err := s.repos.Photos(s.db).ListExhausted(ctx, maxAttempts)
	if err != nil {
		return 0, err
	}
	for _, p := range list {
		s.log.Warn(ctx, "abandoning photo after failed uploads",
			"photo_id", p.ID, "job_id", p.JobID, "attempts", p.UploadAttempts)
	}
	return s.deleteAll(ctx, list)
}

func (s *PhotoStorage) deleteAll(ctx context.Context, list []*models.Photo) (int, error) {
	n := 0
	for _, p := range list {
		if err := s.DeletePhoto(ctx, p.ID); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *PhotoStorage) removeFile(ctx context.Context, p *models.Photo) {
	if !p.HasFile() {
		return
	}
	if err := filex.RemoveIfExists(p.LocalURI); err != nil {
		s.log.Warn(ctx, "failed to remove photo file", "photo_id", p.ID, "path", p.LocalURI, "error", err)
	}
}

// StorageStats describes the photo directory.
type StorageStats struct {
	TotalSize     int64
	PhotoCount    int
	FormattedSize string
	// Error is set when the directory could not be read.
	Error string
}

// GetStorageStats sums the sizes of the files in the photo directory. A
// missing directory reports zeros.
func (s *PhotoStorage) GetStorageStats() StorageStats {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		stats := StorageStats{FormattedSize: humanize.IBytes(0)}
		if !errors.Is(err, fs.ErrNotExist) {
			stats.Error = err.Error()
		}
		return stats
	}

	var stats StorageStats
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return StorageStats{FormattedSize: humanize.IBytes(0), Error: err.Error()}
		}
		stats.TotalSize += info.Size()
		stats.PhotoCount++
	}
	stats.FormattedSize = humanize.IBytes(uint64(stats.TotalSize))
	return stats
}

// SyncWithFileSystem removes unuploaded records whose file is gone and
// returns how many were removed.
func (s *PhotoStorage) SyncWithFileSystem(ctx context.Context) (int, error) {
	list, err := s.repos.Photos(s.db).ListUnuploaded(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range list {
		if !p.HasFile() {
			continue
		}
		ok, err := filex.Exists(p.LocalURI)
		if err != nil {
			return removed, fmt.Errorf("stat %s: %w", p.LocalURI, err)
		}
		if ok {
			continue
		}

		if err := s.repos.Photos(s.db).Delete(ctx, p.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
			return removed, err
		}
		s.log.Warn(ctx, "orphaned photo record removed", "photo_id", p.ID, "job_id", p.JobID, "path", p.LocalURI)
		removed++
	}
	return removed, nil
}

// ClearAllPhotos deletes every record and the whole directory, then
// recreates the empty directory.
func (s *PhotoStorage) ClearAllPhotos(ctx context.Context) error {
	if err := s.repos.Photos(s.db).DeleteAll(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove photo dir: %w", err)
	}
	return s.Init()
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
