package photos

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/store/storetest"
)

var at = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func photo(id string, jobID int64, t models.PhotoType) *models.Photo {
	return &models.Photo{
		ID:        id,
		JobID:     jobID,
		PhotoType: t,
		Room:      "Kitchen",
		LocalURI:  "/photos/" + id + ".jpg",
		Watermark: models.Watermark{
			Version:   models.WatermarkVersion,
			Timestamp: at,
			JobID:     jobID,
			PhotoType: t,
			Room:      "Kitchen",
			DeviceID:  "dev-1",
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestCreateAndGet(t *testing.T) {
	r := NewSQLiteRepository(storetest.NewDB(t))
	ctx := context.Background()

	p := photo("p1", 100, models.PhotoTypeBefore)
	p.Watermark.Extra = map[string]string{"lens": "wide"}
	require.NoError(t, r.Create(ctx, p))

	got, err := r.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.JobID)
	assert.Equal(t, models.PhotoTypeBefore, got.PhotoType)
	assert.Equal(t, "dev-1", got.Watermark.DeviceID)
	assert.Equal(t, "wide", got.Watermark.Extra["lens"])
	assert.True(t, got.CreatedAt.Equal(at))

	_, err = r.Get(ctx, "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestUploadBookkeeping(t *testing.T) {
	r := NewSQLiteRepository(storetest.NewDB(t))
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, photo("p1", 1, models.PhotoTypeBefore)))
	require.NoError(t, r.Create(ctx, photo("p2", 1, models.PhotoTypeAfter)))

	na := &models.Photo{ID: "na", JobID: 1, PhotoType: models.PhotoTypePasses, IsNotApplicable: true, CreatedAt: at, UpdatedAt: at}
	require.NoError(t, r.Create(ctx, na))

	require.NoError(t, r.MarkUploaded(ctx, "p1", at))
	for i := 0; i < 5; i++ {
		require.NoError(t, r.IncrementAttempts(ctx, "p2", at))
	}

	unuploaded, err := r.ListUnuploaded(ctx)
	require.NoError(t, err)
	require.Len(t, unuploaded, 1)
	assert.Equal(t, "p2", unuploaded[0].ID)
	assert.Equal(t, 5, unuploaded[0].UploadAttempts)

	uploaded, err := r.ListUploadedForJob(ctx, 1)
	require.NoError(t, err)
	require.Len(t, uploaded, 1)
	assert.Equal(t, "p1", uploaded[0].ID)

	exhausted, err := r.ListExhausted(ctx, 5)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)

	exhausted, err = r.ListExhausted(ctx, 6)
	require.NoError(t, err)
	assert.Empty(t, exhausted)

	require.ErrorIs(t, r.MarkUploaded(ctx, "missing", at), common.ErrNotFound)
	require.ErrorIs(t, r.IncrementAttempts(ctx, "missing", at), common.ErrNotFound)
}

func TestCountByType_IgnoresNotApplicable(t *testing.T) {
	r := NewSQLiteRepository(storetest.NewDB(t))
	ctx := context.Background()

	n, err := r.CountByType(ctx, 1, models.PhotoTypeBefore)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, r.Create(ctx, photo("b1", 1, models.PhotoTypeBefore)))
	require.NoError(t, r.Create(ctx, photo("b2", 1, models.PhotoTypeBefore)))
	require.NoError(t, r.Create(ctx, photo("other", 2, models.PhotoTypeBefore)))
	require.NoError(t, r.Create(ctx, &models.Photo{ID: "na", JobID: 1, PhotoType: models.PhotoTypePasses, IsNotApplicable: true}))

	n, err = r.CountByType(ctx, 1, models.PhotoTypeBefore)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.CountByType(ctx, 1, models.PhotoTypePasses)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteAndDeleteAll(t *testing.T) {
	r := NewSQLiteRepository(storetest.NewDB(t))
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, photo("p1", 1, models.PhotoTypeBefore)))
	require.NoError(t, r.Create(ctx, photo("p2", 1, models.PhotoTypeBefore)))

	require.NoError(t, r.Delete(ctx, "p1"))
	require.ErrorIs(t, r.Delete(ctx, "p1"), common.ErrNotFound)

	require.NoError(t, r.DeleteAll(ctx))
	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListForJob_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM photos WHERE job_id = ?`)).
		WithArgs(int64(1)).
		WillReturnError(assert.AnError)

	_, err = NewSQLiteRepository(db).ListForJob(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select photos")
	require.NoError(t, mock.ExpectationsWereMet())
}
