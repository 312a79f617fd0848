package store

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/checklist"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/conflicts"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/jobs"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/messages"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/photos"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/syncqueue"
)

// Manager vends repositories bound to a connection or a transaction.
type Manager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Jobs(db dbx.DBTX) jobs.Repository
	Checklist(db dbx.DBTX) checklist.Repository
	Photos(db dbx.DBTX) photos.Repository
	Messages(db dbx.DBTX) messages.Repository
	Queue(db dbx.DBTX) syncqueue.Repository
	Conflicts(db dbx.DBTX) conflicts.Repository
	Metadata(db dbx.DBTX) metadata.Repository
}

type SQLiteManager struct{}

func NewSQLiteManager() *SQLiteManager {
	return &SQLiteManager{}
}

func (m *SQLiteManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return RunMigrations(ctx, db)
}

func (m *SQLiteManager) Jobs(db dbx.DBTX) jobs.Repository {
	return jobs.NewSQLiteRepository(db)
}

func (m *SQLiteManager) Checklist(db dbx.DBTX) checklist.Repository {
	return checklist.NewSQLiteRepository(db)
}

func (m *SQLiteManager) Photos(db dbx.DBTX) photos.Repository {
	return photos.NewSQLiteRepository(db)
}

func (m *SQLiteManager) Messages(db dbx.DBTX) messages.Repository {
	return messages.NewSQLiteRepository(db)
}

func (m *SQLiteManager) Queue(db dbx.DBTX) syncqueue.Repository {
	return syncqueue.NewSQLiteRepository(db)
}

func (m *SQLiteManager) Conflicts(db dbx.DBTX) conflicts.Repository {
	return conflicts.NewSQLiteRepository(db)
}

func (m *SQLiteManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}
