package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/dmitrijs2005/fieldsync/internal/config"
	"github.com/dmitrijs2005/fieldsync/internal/drain"
	"github.com/dmitrijs2005/fieldsync/internal/filex"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/netmon"
	"github.com/dmitrijs2005/fieldsync/internal/photostore"
	"github.com/dmitrijs2005/fieldsync/internal/remote"
	"github.com/dmitrijs2005/fieldsync/internal/s3upload"
	"github.com/dmitrijs2005/fieldsync/internal/services"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

const (
	probeTimeout = 2 * time.Second
	callTimeout  = 30 * time.Second
)

// App is the wired engine behind the commands.
type App struct {
	config *config.Config
	log    logging.Logger
	logs   io.Closer

	db    *sql.DB
	conn  *grpc.ClientConn
	token string

	monitor   *netmon.Monitor
	pinger    netmon.Pinger
	photos    *photostore.PhotoStorage
	manager   *services.OfflineManager
	messaging *services.MessagingService
	resolver  *services.ConflictResolver
	storage   *services.StorageManager
	drain     *drain.Processor
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log, logs, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	a := &App{config: cfg, log: log, logs: logs}

	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.config

	if err := filex.EnsureDir(cfg.DataDir); err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return err
	}
	a.db = db

	repos := store.NewSQLiteManager()
	clock := timex.System

	a.photos = photostore.New(db, repos, cfg.PhotoPath(), cfg.DeviceID, clock, a.log)
	if err := a.photos.Init(); err != nil {
		return err
	}

	a.conn, err = netmon.Dial(cfg.ServerEndpointAddr, func() string { return a.token })
	if err != nil {
		return err
	}
	a.monitor = netmon.New(false, a.log)
	a.pinger = netmon.NewGRPCHealthPinger(a.conn, "")

	uploader, err := s3upload.New(ctx, cfg.S3)
	if err != nil {
		return err
	}
	client := remote.New(a.conn, uploader, callTimeout)

	a.manager = services.NewOfflineManager(db, repos, a.photos, a.monitor, client, clock, a.log)
	a.messaging = services.NewMessagingService(db, repos, a.monitor, client, clock, a.log)
	a.resolver = services.NewConflictResolver(db, repos, clock, a.log)
	a.storage = services.NewStorageManager(db, repos, a.photos, a.manager, a.messaging, clock, a.log)
	a.drain = drain.NewProcessor(db, repos, a.photos, client, a.messaging, a.resolver, a.monitor, clock, a.log,
		cfg.MaxQueueAttempts)

	a.token = cfg.AuthToken
	if a.token == "" {
		if a.token, err = a.manager.StoredToken(ctx); err != nil {
			return err
		}
	}
	return nil
}

// probe checks the server once and records the result.
func (a *App) probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := a.pinger.Ping(pctx)
	cancel()
	if err != nil {
		a.log.Debug(ctx, "server unreachable", "error", err)
	}

	online := err == nil
	a.monitor.SetOnline(online)
	if rerr := a.manager.RecordConnectivity(ctx, online); rerr != nil {
		a.log.Warn(ctx, "failed to record connectivity", "error", rerr)
	}
	return online
}

// Serve runs the engine until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	a.probe(ctx)
	if err := a.manager.Initialize(ctx, a.token); err != nil {
		return err
	}

	unsubscribe := a.monitor.Subscribe(func(online bool) {
		if err := a.manager.RecordConnectivity(ctx, online); err != nil && ctx.Err() == nil {
			a.log.Warn(ctx, "failed to record connectivity", "error", err)
		}
		if online {
			if _, err := a.manager.PreloadJobs(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn(ctx, "preload failed", "error", err)
			}
		}
	})
	defer unsubscribe()

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() { a.monitor.Watch(ctx, a.config.OnlineCheckInterval, a.pinger) })
	spawn(func() { a.drain.Run(ctx, a.config.DrainInterval, a.monitor) })
	spawn(func() { a.storage.Run(ctx, a.config.CleanupInterval) })
	spawn(func() {
		if err := a.photos.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Error(ctx, "photo watcher stopped", "error", err)
		}
	})

	a.log.Info(ctx, "engine running", "server", a.config.ServerEndpointAddr, "data_dir", a.config.DataDir)
	<-ctx.Done()
	wg.Wait()
	a.log.Info(context.Background(), "engine stopped")
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.conn != nil {
		errs = append(errs, a.conn.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
