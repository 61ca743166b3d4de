// Package server wires the archive together: storage, database, work queue,
// pipeline, upload manager and the HTTP and gRPC health endpoints, and runs
// them until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/pressarchive/internal/dbx"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/dmitrijs2005/pressarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/pressarchive/internal/server/config"
	"github.com/dmitrijs2005/pressarchive/internal/server/gateway"
	"github.com/dmitrijs2005/pressarchive/internal/server/httpapi"
	"github.com/dmitrijs2005/pressarchive/internal/server/metrics"
	"github.com/dmitrijs2005/pressarchive/internal/server/pipeline"
	"github.com/dmitrijs2005/pressarchive/internal/server/queue"
	"github.com/dmitrijs2005/pressarchive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/pressarchive/internal/server/toolrunner"
	"github.com/dmitrijs2005/pressarchive/internal/server/tools"
	"github.com/dmitrijs2005/pressarchive/internal/server/uploads"

	gs "github.com/dmitrijs2005/pressarchive/internal/server/grpc"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const dbConnectAttempts = 5

// Seams for tests.
var (
	dbConnectDelay = time.Second

	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}

	newS3Store = blobstore.NewS3Store

	newRocketMQ = func(cfg queue.RocketMQConfig, l logging.Logger) (queue.Queue, error) {
		return queue.NewRocketMQ(cfg, l)
	}
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	logCloser io.Closer
	db        *sql.DB
	tx        dbx.Transactor
	repos     repomanager.RepositoryManager
	queue     queue.Queue
	uploads   *uploads.Manager
	pipeline  *pipeline.Pipeline
	http      *httpapi.Server
	health    *gs.HealthServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, closer := logging.New(logging.Options{Level: c.LogLevel, File: c.LogFile})
	app := &App{config: c, logger: logger, logCloser: closer}

	if err := app.build(ctx); err != nil {
		app.close(ctx)
		return nil, err
	}
	return app, nil
}

func (app *App) build(ctx context.Context) error {
	c := app.config

	mode, err := gateway.ParseMode(c.ServeMode)
	if err != nil {
		return err
	}

	store, err := blobstore.NewLocalStore(c.StorageRoot, c.AccelPrefix)
	if err != nil {
		return fmt.Errorf("storage init error: %w", err)
	}

	var replica *blobstore.S3Store
	if c.S3Bucket != "" {
		replica, err = newS3Store(ctx, blobstore.S3Config{
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			BaseEndpoint: c.S3BaseEndpoint,
			PresignTTL:   c.PresignTTL,
		})
		if err != nil {
			return fmt.Errorf("replica init error: %w", err)
		}
	}

	app.db, err = connectDB(ctx, c.DatabaseDSN, app.logger)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations error: %w", err)
	}
	tx := dbx.NewSQLTransactor(app.db, nil)
	app.tx, app.repos = tx, repos

	app.queue, err = buildQueue(c, app.logger)
	if err != nil {
		return fmt.Errorf("queue init error: %w", err)
	}

	m := metrics.New()
	runner := toolrunner.NewExecRunner(app.logger)

	compressor, err := buildCompressor(c, runner)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Tx:         tx,
		Repos:      repos,
		Store:      store,
		Compressor: compressor,
		Rasterizer: &tools.Pdftoppm{Runner: runner, Path: c.PdftoppmPath, Timeout: c.RasterTimeout},
		Recognizer: &tools.Tesseract{Runner: runner, Path: c.TesseractPath, Language: c.OcrLanguage, Timeout: c.RecognizeTimeout},
		Pages:      tools.PdfcpuPageCounter{},
		Queue:      app.queue,
		Metrics:    m,
		Logger:     app.logger,
	}
	var presigner gateway.Presigner
	if replica != nil {
		deps.Replica = replica
		presigner = replica
	}
	app.pipeline = pipeline.New(deps, pipeline.Config{
		ThumbDPI:        c.ThumbDPI,
		ThumbWidth:      c.ThumbWidth,
		OcrDPI:          c.OcrDPI,
		SkipCompression: !c.CompressionEnabled,
		DurableQueue:    len(c.RocketMQNameServers) > 0,
	})

	var mgr *uploads.Manager
	sessions := uploads.NewCacheStore(c.SessionTTL, time.Minute, func(id string) {
		if mgr != nil {
			mgr.ReleaseStaging(id)
		}
	})
	mgr, err = uploads.NewManager(uploads.Deps{
		Sessions: sessions,
		Store:    store,
		Tx:       tx,
		Repos:    repos,
		Queue:    app.queue,
		Metrics:  m,
		Logger:   app.logger,
	}, uploads.Config{
		ChunkSize:      c.ChunkSize,
		MaxChunkBytes:  c.MaxChunkBytes,
		MaxUploadBytes: c.MaxUploadBytes,
		SessionTTL:     c.SessionTTL,
	})
	if err != nil {
		return err
	}
	app.uploads = mgr

	gw, err := gateway.New(store, gateway.NewIssueAuthorizer(tx, repos), presigner, mode, app.logger)
	if err != nil {
		return err
	}

	app.http = httpapi.New(httpapi.Deps{
		Uploads: mgr,
		Ops:     app.pipeline,
		Files:   gw,
		Metrics: m.Handler(),
		Health:  app.db.PingContext,
		Logger:  app.logger,
	}, httpapi.Config{
		Addr:          c.HTTPAddr,
		JWTSecret:     []byte(c.JWTSecret),
		AllowOrigins:  c.CORSOrigins,
		MaxChunkBytes: c.MaxChunkBytes,
	})

	app.health = gs.NewHealthServer(c.GRPCAddr, app.logger, app.db.PingContext, c.HealthInterval)
	return nil
}

// connectDB opens the pool and waits for the database to answer, retrying
// while it is still starting up.
func connectDB(ctx context.Context, dsn string, l logging.Logger) (*sql.DB, error) {
	db, err := openDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	err = retry.Do(
		func() error { return db.PingContext(ctx) },
		retry.Context(ctx),
		retry.Attempts(dbConnectAttempts),
		retry.Delay(dbConnectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			l.Warn(ctx, "database not ready", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func buildQueue(c *config.Config, l logging.Logger) (queue.Queue, error) {
	workers := map[queue.Lane]int{
		queue.LaneLight: c.LightWorkers,
		queue.LaneOCR:   c.OcrWorkers,
	}
	if len(c.RocketMQNameServers) > 0 {
		return newRocketMQ(queue.RocketMQConfig{NameServers: c.RocketMQNameServers, Workers: workers}, l)
	}
	return queue.NewMemory(workers, c.QueueBuffer, l), nil
}

func buildCompressor(c *config.Config, runner toolrunner.Runner) (tools.Compressor, error) {
	switch c.CompressionBackend {
	case "", "ghostscript":
		return &tools.Ghostscript{
			Runner:    runner,
			Path:      c.GhostscriptPath,
			Profile:   c.GhostscriptProfile,
			Grayscale: c.Grayscale,
			Timeout:   c.CompressTimeout,
		}, nil
	case "pdfcpu":
		return tools.PdfcpuOptimizer{}, nil
	}
	return nil, fmt.Errorf("unknown compression backend %q", c.CompressionBackend)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until a signal arrives or a component fails, then waits for the
// rest to stop.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.close(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.queue.Run(ctx, app.pipeline.Handle)
	})
	g.Go(func() error {
		if app.config.RecoverOnStart {
			if err := app.pipeline.Recover(ctx); err != nil {
				app.logger.Error(ctx, "startup recovery failed", "error", err)
			}
		}
		return app.uploads.RunJanitor(ctx, app.config.JanitorInterval)
	})
	g.Go(func() error {
		return app.http.Run(ctx)
	})
	g.Go(func() error {
		return app.health.Run(ctx)
	})

	err := g.Wait()
	app.logger.Info(ctx, "App stopped")
	return err
}

// Close releases what NewApp opened. Run closes the app itself.
func (app *App) Close(ctx context.Context) {
	app.close(ctx)
}

func (app *App) close(ctx context.Context) {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close", "error", err)
		}
	}
	if app.logCloser != nil {
		_ = app.logCloser.Close()
	}
}
