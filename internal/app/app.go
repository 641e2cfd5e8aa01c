// Package app wires the configuration, the optional backends and the test
// manager shared by the command line and the API server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/cache"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/config"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/database"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/manager"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/metrics"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/ports"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/queue"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/storage"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/tracing"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/webhook"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// ErrPublishInProgress is returned when another process holds the publish lock
var ErrPublishInProgress = errors.New("another run is being published")

const publishLockTTL = 5 * time.Minute

// App holds every component of a configured process. Backends that are not
// enabled stay nil.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Ports     *ports.Allocator
	Manager   *manager.Manager
	Cache     *cache.Cache
	Store     *storage.Storage
	Publisher *storage.Publisher
	Queue     *queue.Queue
	DB        *database.DB
	Repo      *database.Repository
	Metrics   *metrics.Server
	Webhooks  *webhook.Service

	closers []func()
}

// PublishResult describes one published run
type PublishResult struct {
	Manifest    *models.Manifest
	Publication *storage.Publication
	Dispatched  int
}

// New connects the enabled backends and prepares the manager. The test
// suite is populated but nothing is discovered until tests are listed.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...manager.Option) (*App, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	a := &App{Config: cfg, Logger: logger}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			return nil, err
		}
		a.onClose(closerFunc(closer))
		logger.Infof("Tracing enabled, reporting to %s", cfg.Tracing.Endpoint)
	}

	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Launcher.DescriptorCacheTTL)
		if err != nil {
			return nil, err
		}
		a.Cache = c
		a.onClose(func() { _ = c.Close() })
		opts = append(opts, manager.WithDescriptorCache(c))
	}

	if cfg.Storage.Enabled {
		s, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		a.Store = s
		a.Publisher = storage.NewPublisher(s, "", logger)
	}

	if cfg.Queue.Enabled {
		q, err := queue.New(cfg.Queue, logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = q.Close() })
		if err := q.SetupDeadLetterQueue(); err != nil {
			return nil, err
		}
		a.Queue = q
	}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.onClose(db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		a.DB = db
		a.Repo = database.NewRepository(db, logger)
	}

	if cfg.Webhook.Enabled {
		a.Webhooks = webhook.NewService(cfg.Webhook, logger)
	}

	portLog := logger.WithField("component", "ports")
	a.Ports = ports.NewAllocator(ports.WithObserver(func(event string, port, inUse int) {
		metrics.RecordPortEvent(event, port, inUse)
		portLog.LogPortEvent(event, port, inUse)
	}))

	opts = append([]manager.Option{manager.WithLogger(logger), manager.WithPorts(a.Ports)}, opts...)
	a.Manager = manager.New(cfg.Launcher, opts...)
	if err := a.Manager.Init(); err != nil {
		return nil, err
	}
	if _, err := a.Manager.ApplySettings(); err != nil {
		return nil, err
	}
	if err := a.Manager.PopulateTestsuite(); err != nil {
		return nil, err
	}

	ready = true
	return a, nil
}

// StartMetrics serves /metrics in the background when enabled
func (a *App) StartMetrics() {
	if !a.Config.Metrics.Enabled || a.Metrics != nil {
		return
	}
	a.Metrics = metrics.NewServer(a.Config.Metrics.Port, a.Logger)
	go func() {
		if err := a.Metrics.Start(); err != nil {
			a.Logger.WithError(err).Error("Metrics server stopped")
		}
	}()
}

// Publish snapshots the generated tests as a new run and hands it to every
// enabled backend: the manifest cache, run history, object storage and the
// runner queue, in that order. Webhooks are notified last and their failures
// are only logged. An empty runID gets a fresh one.
func (a *App) Publish(ctx context.Context, runID string) (*PublishResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	log := a.Logger.WithRunID(runID)

	if a.Cache != nil {
		acquired, err := a.Cache.AcquireLock(ctx, "publish", publishLockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire publish lock: %w", err)
		}
		if !acquired {
			return nil, ErrPublishInProgress
		}
		defer func() {
			if err := a.Cache.ReleaseLock(context.WithoutCancel(ctx), "publish"); err != nil {
				log.WithError(err).Warn("Failed to release publish lock")
			}
		}()
	}

	span, ctx := tracing.StartSpan(ctx, "app.publish")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "run.id", runID)

	manifest, err := a.Manager.Manifest(ctx, runID)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	res := &PublishResult{Manifest: manifest}

	if a.Cache != nil {
		if err := a.Cache.SetManifest(ctx, runID, manifest.Tests); err != nil {
			metrics.RecordError("cache", "set_manifest")
			return nil, err
		}
	}

	if a.Repo != nil {
		if err := a.Repo.SaveManifest(ctx, manifest); err != nil {
			metrics.RecordError("database", "save_manifest")
			return nil, err
		}
	}

	if a.Publisher != nil {
		pub, err := a.Publisher.Publish(ctx, manifest, a.Config.Launcher.PrivateDir)
		if err != nil {
			metrics.RecordError("storage", "publish")
			return nil, err
		}
		res.Publication = pub
	}

	if a.Queue != nil {
		n, err := a.Queue.PublishRun(ctx, manifest)
		metrics.RecordDispatch(n)
		res.Dispatched = n
		if err != nil {
			metrics.RecordError("queue", "publish_run")
			return res, err
		}
	}

	if a.Webhooks != nil {
		if err := a.Webhooks.NotifyRunPublished(ctx, manifest.Summary()); err != nil {
			log.WithError(err).Warn("Run published but not every webhook was notified")
		}
	}

	runnable, skipped := manifest.Counts()
	log.WithFields(map[string]interface{}{
		"runnable":   runnable,
		"skipped":    skipped,
		"dispatched": res.Dispatched,
	}).Info("Run published")
	return res, nil
}

// Close releases every backend in reverse order of creation
func (a *App) Close() {
	if a.Metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Metrics.Shutdown(ctx); err != nil {
			a.Logger.WithError(err).Warn("Metrics server shutdown failed")
		}
		cancel()
		a.Metrics = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func closerFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}
