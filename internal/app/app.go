// Package app assembles the catalog, planner, observability and HTTP
// components of the planning service and manages their lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/h0rn3t/timescaledb/internal/api/http"
	"github.com/h0rn3t/timescaledb/internal/catalog"
	"github.com/h0rn3t/timescaledb/internal/config"
	"github.com/h0rn3t/timescaledb/internal/observability"
	"github.com/h0rn3t/timescaledb/internal/query/planner"
	"github.com/h0rn3t/timescaledb/internal/server"
	"github.com/h0rn3t/timescaledb/internal/storage"
)

const (
	// statsWindow is how long a column's qual statistics survive without use.
	statsWindow = time.Hour
	// statsPruneInterval is how often idle qual statistics are dropped.
	statsPruneInterval = 5 * time.Minute
)

// App owns the shared resources of the planning service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	catalog *catalog.SQLiteCatalog
	cache   *catalog.CachedReader // nil when caching is disabled
	planner *planner.Planner

	registry *prometheus.Registry
	metrics  *observability.Metrics
	stats    *observability.QualStats

	closeOnce sync.Once
	closeErr  error
}

// New resolves and validates cfg, opens the catalog and builds the planner.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	cat, err := catalog.NewSQLiteCatalog(cfg.Catalog.Path, logger)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, catalog: cat}

	var reader catalog.Reader = cat
	if cfg.Catalog.CacheSize > 0 {
		a.cache, err = catalog.NewCachedReader(cat, cfg.Catalog.CacheSize)
		if err != nil {
			cat.Close()
			return nil, err
		}
		reader = a.cache
	}
	a.planner = planner.NewPlanner(reader, cfg.Planner, cfg.Cost, logger)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)
	a.stats = observability.NewQualStats(statsWindow)

	logger.Info("catalog opened", "path", cfg.Catalog.Path, "cache_size", cfg.Catalog.CacheSize)
	return a, nil
}

// Planner returns the statement planner.
func (a *App) Planner() *planner.Planner {
	return a.planner
}

// Stats returns the qual statistics tracker.
func (a *App) Stats() *observability.QualStats {
	return a.stats
}

// Handler returns the HTTP API, wrapped with extra middleware.
func (a *App) Handler(middleware ...func(http.Handler) http.Handler) http.Handler {
	return httpapi.NewRouter(httpapi.RouterConfig{
		Planner:    a.planner,
		Metrics:    a.metrics,
		Stats:      a.stats,
		Gatherer:   a.registry,
		Logger:     a.logger,
		Middleware: middleware,
	})
}

// Serve runs the HTTP API until ctx is done or a termination signal
// arrives, then releases every resource.
func (a *App) Serve(ctx context.Context) error {
	sm := server.NewShutdownManager(server.DefaultShutdownConfig(), a.logger)
	sm.RegisterCloser(server.CloserFunc(a.Close))

	go a.pruneStats(sm.Done())
	return server.Serve(ctx, a.cfg.HTTP, a.Handler(sm.Middleware), sm, a.logger)
}

func (a *App) pruneStats(done <-chan struct{}) {
	ticker := time.NewTicker(statsPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			a.stats.Prune()
		}
	}
}

// SnapshotResult summarizes a snapshot import or export.
type SnapshotResult struct {
	Tables int
	Chunks int
	Bytes  int
}

// Import registers every table and chunk of the snapshot file at
// objectPath into the catalog.
func (a *App) Import(ctx context.Context, store storage.ObjectStorage, objectPath string) (SnapshotResult, error) {
	data, err := store.Get(ctx, objectPath)
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("failed to read snapshot %s: %w", objectPath, err)
	}
	f, err := catalog.DecodeSnapshotFile(objectPath, data)
	if err != nil {
		return SnapshotResult{}, err
	}
	if err := f.Load(ctx, a.catalog); err != nil {
		return SnapshotResult{}, err
	}
	if a.cache != nil {
		a.cache.Purge()
	}

	res := SnapshotResult{Tables: len(f.Tables), Chunks: len(f.Chunks), Bytes: len(data)}
	a.logger.Info("snapshot imported", "path", objectPath, "tables", res.Tables, "chunks", res.Chunks)
	return res, nil
}

// Export writes a snapshot of the whole catalog to objectPath. The file
// format follows the path extension.
func (a *App) Export(ctx context.Context, store storage.ObjectStorage, objectPath string) (SnapshotResult, error) {
	names, err := a.catalog.TableNames(ctx)
	if err != nil {
		return SnapshotResult{}, err
	}
	snap, err := catalog.LoadSnapshot(ctx, a.catalog, names...)
	if err != nil {
		return SnapshotResult{}, err
	}
	f := snap.File()
	data, err := catalog.EncodeSnapshotFile(objectPath, f)
	if err != nil {
		return SnapshotResult{}, err
	}
	if err := store.Put(ctx, objectPath, data); err != nil {
		return SnapshotResult{}, fmt.Errorf("failed to write snapshot %s: %w", objectPath, err)
	}

	res := SnapshotResult{Tables: len(f.Tables), Chunks: len(f.Chunks), Bytes: len(data)}
	a.logger.Info("snapshot exported", "path", objectPath, "tables", res.Tables, "chunks", res.Chunks)
	return res, nil
}

// Close releases the catalog. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.catalog.Close()
	})
	return a.closeErr
}
