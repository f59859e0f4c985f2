// Package dataset owns the read-only sales snapshot parsed from the CSV file.
//
// A Loader is the only handle to the data. The first caller of Dataset (or
// Load) triggers the parse; concurrent callers wait on the same in-flight
// load. Reload parses the file again and swaps the snapshot atomically, so a
// reader that already holds a *models.Dataset keeps a consistent view.
// Builds never overlap: a first load racing a reload parses the file once,
// and generations are published in increasing order.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"sales-dashboard/internal/models"
	"sales-dashboard/internal/observability"
)

// ErrUnavailable wraps every failure to produce a dataset.
var ErrUnavailable = errors.New("dataset unavailable")

type LoadStats struct {
	Records         int           `json:"records"`
	Generation      uint64        `json:"generation"`
	LoadedAt        time.Time     `json:"loaded_at"`
	Duration        time.Duration `json:"duration"`
	MalformedFields int           `json:"malformed_fields"`
	FromCache       bool          `json:"from_cache"`
}

type source func(ctx context.Context) (parsed, error)

type parsed struct {
	records   []models.SalesRecord
	malformed int
	fromCache bool
}

type Option func(*Loader)

// WithStrict makes malformed numeric fields fail the load instead of
// becoming NaN (decimals) or zero (integers).
func WithStrict(strict bool) Option {
	return func(l *Loader) { l.strict = strict }
}

// WithCacheDir enables the gob snapshot cache in dir.
func WithCacheDir(dir string) Option {
	return func(l *Loader) { l.cacheDir = dir }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

type Loader struct {
	path     string
	strict   bool
	cacheDir string
	logger   *slog.Logger
	source   source

	group   singleflight.Group
	current atomic.Pointer[models.Dataset]

	// building serializes builds; generation and stats change only under it.
	building   sync.Mutex
	generation uint64

	mu    sync.RWMutex
	stats LoadStats
}

// NewLoader returns a loader for the CSV file at path. Nothing is read until
// the first call to Load, Dataset or Reload.
func NewLoader(path string, opts ...Option) *Loader {
	l := &Loader{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.source = l.readFile
	return l
}

// FromRecords returns a loader serving a copy of records. Reload re-serves
// the same records under a new generation.
func FromRecords(records []models.SalesRecord, opts ...Option) *Loader {
	l := &Loader{
		path:   "memory",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	snapshot := make([]models.SalesRecord, len(records))
	copy(snapshot, records)
	for i := range snapshot {
		if snapshot[i].OrderedAt.IsZero() {
			snapshot[i].OrderedAt, _ = ParseDate(snapshot[i].OrderDate)
		}
	}
	l.source = func(context.Context) (parsed, error) {
		out := make([]models.SalesRecord, len(snapshot))
		copy(out, snapshot)
		return parsed{records: out}, nil
	}
	return l
}

// Dataset returns the current snapshot, loading it on first use.
func (l *Loader) Dataset(ctx context.Context) (*models.Dataset, error) {
	if ds := l.current.Load(); ds != nil {
		return ds, nil
	}
	return l.Load(ctx)
}

// Load loads the dataset unless one is already being served.
func (l *Loader) Load(ctx context.Context) (*models.Dataset, error) {
	return l.do(ctx, "load", func(ctx context.Context) (*models.Dataset, error) {
		return l.build(ctx, false)
	})
}

// Reload parses the source again and replaces the served snapshot. On
// failure the previous snapshot, if any, stays in place.
func (l *Loader) Reload(ctx context.Context) (*models.Dataset, error) {
	return l.do(ctx, "reload", func(ctx context.Context) (*models.Dataset, error) {
		return l.build(ctx, true)
	})
}

func (l *Loader) Loaded() bool {
	return l.current.Load() != nil
}

func (l *Loader) Stats() LoadStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

func (l *Loader) Source() string {
	return l.path
}

func (l *Loader) do(ctx context.Context, key string, fn func(context.Context) (*models.Dataset, error)) (*models.Dataset, error) {
	// The shared load must not die with whichever caller happened to start it.
	loadCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		return fn(loadCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Dataset), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
}

// build parses the source and publishes the result. Unless replace is set,
// a snapshot published while waiting for the build lock is returned as is.
func (l *Loader) build(ctx context.Context, replace bool) (*models.Dataset, error) {
	l.building.Lock()
	defer l.building.Unlock()

	if ds := l.current.Load(); ds != nil && !replace {
		return ds, nil
	}

	ctx, span := observability.StartSpan(ctx, "dataset.load")
	defer span.End(l.logger)
	span.SetTag("source", l.path)

	start := time.Now()
	result, err := l.source(ctx)
	duration := time.Since(start)

	if err != nil {
		span.SetError(err)
		observability.RecordDatasetLoad(duration, 0, 0, err)
		l.logger.Error("dataset load failed", "source", l.path, "error", err, "duration", duration)
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, err
	}

	ds := &models.Dataset{
		Records:    result.records,
		Generation: l.generation + 1,
		Source:     l.path,
		LoadedAt:   time.Now(),
	}
	l.generation = ds.Generation
	l.current.Store(ds)

	l.mu.Lock()
	l.stats = LoadStats{
		Records:         len(ds.Records),
		Generation:      ds.Generation,
		LoadedAt:        ds.LoadedAt,
		Duration:        duration,
		MalformedFields: result.malformed,
		FromCache:       result.fromCache,
	}
	l.mu.Unlock()

	observability.RecordDatasetLoad(duration, len(ds.Records), ds.Generation, nil)

	if result.malformed > 0 {
		l.logger.Warn("dataset contains malformed numeric fields",
			"source", l.path,
			"malformed_fields", result.malformed,
		)
	}
	l.logger.Info("dataset loaded",
		"source", l.path,
		"records", len(ds.Records),
		"generation", ds.Generation,
		"from_cache", result.fromCache,
		"duration", duration,
	)

	return ds, nil
}
