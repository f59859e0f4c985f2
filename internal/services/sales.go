package services

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"sales-dashboard/internal/dataset"
	"sales-dashboard/internal/models"
	"sales-dashboard/internal/observability"
)

// Source is the part of dataset.Loader the service depends on.
type Source interface {
	Dataset(ctx context.Context) (*models.Dataset, error)
	Reload(ctx context.Context) (*models.Dataset, error)
	Loaded() bool
	Stats() dataset.LoadStats
}

type aggregates struct {
	ds         *models.Dataset
	summary    models.SummaryView
	byRegion   []models.GroupRollup
	byItemType []models.GroupRollup
	computedAt time.Time
}

// SalesService answers queries and rollups over the loader's current
// snapshot. Rollups are computed once per snapshot.
type SalesService struct {
	source Source
	logger *slog.Logger

	mu      sync.Mutex
	cached  atomic.Pointer[aggregates]
	queries atomic.Int64
}

func NewSalesService(source Source, logger *slog.Logger) *SalesService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SalesService{
		source: source,
		logger: logger,
	}
}

func (s *SalesService) Query(ctx context.Context, spec models.QuerySpec) (models.QueryResult, error) {
	ctx, span := observability.StartSpan(ctx, "sales.query")
	defer span.End(s.logger)

	ds, err := s.source.Dataset(ctx)
	if err != nil {
		span.SetError(err)
		return models.QueryResult{}, err
	}

	result := Query(ds, spec)
	s.queries.Add(1)
	observability.RecordQuery(result.Total)

	span.SetTag("total", strconv.Itoa(result.Total))
	span.SetTag("generation", strconv.FormatUint(ds.Generation, 10))
	return result, nil
}

func (s *SalesService) Summary(ctx context.Context) (models.SummaryView, error) {
	agg, err := s.aggregates(ctx)
	if err != nil {
		return models.SummaryView{}, err
	}
	view := agg.summary
	view.Regions = slices.Clone(view.Regions)
	view.Countries = slices.Clone(view.Countries)
	view.ItemTypes = slices.Clone(view.ItemTypes)
	view.SalesChannels = slices.Clone(view.SalesChannels)
	return view, nil
}

func (s *SalesService) ByRegion(ctx context.Context) ([]models.GroupRollup, error) {
	agg, err := s.aggregates(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(agg.byRegion), nil
}

func (s *SalesService) ByItemType(ctx context.Context) ([]models.GroupRollup, error) {
	agg, err := s.aggregates(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(agg.byItemType), nil
}

// Reload replaces the snapshot. Cached rollups are recomputed on next use.
func (s *SalesService) Reload(ctx context.Context) (*models.Dataset, error) {
	ds, err := s.source.Reload(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("dataset reloaded", "generation", ds.Generation, "records", ds.Len())
	return ds, nil
}

func (s *SalesService) aggregates(ctx context.Context) (*aggregates, error) {
	ds, err := s.source.Dataset(ctx)
	if err != nil {
		return nil, err
	}

	if agg := s.cached.Load(); agg != nil && agg.ds == ds {
		return agg, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if agg := s.cached.Load(); agg != nil && agg.ds == ds {
		return agg, nil
	}

	_, span := observability.StartSpan(ctx, "sales.aggregate")
	defer span.End(s.logger)
	span.SetTag("generation", strconv.FormatUint(ds.Generation, 10))

	agg := &aggregates{
		ds:         ds,
		summary:    Summarize(ds),
		byRegion:   RollupByRegion(ds),
		byItemType: RollupByItemType(ds),
		computedAt: time.Now(),
	}
	s.cached.Store(agg)
	return agg, nil
}

// Stats reports loader and service counters for the admin endpoint.
func (s *SalesService) Stats() map[string]any {
	load := s.source.Stats()
	stats := map[string]any{
		"loaded":           s.source.Loaded(),
		"record_count":     load.Records,
		"generation":       load.Generation,
		"last_loaded":      load.LoadedAt,
		"load_duration_ms": load.Duration.Milliseconds(),
		"malformed_fields": load.MalformedFields,
		"from_cache":       load.FromCache,
		"queries_served":   s.queries.Load(),
	}
	if agg := s.cached.Load(); agg != nil {
		stats["regions"] = len(agg.byRegion)
		stats["item_types"] = len(agg.byItemType)
		stats["countries"] = len(agg.summary.Countries)
		stats["aggregated_at"] = agg.computedAt
	}
	return stats
}
