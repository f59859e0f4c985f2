package handlers

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"sales-dashboard/internal/dataset"
	"sales-dashboard/internal/errors"
	"sales-dashboard/internal/middleware"
	"sales-dashboard/internal/models"
	"sales-dashboard/internal/observability"
	"sales-dashboard/internal/services"
)

const version = "1.0.0"

type APIHandlers struct {
	sales     *services.SalesService
	logger    *slog.Logger
	startedAt time.Time
}

func NewAPIHandlers(sales *services.SalesService, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		sales:     sales,
		logger:    logger,
		startedAt: time.Now(),
	}
}

func (h *APIHandlers) HandleSales(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	spec, err := ParseQuerySpec(r.URL.Query())
	if err != nil {
		errors.WriteError(w, h.logger, err, requestID)
		return
	}

	result, err := h.sales.Query(r.Context(), spec)
	if err != nil {
		h.writeServiceError(w, err, requestID)
		return
	}

	errors.WriteJSON(w, http.StatusOK, result)
}

func (h *APIHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sales.Summary(r.Context())
	if err != nil {
		h.writeServiceError(w, err, observability.GetRequestID(r.Context()))
		return
	}
	errors.WriteJSON(w, http.StatusOK, summary)
}

func (h *APIHandlers) HandleByRegion(w http.ResponseWriter, r *http.Request) {
	groups, err := h.sales.ByRegion(r.Context())
	if err != nil {
		h.writeServiceError(w, err, observability.GetRequestID(r.Context()))
		return
	}
	errors.WriteJSON(w, http.StatusOK, groups)
}

func (h *APIHandlers) HandleByItemType(w http.ResponseWriter, r *http.Request) {
	groups, err := h.sales.ByItemType(r.Context())
	if err != nil {
		h.writeServiceError(w, err, observability.GetRequestID(r.Context()))
		return
	}
	errors.WriteJSON(w, http.StatusOK, groups)
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().Format(time.RFC3339),
		"version":        version,
		"dataset_loaded": h.sales.Stats()["loaded"],
	}

	errors.WriteSuccessWithHeaders(w, healthData, map[string]string{"Cache-Control": "no-store"})
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.sales.Stats()
	stats["uptime_seconds"] = int64(time.Since(h.startedAt).Seconds())
	stats["goroutines"] = runtime.NumGoroutine()

	if proc, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfoWithContext(r.Context()); err == nil {
			stats["rss_bytes"] = mem.RSS
			stats["vms_bytes"] = mem.VMS
		}
		if cpu, err := proc.CPUPercentWithContext(r.Context()); err == nil {
			stats["cpu_percent"] = cpu
		}
	} else {
		h.logger.Debug("process stats unavailable", "error", err)
	}

	errors.WriteSuccess(w, stats)
}

// HandleReload re-reads the CSV file and swaps the served snapshot.
func (h *APIHandlers) HandleReload(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	ds, err := h.sales.Reload(r.Context())
	if err != nil {
		h.writeServiceError(w, err, requestID)
		return
	}

	errors.WriteSuccess(w, map[string]any{
		"generation": ds.Generation,
		"records":    ds.Len(),
		"loaded_at":  ds.LoadedAt,
	})
}

func (h *APIHandlers) HandleProtected(w http.ResponseWriter, r *http.Request) {
	user := ""
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		user = claims.Subject
	}
	errors.WriteJSON(w, http.StatusOK, map[string]any{
		"message":   "This is a protected endpoint",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "sales-dashboard",
		"user":      user,
	})
}

func (h *APIHandlers) writeServiceError(w http.ResponseWriter, err error, requestID string) {
	if stderrors.Is(err, dataset.ErrUnavailable) {
		errors.WriteError(w, h.logger, errors.ServiceUnavailableWrap(err, "Sales data is unavailable"), requestID)
		return
	}
	errors.WriteError(w, h.logger, errors.InternalWrap(err, "Failed to process sales data"), requestID)
}

// ParseQuerySpec reads the /sales query string. Empty values are treated as
// absent; malformed numbers and dates are validation errors.
func ParseQuerySpec(values url.Values) (models.QuerySpec, error) {
	spec := models.QuerySpec{
		Region:        values.Get("region"),
		Country:       values.Get("country"),
		ItemType:      values.Get("itemType"),
		SalesChannel:  values.Get("salesChannel"),
		OrderPriority: values.Get("orderPriority"),
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"startDate", &spec.StartDate},
		{"endDate", &spec.EndDate},
	} {
		raw := values.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := dataset.ParseDate(raw)
		if err != nil {
			return spec, errors.ValidationWrap(err, fmt.Sprintf("%s must be a date (YYYY-MM-DD, M/D/YYYY or RFC3339)", p.name))
		}
		*p.dst = &t
	}

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return spec, errors.Validation("limit must be a non-negative integer")
		}
		spec.Limit = &limit
	}

	if raw := values.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return spec, errors.Validation("offset must be a non-negative integer")
		}
		spec.Offset = offset
	}

	return spec, nil
}
