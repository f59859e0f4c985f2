package handlers

import (
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/starfederation/datastar-go/datastar"

	"sales-dashboard/internal/models"
	"sales-dashboard/internal/services"
)

const maxTableRows = 50

var rollupTableTemplate = template.Must(template.New("rollupTable").Funcs(template.FuncMap{
	"money": formatMoney,
}).Parse(`
<div id="{{.ID}}">
<table class="modern-table">
<thead><tr><th>{{.Label}}</th><th>Revenue</th><th>Profit</th><th>Orders</th></tr></thead>
<tbody>
{{range .Rows}}<tr>
<td>{{.Key}}</td>
<td><strong>{{money .Revenue}}</strong></td>
<td>{{money .Profit}}</td>
<td>{{.Count}}</td>
</tr>{{end}}
</tbody>
</table>
</div>`))

var summaryTemplate = template.Must(template.New("summary").Funcs(template.FuncMap{
	"money": formatMoney,
}).Parse(`
<div id="summary-content" class="summary-grid">
<div class="stat"><span class="label">Records</span><span class="value">{{.TotalRecords}}</span></div>
<div class="stat"><span class="label">Revenue</span><span class="value">{{money .TotalRevenue}}</span></div>
<div class="stat"><span class="label">Profit</span><span class="value">{{money .TotalProfit}}</span></div>
<div class="stat"><span class="label">Regions</span><span class="value">{{len .Regions}}</span></div>
<div class="stat"><span class="label">Countries</span><span class="value">{{len .Countries}}</span></div>
</div>`))

func formatMoney(a models.Amount) string {
	f := a.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "n/a"
	}
	return "$" + decimal.NewFromFloat(f).StringFixed(2)
}

type rollupTable struct {
	ID    string
	Label string
	Rows  []models.GroupRollup
}

type SSEHandlers struct {
	sales  *services.SalesService
	logger *slog.Logger
}

func NewSSEHandlers(sales *services.SalesService, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		sales:  sales,
		logger: logger,
	}
}

func (h *SSEHandlers) renderRollupTable(id, label string, rows []models.GroupRollup) (string, error) {
	if len(rows) > maxTableRows {
		rows = rows[:maxTableRows]
	}

	var buf strings.Builder
	err := rollupTableTemplate.Execute(&buf, rollupTable{ID: id, Label: label, Rows: rows})
	return buf.String(), err
}

func (h *SSEHandlers) renderSummary(summary models.SummaryView) (string, error) {
	var buf strings.Builder
	err := summaryTemplate.Execute(&buf, summary)
	return buf.String(), err
}

func (h *SSEHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)
	h.patchSummary(r.Context(), sse)
}

func (h *SSEHandlers) HandleByRegion(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)
	h.patchRollup(r.Context(), sse, models.GroupByRegion)
}

func (h *SSEHandlers) HandleByItemType(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)
	h.patchRollup(r.Context(), sse, models.GroupByItemType)
}

func (h *SSEHandlers) HandleRefreshAll(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	if !h.patchSummary(r.Context(), sse) {
		return
	}
	if !h.patchRollup(r.Context(), sse, models.GroupByRegion) {
		return
	}
	h.patchRollup(r.Context(), sse, models.GroupByItemType)
}

func (h *SSEHandlers) patchSummary(ctx context.Context, sse *datastar.ServerSentEventGenerator) bool {
	summary, err := h.sales.Summary(ctx)
	if err != nil {
		h.patchError(sse, "summary-content", err)
		return false
	}

	html, err := h.renderSummary(summary)
	if err != nil {
		h.logger.Error("render summary", "error", err)
		return false
	}
	if err := sse.PatchElements(html); err != nil {
		h.logger.Debug("patch summary", "error", err)
		return false
	}

	signals, err := json.Marshal(map[string]any{"summary": summary})
	if err != nil {
		h.logger.Error("marshal summary signals", "error", err)
		return false
	}
	return sse.PatchSignals(signals) == nil
}

func (h *SSEHandlers) patchRollup(ctx context.Context, sse *datastar.ServerSentEventGenerator, by models.GroupBy) bool {
	var (
		rows           []models.GroupRollup
		err            error
		id, label, sig string
	)
	switch by {
	case models.GroupByRegion:
		rows, err = h.sales.ByRegion(ctx)
		id, label, sig = "regions-content", "Region", "regionsData"
	default:
		rows, err = h.sales.ByItemType(ctx)
		id, label, sig = "item-types-content", "Item Type", "itemTypesData"
	}
	if err != nil {
		h.patchError(sse, id, err)
		return false
	}

	html, err := h.renderRollupTable(id, label, rows)
	if err != nil {
		h.logger.Error("render rollup table", "group_by", by, "error", err)
		return false
	}
	if err := sse.PatchElements(html); err != nil {
		h.logger.Debug("patch rollup", "error", err)
		return false
	}

	signals, err := json.Marshal(map[string]any{sig: rows})
	if err != nil {
		h.logger.Error("marshal rollup signals", "group_by", by, "error", err)
		return false
	}
	return sse.PatchSignals(signals) == nil
}

func (h *SSEHandlers) patchError(sse *datastar.ServerSentEventGenerator, id string, err error) {
	h.logger.Warn("sse data unavailable", "target", id, "error", err)
	sse.PatchElements(`<div id="` + template.HTMLEscapeString(id) + `" class="error">Sales data is unavailable</div>`)
}
