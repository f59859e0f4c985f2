package services

import "sales-dashboard/internal/models"

// Summarize totals the whole dataset. Distinct category lists keep the
// order in which each value first appears.
func Summarize(ds *models.Dataset) models.SummaryView {
	view := models.SummaryView{
		Regions:       []string{},
		Countries:     []string{},
		ItemTypes:     []string{},
		SalesChannels: []string{},
	}
	if ds == nil {
		return view
	}

	regions := newDistinct()
	countries := newDistinct()
	itemTypes := newDistinct()
	channels := newDistinct()

	var revenue, profit float64
	for i := range ds.Records {
		rec := &ds.Records[i]
		revenue += rec.TotalRevenue.Float64()
		profit += rec.TotalProfit.Float64()
		regions.add(rec.Region)
		countries.add(rec.Country)
		itemTypes.add(rec.ItemType)
		channels.add(rec.SalesChannel)
	}

	view.TotalRecords = len(ds.Records)
	view.TotalRevenue = models.Amount(revenue)
	view.TotalProfit = models.Amount(profit)
	view.Regions = regions.values
	view.Countries = countries.values
	view.ItemTypes = itemTypes.values
	view.SalesChannels = channels.values
	return view
}

func RollupByRegion(ds *models.Dataset) []models.GroupRollup {
	return rollup(ds, models.GroupByRegion, func(r *models.SalesRecord) string { return r.Region })
}

func RollupByItemType(ds *models.Dataset) []models.GroupRollup {
	return rollup(ds, models.GroupByItemType, func(r *models.SalesRecord) string { return r.ItemType })
}

func rollup(ds *models.Dataset, by models.GroupBy, key func(*models.SalesRecord) string) []models.GroupRollup {
	groups := []models.GroupRollup{}
	if ds == nil {
		return groups
	}

	index := make(map[string]int)
	for i := range ds.Records {
		rec := &ds.Records[i]
		k := key(rec)
		pos, ok := index[k]
		if !ok {
			pos = len(groups)
			index[k] = pos
			groups = append(groups, models.GroupRollup{GroupBy: by, Key: k})
		}
		g := &groups[pos]
		g.Revenue += rec.TotalRevenue
		g.Profit += rec.TotalProfit
		g.Count++
	}
	return groups
}

type distinct struct {
	seen   map[string]struct{}
	values []string
}

func newDistinct() *distinct {
	return &distinct{seen: make(map[string]struct{}), values: []string{}}
}

func (d *distinct) add(v string) {
	if _, ok := d.seen[v]; ok {
		return
	}
	d.seen[v] = struct{}{}
	d.values = append(d.values, v)
}
