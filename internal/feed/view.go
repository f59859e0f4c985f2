package feed

import (
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"sales-dashboard/internal/models"
)

// Point is one labelled value of a chart series.
type Point struct {
	Label string
	Value decimal.Decimal
}

// View is the analytics view-model over the retained records. Category
// series keep first-seen order; MonthlyRevenue is chronological.
type View struct {
	Records          int
	TotalRevenue     decimal.Decimal
	TotalProfit      decimal.Decimal
	TotalUnits       int64
	RevenueByRegion  []Point
	UnitsByItemType  []Point
	RevenueByChannel []Point
	MonthlyRevenue   []Point
	ProfitByRegion   []Point
}

// BuildView sums the records into the view-model. Currency values are
// rounded to cents; NaN amounts are skipped.
func BuildView(records []models.SalesRecord) View {
	var (
		v         = View{Records: len(records)}
		revenue   decimal.Decimal
		profit    decimal.Decimal
		byRegion  = newSeries()
		units     = newSeries()
		byChannel = newSeries()
		monthly   = newSeries()
		profitReg = newSeries()
	)

	for i := range records {
		rec := &records[i]
		rev, revOK := toDecimal(rec.TotalRevenue)
		prof, profOK := toDecimal(rec.TotalProfit)

		v.TotalUnits += int64(rec.UnitsSold)
		units.add(rec.ItemType, decimal.NewFromInt(int64(rec.UnitsSold)))

		if revOK {
			revenue = revenue.Add(rev)
			byRegion.add(rec.Region, rev)
			byChannel.add(rec.SalesChannel, rev)
			if !rec.OrderedAt.IsZero() {
				monthly.add(rec.OrderedAt.Format("2006-01"), rev)
			}
		}
		if profOK {
			profit = profit.Add(prof)
			profitReg.add(rec.Region, prof)
		}
	}

	v.TotalRevenue = revenue.Round(2)
	v.TotalProfit = profit.Round(2)
	v.RevenueByRegion = byRegion.points(2)
	v.UnitsByItemType = units.points(0)
	v.RevenueByChannel = byChannel.points(2)
	v.ProfitByRegion = profitReg.points(2)

	v.MonthlyRevenue = monthly.points(2)
	slices.SortFunc(v.MonthlyRevenue, func(a, b Point) int {
		return strings.Compare(a.Label, b.Label)
	})
	return v
}

func toDecimal(a models.Amount) (decimal.Decimal, bool) {
	f := a.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(f), true
}

type series struct {
	index map[string]int
	items []Point
}

func newSeries() *series {
	return &series{index: make(map[string]int)}
}

func (s *series) add(label string, value decimal.Decimal) {
	if i, ok := s.index[label]; ok {
		s.items[i].Value = s.items[i].Value.Add(value)
		return
	}
	s.index[label] = len(s.items)
	s.items = append(s.items, Point{Label: label, Value: value})
}

func (s *series) points(places int32) []Point {
	out := make([]Point, len(s.items))
	for i, p := range s.items {
		out[i] = Point{Label: p.Label, Value: p.Value.Round(places)}
	}
	return out
}
