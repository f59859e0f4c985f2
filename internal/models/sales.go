package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Amount is a currency value. Malformed source values are carried as NaN
// and encode as JSON null.
type Amount float64

func (a Amount) MarshalJSON() ([]byte, error) {
	f := float64(a)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Amount(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

func (a Amount) Float64() float64 { return float64(a) }

type SalesRecord struct {
	Region        string `json:"region"`
	Country       string `json:"country"`
	ItemType      string `json:"itemType"`
	SalesChannel  string `json:"salesChannel"`
	OrderPriority string `json:"orderPriority"`
	OrderDate     string `json:"orderDate"`
	OrderID       string `json:"orderId"`
	ShipDate      string `json:"shipDate"`
	UnitsSold     int    `json:"unitsSold"`
	UnitPrice     Amount `json:"unitPrice"`
	UnitCost      Amount `json:"unitCost"`
	TotalRevenue  Amount `json:"totalRevenue"`
	TotalCost     Amount `json:"totalCost"`
	TotalProfit   Amount `json:"totalProfit"`

	// OrderedAt is OrderDate parsed at load time; zero when unparseable.
	OrderedAt time.Time `json:"-"`
}

type Dataset struct {
	Records    []SalesRecord
	Generation uint64
	Source     string
	LoadedAt   time.Time
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

const DefaultLimit = 100

type QuerySpec struct {
	Region        string
	Country       string
	ItemType      string
	SalesChannel  string
	OrderPriority string
	StartDate     *time.Time
	EndDate       *time.Time
	Offset        int
	// Limit nil means DefaultLimit; zero is a valid, empty page.
	Limit *int
}

func (q QuerySpec) EffectiveLimit() int {
	if q.Limit == nil {
		return DefaultLimit
	}
	return *q.Limit
}

// WithPage returns a copy of q positioned at offset with the given limit.
func (q QuerySpec) WithPage(offset, limit int) QuerySpec {
	q.Offset = offset
	q.Limit = &limit
	return q
}

// Filter returns q without pagination.
func (q QuerySpec) Filter() QuerySpec {
	q.Offset = 0
	q.Limit = nil
	return q
}

func (q QuerySpec) HasDateRange() bool {
	return q.StartDate != nil || q.EndDate != nil
}

type QueryResult struct {
	Data   []SalesRecord `json:"data"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type SummaryView struct {
	TotalRecords  int      `json:"totalRecords"`
	TotalRevenue  Amount   `json:"totalRevenue"`
	TotalProfit   Amount   `json:"totalProfit"`
	Regions       []string `json:"regions"`
	Countries     []string `json:"countries"`
	ItemTypes     []string `json:"itemTypes"`
	SalesChannels []string `json:"salesChannels"`
}

type GroupBy string

const (
	GroupByRegion   GroupBy = "region"
	GroupByItemType GroupBy = "itemType"
)

type GroupRollup struct {
	GroupBy GroupBy `json:"-"`
	Key     string  `json:"-"`
	Revenue Amount  `json:"revenue"`
	Profit  Amount  `json:"profit"`
	Count   int     `json:"count"`
}

// MarshalJSON names the key field after the grouping, e.g. {"region": "Asia", ...}.
func (g GroupRollup) MarshalJSON() ([]byte, error) {
	name := string(g.GroupBy)
	if name == "" {
		name = "key"
	}
	return json.Marshal(map[string]any{
		name:      g.Key,
		"revenue": g.Revenue,
		"profit":  g.Profit,
		"count":   g.Count,
	})
}

func (g *GroupRollup) UnmarshalJSON(data []byte) error {
	var raw struct {
		Region   *string `json:"region"`
		ItemType *string `json:"itemType"`
		Key      *string `json:"key"`
		Revenue  Amount  `json:"revenue"`
		Profit   Amount  `json:"profit"`
		Count    int     `json:"count"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Region != nil:
		g.GroupBy, g.Key = GroupByRegion, *raw.Region
	case raw.ItemType != nil:
		g.GroupBy, g.Key = GroupByItemType, *raw.ItemType
	case raw.Key != nil:
		g.Key = *raw.Key
	}
	g.Revenue, g.Profit, g.Count = raw.Revenue, raw.Profit, raw.Count
	return nil
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
	Avatar   string `json:"avatar,omitempty"`
}
