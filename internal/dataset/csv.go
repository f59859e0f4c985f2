package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sales-dashboard/internal/models"
)

const (
	batchSize  = 10000
	maxWorkers = 10
)

const (
	colRegion = iota
	colCountry
	colItemType
	colSalesChannel
	colOrderPriority
	colOrderDate
	colOrderID
	colShipDate
	colUnitsSold
	colUnitPrice
	colUnitCost
	colTotalRevenue
	colTotalCost
	colTotalProfit
	numColumns
)

var columnNames = [numColumns]string{
	"Region",
	"Country",
	"Item Type",
	"Sales Channel",
	"Order Priority",
	"Order Date",
	"Order ID",
	"Ship Date",
	"Units Sold",
	"Unit Price",
	"Unit Cost",
	"Total Revenue",
	"Total Cost",
	"Total Profit",
}

type columnIndex [numColumns]int

// MalformedFieldError reports a numeric field that failed to parse in strict mode.
type MalformedFieldError struct {
	Row    int
	Column string
	Value  string
}

func (e *MalformedFieldError) Error() string {
	return fmt.Sprintf("row %d: column %q: malformed number %q", e.Row, e.Column, e.Value)
}

var dateLayouts = []string{
	"1/2/2006",
	"2006-01-02",
	time.RFC3339,
}

// ParseDate accepts the dataset's M/D/YYYY form as well as ISO dates and
// RFC3339 timestamps. The result is truncated to a UTC calendar day.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

func (l *Loader) readFile(ctx context.Context) (parsed, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return parsed{}, fmt.Errorf("%w: stat %s: %w", ErrUnavailable, l.path, err)
	}

	if l.cacheDir != "" {
		if cached, err := l.loadFromCache(info.ModTime()); err == nil {
			return parsed{records: cached.Records, malformed: cached.Malformed, fromCache: true}, nil
		}
	}

	file, err := os.Open(l.path)
	if err != nil {
		return parsed{}, fmt.Errorf("%w: open file: %w", ErrUnavailable, err)
	}
	defer file.Close()

	result, err := parseCSV(ctx, file, l.strict)
	if err != nil {
		return parsed{}, err
	}

	if l.cacheDir != "" {
		if err := l.saveToCache(result, info.ModTime()); err != nil {
			l.logger.Warn("failed to save dataset cache", "error", err)
		}
	}

	return result, nil
}

func parseCSV(ctx context.Context, r io.Reader, strict bool) (parsed, error) {
	reader := csv.NewReader(bufio.NewReaderSize(r, 1024*1024))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return parsed{}, fmt.Errorf("%w: empty file", ErrUnavailable)
	}
	if err != nil {
		return parsed{}, fmt.Errorf("%w: read header: %w", ErrUnavailable, err)
	}

	cols, err := mapColumns(header)
	if err != nil {
		return parsed{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return parsed{}, fmt.Errorf("%w: read rows: %w", ErrUnavailable, err)
	}

	records := make([]models.SalesRecord, len(rows))
	var malformed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				// Header is line 1.
				rec, bad, err := parseRow(rows[i], cols, strict, i+2)
				if err != nil {
					return err
				}
				records[i] = rec
				if bad > 0 {
					malformed.Add(int64(bad))
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return parsed{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return parsed{records: records, malformed: int(malformed.Load())}, nil
}

func mapColumns(header []string) (columnIndex, error) {
	var cols columnIndex
	positions := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		positions[strings.ToLower(name)] = i
	}

	var missing []string
	for c, name := range columnNames {
		pos, ok := positions[strings.ToLower(name)]
		if !ok {
			missing = append(missing, name)
			continue
		}
		cols[c] = pos
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRow(row []string, cols columnIndex, strict bool, line int) (models.SalesRecord, int, error) {
	field := func(c int) string { return strings.TrimSpace(row[cols[c]]) }

	rec := models.SalesRecord{
		Region:        field(colRegion),
		Country:       field(colCountry),
		ItemType:      field(colItemType),
		SalesChannel:  field(colSalesChannel),
		OrderPriority: field(colOrderPriority),
		OrderDate:     field(colOrderDate),
		OrderID:       field(colOrderID),
		ShipDate:      field(colShipDate),
	}
	if t, err := ParseDate(rec.OrderDate); err == nil {
		rec.OrderedAt = t
	}

	bad := 0
	units, err := strconv.Atoi(field(colUnitsSold))
	if err != nil {
		if strict {
			return rec, 0, &MalformedFieldError{Row: line, Column: columnNames[colUnitsSold], Value: field(colUnitsSold)}
		}
		bad++
		units = 0
	}
	rec.UnitsSold = units

	amounts := []struct {
		col int
		dst *models.Amount
	}{
		{colUnitPrice, &rec.UnitPrice},
		{colUnitCost, &rec.UnitCost},
		{colTotalRevenue, &rec.TotalRevenue},
		{colTotalCost, &rec.TotalCost},
		{colTotalProfit, &rec.TotalProfit},
	}
	for _, a := range amounts {
		v, err := strconv.ParseFloat(field(a.col), 64)
		if err != nil {
			if strict {
				return rec, 0, &MalformedFieldError{Row: line, Column: columnNames[a.col], Value: field(a.col)}
			}
			bad++
			v = math.NaN()
		}
		*a.dst = models.Amount(v)
	}

	return rec, bad, nil
}
