package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-dashboard/internal/models"
)

const header = "Region,Country,Item Type,Sales Channel,Order Priority,Order Date,Order ID,Ship Date,Units Sold,Unit Price,Unit Cost,Total Revenue,Total Cost,Total Profit\n"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ParsesByHeaderName(t *testing.T) {
	// Columns deliberately out of the usual order.
	content := "Order ID,Total Profit,Region,Country,Item Type,Sales Channel,Order Priority,Order Date,Ship Date,Units Sold,Unit Price,Unit Cost,Total Revenue,Total Cost\n" +
		"100,50.5,Europe,Norway,Cereal,Online,H,3/14/2015,3/20/2015,10,20.5,15.45,205,154.5\n"
	path := createTempCSV(t, content)

	l := NewLoader(path, WithLogger(quietLogger()))
	ds, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())

	rec := ds.Records[0]
	assert.Equal(t, "Europe", rec.Region)
	assert.Equal(t, "Norway", rec.Country)
	assert.Equal(t, "Cereal", rec.ItemType)
	assert.Equal(t, "Online", rec.SalesChannel)
	assert.Equal(t, "H", rec.OrderPriority)
	assert.Equal(t, "3/14/2015", rec.OrderDate)
	assert.Equal(t, "100", rec.OrderID)
	assert.Equal(t, 10, rec.UnitsSold)
	assert.Equal(t, models.Amount(205), rec.TotalRevenue)
	assert.Equal(t, models.Amount(50.5), rec.TotalProfit)
	assert.Equal(t, time.Date(2015, 3, 14, 0, 0, 0, 0, time.UTC), rec.OrderedAt)
	assert.Equal(t, uint64(1), ds.Generation)
	assert.True(t, l.Loaded())
}

func TestLoad_PreservesFileOrderAcrossBatches(t *testing.T) {
	var b strings.Builder
	b.WriteString(header)
	n := batchSize*2 + 17
	for i := range n {
		fmt.Fprintf(&b, "Asia,Japan,Fruits,Offline,L,1/1/2014,%d,1/2/2014,1,1,1,1,1,0\n", i)
	}
	path := createTempCSV(t, b.String())

	ds, err := NewLoader(path, WithLogger(quietLogger())).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, n, ds.Len())
	for i, rec := range ds.Records {
		if rec.OrderID != fmt.Sprint(i) {
			t.Fatalf("record %d has order id %s", i, rec.OrderID)
		}
	}
}

func TestLoad_PermissiveMalformedNumbers(t *testing.T) {
	content := header +
		"Asia,Japan,Fruits,Offline,L,1/1/2014,1,1/2/2014,abc,9.33,6.92,oops,69.2,24.1\n"
	l := NewLoader(createTempCSV(t, content), WithLogger(quietLogger()))

	ds, err := l.Load(context.Background())
	require.NoError(t, err)

	rec := ds.Records[0]
	assert.Equal(t, 0, rec.UnitsSold)
	assert.True(t, math.IsNaN(rec.TotalRevenue.Float64()))
	assert.Equal(t, models.Amount(24.1), rec.TotalProfit)
	assert.Equal(t, 2, l.Stats().MalformedFields)
}

func TestLoad_StrictRejectsMalformedNumbers(t *testing.T) {
	content := header +
		"Asia,Japan,Fruits,Offline,L,1/1/2014,1,1/2/2014,10,9.33,6.92,93.3,69.2,24.1\n" +
		"Asia,Japan,Fruits,Offline,L,1/1/2014,2,1/2/2014,10,9.33,6.92,oops,69.2,24.1\n"
	l := NewLoader(createTempCSV(t, content), WithStrict(true), WithLogger(quietLogger()))

	_, err := l.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	var fieldErr *MalformedFieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, 3, fieldErr.Row)
	assert.Equal(t, "Total Revenue", fieldErr.Column)
	assert.False(t, l.Loaded())
}

func TestLoad_StructuralFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"missing column", "Region,Country\nAsia,Japan\n"},
		{"wrong field count", header + "Asia,Japan\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(createTempCSV(t, tt.content), WithLogger(quietLogger()))
			ds, err := l.Load(context.Background())
			assert.Nil(t, ds)
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.False(t, l.Loaded())
		})
	}

	t.Run("missing file", func(t *testing.T) {
		l := NewLoader(filepath.Join(t.TempDir(), "nope.csv"), WithLogger(quietLogger()))
		_, err := l.Dataset(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestLoad_HeaderOnlyIsEmptyDataset(t *testing.T) {
	ds, err := NewLoader(createTempCSV(t, header), WithLogger(quietLogger())).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
}

func TestLoad_FailureIsNotCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.csv")
	l := NewLoader(path, WithLogger(quietLogger()))

	_, err := l.Dataset(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)

	require.NoError(t, os.WriteFile(path, []byte(header+"Asia,Japan,Fruits,Offline,L,1/1/2014,1,1/2/2014,1,1,1,1,1,0\n"), 0o644))

	ds, err := l.Dataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
}

func TestDataset_ConcurrentFirstCallersShareOneLoad(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	l := FromRecords(nil, WithLogger(quietLogger()))
	l.source = func(context.Context) (parsed, error) {
		calls.Add(1)
		<-release
		return parsed{records: []models.SalesRecord{{OrderID: "1"}}}, nil
	}

	const callers = 20
	var wg sync.WaitGroup
	results := make([]*models.Dataset, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ds, err := l.Dataset(context.Background())
			assert.NoError(t, err)
			results[i] = ds
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, ds := range results {
		assert.Same(t, results[0], ds)
	}
}

func TestDataset_CallerCancellationDoesNotAbortLoad(t *testing.T) {
	release := make(chan struct{})
	l := FromRecords(nil, WithLogger(quietLogger()))
	l.source = func(ctx context.Context) (parsed, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return parsed{}, err
		}
		return parsed{records: []models.SalesRecord{{OrderID: "1"}}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := l.Dataset(ctx)
		errCh <- err
	}()

	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	ds, err := l.Dataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
}

func TestReload_SwapsSnapshotAndBumpsGeneration(t *testing.T) {
	path := createTempCSV(t, header+"Asia,Japan,Fruits,Offline,L,1/1/2014,1,1/2/2014,1,1,1,1,1,0\n")
	l := NewLoader(path, WithLogger(quietLogger()))

	first, err := l.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(header+
		"Asia,Japan,Fruits,Offline,L,1/1/2014,1,1/2/2014,1,1,1,1,1,0\n"+
		"Europe,France,Meat,Online,H,2/1/2014,2,2/2/2014,1,1,1,1,1,0\n"), 0o644))

	second, err := l.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first.Len(), "held snapshot must not change")
	assert.Equal(t, 2, second.Len())
	assert.Equal(t, first.Generation+1, second.Generation)

	current, err := l.Dataset(context.Background())
	require.NoError(t, err)
	assert.Same(t, second, current)
	assert.Equal(t, second.Generation, l.Stats().Generation)
}

func TestReload_FailureKeepsPreviousSnapshot(t *testing.T) {
	path := createTempCSV(t, header+"Asia,Japan,Fruits,Offline,L,1/1/2014,1,1/2/2014,1,1,1,1,1,0\n")
	l := NewLoader(path, WithLogger(quietLogger()))

	first, err := l.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	_, err = l.Reload(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)

	current, err := l.Dataset(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, current)
}

func TestLoad_WaitsForRunningReload(t *testing.T) {
	var parses atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	l := FromRecords(nil, WithLogger(quietLogger()))
	l.source = func(context.Context) (parsed, error) {
		parses.Add(1)
		entered <- struct{}{}
		<-release
		return parsed{records: []models.SalesRecord{{OrderID: "1"}}}, nil
	}

	reloaded := make(chan *models.Dataset, 1)
	go func() {
		ds, err := l.Reload(context.Background())
		assert.NoError(t, err)
		reloaded <- ds
	}()
	<-entered

	loaded := make(chan *models.Dataset, 1)
	go func() {
		ds, err := l.Load(context.Background())
		assert.NoError(t, err)
		loaded <- ds
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.Same(t, <-reloaded, <-loaded)
	assert.Equal(t, int32(1), parses.Load())
	assert.Equal(t, uint64(1), l.Stats().Generation)
}

func TestLoadAndReload_GenerationNeverGoesBack(t *testing.T) {
	var parses atomic.Int32
	l := FromRecords(nil, WithLogger(quietLogger()))
	l.source = func(context.Context) (parsed, error) {
		parses.Add(1)
		time.Sleep(time.Millisecond)
		return parsed{records: []models.SalesRecord{{OrderID: "1"}}}, nil
	}

	stop := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		var last uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			if ds := l.current.Load(); ds != nil {
				assert.GreaterOrEqual(t, ds.Generation, last)
				last = ds.Generation
			}
			time.Sleep(50 * time.Microsecond)
		}
	}()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = l.Load(context.Background())
			} else {
				_, err = l.Reload(context.Background())
			}
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(stop)
	<-watched

	ds, err := l.Dataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ds.Generation, l.Stats().Generation)
	assert.Equal(t, uint64(parses.Load()), ds.Generation, "every parse publishes exactly one generation")
}

func TestCache_ReusedWhenSourceUnchanged(t *testing.T) {
	path := createTempCSV(t, header+"Asia,Japan,Fruits,Offline,L,1/1/2014,1,1/2/2014,1,1,1,xx,1,0\n")
	cacheDir := t.TempDir()

	first := NewLoader(path, WithCacheDir(cacheDir), WithLogger(quietLogger()))
	_, err := first.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, first.Stats().FromCache)

	second := NewLoader(path, WithCacheDir(cacheDir), WithLogger(quietLogger()))
	ds, err := second.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Stats().FromCache)
	assert.Equal(t, 1, second.Stats().MalformedFields)
	assert.True(t, math.IsNaN(ds.Records[0].TotalRevenue.Float64()))

	strict := NewLoader(path, WithCacheDir(cacheDir), WithStrict(true), WithLogger(quietLogger()))
	_, err = strict.Load(context.Background())
	assert.Error(t, err, "strict load must not accept a permissive snapshot")
}

func TestCache_InvalidatedBySourceChange(t *testing.T) {
	path := createTempCSV(t, header+"Asia,Japan,Fruits,Offline,L,1/1/2014,1,1/2/2014,1,1,1,1,1,0\n")
	cacheDir := t.TempDir()

	_, err := NewLoader(path, WithCacheDir(cacheDir), WithLogger(quietLogger())).Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(header), 0o644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	l := NewLoader(path, WithCacheDir(cacheDir), WithLogger(quietLogger()))
	ds, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, l.Stats().FromCache)
	assert.Equal(t, 0, ds.Len())
}

func TestParseDate(t *testing.T) {
	want := time.Date(2015, 3, 4, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"3/4/2015", "03/04/2015", "2015-03-04", "2015-03-04T18:30:00Z"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDate("yesterday")
	assert.Error(t, err)
}

func TestFromRecords_ReloadBumpsGeneration(t *testing.T) {
	l := FromRecords([]models.SalesRecord{{OrderID: "1", OrderDate: "1/5/2012"}}, WithLogger(quietLogger()))

	first, err := l.Dataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2012, 1, 5, 0, 0, 0, 0, time.UTC), first.Records[0].OrderedAt)

	second, err := l.Reload(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, uint64(2), second.Generation)
	assert.False(t, errors.Is(err, ErrUnavailable))
}
