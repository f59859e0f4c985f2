package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"sales-dashboard/internal/auth"
	"sales-dashboard/internal/config"
	"sales-dashboard/internal/dataset"
	"sales-dashboard/internal/models"
	"sales-dashboard/internal/server"
	"sales-dashboard/internal/services"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAPI(t *testing.T, records []models.SalesRecord) *httptest.Server {
	t.Helper()
	creds, err := auth.NewCredentials(nil, "admin", "password", bcrypt.MinCost)
	require.NoError(t, err)
	issuer := auth.NewIssuer("client-test-secret-value", "sales-dashboard", time.Hour)

	sales := services.NewSalesService(dataset.FromRecords(records, dataset.WithLogger(quietLogger())), quietLogger())
	srv := server.NewServer(sales, creds, issuer, config.SecurityConfig{PublicDashboard: true}, quietLogger(), nil)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func sampleRecords() []models.SalesRecord {
	return []models.SalesRecord{
		{Region: "Europe", Country: "Norway", ItemType: "Cereal", SalesChannel: "Online", OrderDate: "3/14/2015", OrderID: "1", TotalRevenue: 100, TotalProfit: 10},
		{Region: "Asia", Country: "Japan", ItemType: "Fruits", SalesChannel: "Offline", OrderDate: "6/1/2014", OrderID: "2", TotalRevenue: 200, TotalProfit: 20},
		{Region: "Europe", Country: "France", ItemType: "Meat", SalesChannel: "Offline", OrderDate: "12/31/2015", OrderID: "3", TotalRevenue: 300, TotalProfit: 30},
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)

	_, err = New("://")
	assert.Error(t, err)
}

func TestClient_LoginAndQuery(t *testing.T) {
	ts := newAPI(t, sampleRecords())
	c, err := New(ts.URL+"/", WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Summary(ctx)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	login, err := c.Login(ctx, "admin", "password")
	require.NoError(t, err)
	assert.Equal(t, "admin", login.User.Username)
	c.SetToken(login.AccessToken)

	user, err := c.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin", user.ID)

	profile, err := c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "local", profile.Provider)

	limit := 1
	result, err := c.Query(ctx, models.QuerySpec{Region: "europe", Limit: &limit, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	require.Len(t, result.Data, 1)
	assert.Equal(t, "3", result.Data[0].OrderID)

	summary, err := c.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalRecords)
	assert.Equal(t, []string{"Europe", "Asia"}, summary.Regions)

	regions, err := c.ByRegion(ctx)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, models.GroupRollup{GroupBy: models.GroupByRegion, Key: "Europe", Revenue: 400, Profit: 40, Count: 2}, regions[0])

	items, err := c.ByItemType(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, "Cereal", items[0].Key)
}

func TestClient_LoginFailure(t *testing.T) {
	ts := newAPI(t, sampleRecords())
	c, err := New(ts.URL)
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "admin", "wrong")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "UNAUTHORIZED", apiErr.Code)
}

func TestClient_ExpiredToken(t *testing.T) {
	ts := newAPI(t, sampleRecords())
	stale := auth.NewIssuer("client-test-secret-value", "sales-dashboard", -time.Minute)
	token, err := stale.Issue(models.User{ID: "admin", Username: "admin"})
	require.NoError(t, err)

	c, err := New(ts.URL, WithToken(token))
	require.NoError(t, err)

	_, err = c.Verify(context.Background())
	require.Error(t, err)
	assert.True(t, IsExpired(err))
	assert.True(t, IsUnauthorized(err))
}

func TestClient_DecodeError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
	}{
		{"envelope", http.StatusServiceUnavailable, `{"success":false,"error":{"code":"SERVICE_UNAVAILABLE","message":"Sales data is unavailable"}}`, "SERVICE_UNAVAILABLE", "Sales data is unavailable"},
		{"plain text", http.StatusBadGateway, "upstream down\n", "", "upstream down"},
		{"empty", http.StatusInternalServerError, "", "", "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer ts.Close()

			c, err := New(ts.URL)
			require.NoError(t, err)

			_, err = c.Summary(context.Background())
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
		})
	}
}

func TestEncodeQuerySpec(t *testing.T) {
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	limit := 20
	values := EncodeQuerySpec(models.QuerySpec{
		Region:    "Europe",
		StartDate: &start,
		Limit:     &limit,
		Offset:    40,
	})

	assert.Equal(t, "Europe", values.Get("region"))
	assert.Equal(t, "2015-01-01", values.Get("startDate"))
	assert.Equal(t, "20", values.Get("limit"))
	assert.Equal(t, "40", values.Get("offset"))
	assert.False(t, values.Has("country"))
	assert.False(t, values.Has("endDate"))

	assert.Empty(t, EncodeQuerySpec(models.QuerySpec{}))
}

func TestFileTokenStore(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "nested", "session.json"))

	session, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, session)

	saved := StoredSession{Token: "abc", User: models.User{ID: "u1", Username: "alice", Provider: "local"}}
	require.NoError(t, store.Save(saved))

	session, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, saved, *session)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())

	session, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestMemoryTokenStore(t *testing.T) {
	var store MemoryTokenStore

	session, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, session)

	require.NoError(t, store.Save(StoredSession{Token: "t"}))
	session, err = store.Load()
	require.NoError(t, err)
	session.Token = "mutated"

	again, _ := store.Load()
	assert.Equal(t, "t", again.Token)

	require.NoError(t, store.Clear())
	session, _ = store.Load()
	assert.Nil(t, session)
}
