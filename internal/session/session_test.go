package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-dashboard/internal/client"
	"sales-dashboard/internal/models"
)

var alice = models.User{ID: "alice", Username: "alice", Provider: "local"}

func TestReduce(t *testing.T) {
	authed := State{Phase: PhaseAuthenticated, Token: "tok", User: &alice}
	verifying := State{Phase: PhaseVerifying, Token: "tok", User: &alice}

	tests := []struct {
		name       string
		from       State
		event      Event
		wantPhase  Phase
		wantToken  string
		wantEffect Effect
		applied    bool
	}{
		{"restore nothing", State{}, Restored{}, PhaseAnonymous, "", EffectNone, true},
		{"restore token", State{}, Restored{Token: "tok", User: &alice}, PhaseAuthenticated, "tok", EffectNone, true},
		{"login requested", State{}, LoginRequested{Username: "alice"}, PhaseLoggingIn, "", EffectNone, true},
		{"login succeeded", State{Phase: PhaseLoggingIn}, LoginSucceeded{Token: "new", User: alice}, PhaseAuthenticated, "new", EffectPersist, true},
		{"login failed", State{Phase: PhaseLoggingIn}, LoginFailed{Err: errors.New("bad")}, PhaseAnonymous, "", EffectNone, true},
		{"late login success ignored", State{}, LoginSucceeded{Token: "new"}, PhaseAnonymous, "", EffectNone, false},
		{"verify requested", authed, VerifyRequested{}, PhaseVerifying, "tok", EffectNone, true},
		{"verify without token", State{}, VerifyRequested{}, PhaseAnonymous, "", EffectNone, false},
		{"verify succeeded", verifying, VerifySucceeded{User: alice}, PhaseAuthenticated, "tok", EffectPersist, true},
		{"verify rejected", verifying, VerifyFailed{Err: errors.New("expired"), Rejected: true}, PhaseAnonymous, "", EffectClear, true},
		{"verify unreachable", verifying, VerifyFailed{Err: errors.New("dial")}, PhaseAuthenticated, "tok", EffectNone, true},
		{"logout", authed, LoggedOut{}, PhaseAnonymous, "", EffectClear, true},
		{"second login ignored", State{Phase: PhaseLoggingIn}, LoginRequested{Username: "alice"}, PhaseLoggingIn, "", EffectNone, false},
		{"second verify ignored", verifying, VerifyRequested{}, PhaseVerifying, "tok", EffectNone, false},
		{"late verify result ignored", authed, VerifySucceeded{User: alice}, PhaseAuthenticated, "tok", EffectNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, effect, applied := Reduce(tt.from, tt.event)
			assert.Equal(t, tt.wantPhase, got.Phase)
			assert.Equal(t, tt.wantToken, got.Token)
			assert.Equal(t, tt.wantEffect, effect)
			assert.Equal(t, tt.applied, applied)
		})
	}
}

func TestReduce_IsAuthenticated(t *testing.T) {
	s, _, _ := Reduce(State{}, Restored{Token: "tok", User: &alice})
	assert.True(t, s.IsAuthenticated())

	s, _, _ = Reduce(s, VerifyRequested{})
	assert.True(t, s.IsAuthenticated(), "a token under verification still counts")

	s, _, _ = Reduce(s, VerifyFailed{Err: errors.New("invalid"), Rejected: true})
	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, "invalid", s.Err)
}

func TestReduce_CopiesUser(t *testing.T) {
	u := alice
	s, _, _ := Reduce(State{}, Restored{Token: "tok", User: &u})
	u.Username = "mallory"
	assert.Equal(t, "alice", s.User.Username)
}

type fakeAPI struct {
	token     string
	loginErr  error
	verifyErr error
	logouts   int
}

func (f *fakeAPI) Login(ctx context.Context, username, password string) (client.LoginResponse, error) {
	if f.loginErr != nil {
		return client.LoginResponse{}, f.loginErr
	}
	return client.LoginResponse{AccessToken: "issued-" + username, User: models.User{ID: username, Username: username}}, nil
}

func (f *fakeAPI) Verify(ctx context.Context) (models.User, error) {
	if f.verifyErr != nil {
		return models.User{}, f.verifyErr
	}
	return models.User{ID: "alice", Username: "alice", Email: "alice@example.com"}, nil
}

func (f *fakeAPI) Logout(ctx context.Context) error {
	f.logouts++
	return nil
}

func (f *fakeAPI) SetToken(token string) { f.token = token }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_LoginPersistsAndRestores(t *testing.T) {
	store := &client.MemoryTokenStore{}
	api := &fakeAPI{}
	m := NewManager(api, store, quietLogger())
	ctx := context.Background()

	s, err := m.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "issued-alice", api.token)

	stored, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "issued-alice", stored.Token)

	restoredAPI := &fakeAPI{}
	restored := NewManager(restoredAPI, store, quietLogger())
	s, err = restored.Restore()
	require.NoError(t, err)
	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "alice", s.User.Username)
	assert.Equal(t, "issued-alice", restoredAPI.token)
}

func TestManager_LoginFailure(t *testing.T) {
	store := &client.MemoryTokenStore{}
	api := &fakeAPI{loginErr: &client.APIError{Status: http.StatusUnauthorized, Message: "Invalid credentials"}}
	m := NewManager(api, store, quietLogger())

	s, err := m.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.False(t, s.IsAuthenticated())
	assert.Contains(t, s.Err, "Invalid credentials")

	stored, _ := store.Load()
	assert.Nil(t, stored)
}

func TestManager_VerifyRejectedClearsStore(t *testing.T) {
	store := &client.MemoryTokenStore{}
	require.NoError(t, store.Save(client.StoredSession{Token: "old", User: alice}))

	api := &fakeAPI{verifyErr: &client.APIError{Status: http.StatusUnauthorized, Code: "TOKEN_EXPIRED", Message: "Token expired"}}
	m := NewManager(api, store, quietLogger())

	_, err := m.Restore()
	require.NoError(t, err)

	s, err := m.Verify(context.Background())
	require.Error(t, err)
	assert.Equal(t, PhaseAnonymous, s.Phase)
	assert.Empty(t, api.token)

	stored, _ := store.Load()
	assert.Nil(t, stored)
}

func TestManager_VerifyTransportFailureKeepsSession(t *testing.T) {
	store := &client.MemoryTokenStore{}
	require.NoError(t, store.Save(client.StoredSession{Token: "old", User: alice}))

	api := &fakeAPI{verifyErr: errors.New("connection refused")}
	m := NewManager(api, store, quietLogger())
	m.Restore()

	s, err := m.Verify(context.Background())
	require.Error(t, err)
	assert.True(t, s.IsAuthenticated())

	stored, _ := store.Load()
	require.NotNil(t, stored)
	assert.Equal(t, "old", stored.Token)
}

func TestManager_VerifyRefreshesProfile(t *testing.T) {
	store := &client.MemoryTokenStore{}
	require.NoError(t, store.Save(client.StoredSession{Token: "old", User: alice}))
	m := NewManager(&fakeAPI{}, store, quietLogger())
	m.Restore()

	s, err := m.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", s.User.Email)

	stored, _ := store.Load()
	assert.Equal(t, "alice@example.com", stored.User.Email)
}

func TestManager_VerifyWithoutSession(t *testing.T) {
	m := NewManager(&fakeAPI{}, &client.MemoryTokenStore{}, quietLogger())
	m.Restore()

	_, err := m.Verify(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestManager_Logout(t *testing.T) {
	store := &client.MemoryTokenStore{}
	api := &fakeAPI{}
	m := NewManager(api, store, quietLogger())
	ctx := context.Background()

	_, err := m.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	s, err := m.Logout(ctx)
	require.NoError(t, err)
	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, 1, api.logouts)
	assert.Empty(t, api.token)

	stored, _ := store.Load()
	assert.Nil(t, stored)

	_, err = m.Logout(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, api.logouts, "no server call without a token")
}

// gatedAPI blocks Login and Verify until release is closed.
type gatedAPI struct {
	fakeAPI
	release chan struct{}
	entered chan struct{}
	logins  atomic.Int32
	verifys atomic.Int32
}

func newGatedAPI() *gatedAPI {
	return &gatedAPI{release: make(chan struct{}), entered: make(chan struct{}, 8)}
}

func (g *gatedAPI) Login(ctx context.Context, username, password string) (client.LoginResponse, error) {
	g.logins.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return g.fakeAPI.Login(ctx, username, password)
}

func (g *gatedAPI) Verify(ctx context.Context) (models.User, error) {
	g.verifys.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return g.fakeAPI.Verify(ctx)
}

func TestManager_ConcurrentVerifySendsOneRequest(t *testing.T) {
	store := &client.MemoryTokenStore{}
	require.NoError(t, store.Save(client.StoredSession{Token: "tok", User: alice}))
	api := newGatedAPI()
	m := NewManager(api, store, quietLogger())
	_, err := m.Restore()
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, err := m.Verify(context.Background())
		first <- err
	}()
	<-api.entered

	s, err := m.Verify(context.Background())
	assert.ErrorIs(t, err, ErrInProgress)
	assert.Equal(t, PhaseVerifying, s.Phase)

	close(api.release)
	require.NoError(t, <-first)
	assert.Equal(t, int32(1), api.verifys.Load())
	assert.Equal(t, PhaseAuthenticated, m.State().Phase)
}

func TestManager_ConcurrentLoginSendsOneRequest(t *testing.T) {
	store := &client.MemoryTokenStore{}
	api := newGatedAPI()
	m := NewManager(api, store, quietLogger())

	first := make(chan error, 1)
	go func() {
		_, err := m.Login(context.Background(), "alice", "pw")
		first <- err
	}()
	<-api.entered

	_, err := m.Login(context.Background(), "bob", "pw")
	assert.ErrorIs(t, err, ErrInProgress)

	close(api.release)
	require.NoError(t, <-first)
	assert.Equal(t, int32(1), api.logins.Load())

	stored, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "issued-alice", stored.Token)
	assert.Equal(t, "issued-alice", api.token)
}
