package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"sales-dashboard/internal/client"
	"sales-dashboard/internal/models"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInProgress       = errors.New("session operation already in progress")
)

// API is the part of client.Client the session needs.
type API interface {
	Login(ctx context.Context, username, password string) (client.LoginResponse, error)
	Verify(ctx context.Context) (models.User, error)
	Logout(ctx context.Context) error
	SetToken(token string)
}

type Manager struct {
	api    API
	store  client.TokenStore
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

func NewManager(api API, store client.TokenStore, logger *slog.Logger) *Manager {
	return &Manager{api: api, store: store, logger: logger}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// dispatch applies ev and performs the resulting effect before the next
// event is accepted, so the API token and the store follow the state in
// order.
func (m *Manager) dispatch(ev Event) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, effect, applied := Reduce(m.state, ev)
	if !applied {
		return m.snapshot(), false, nil
	}
	m.state = next
	m.api.SetToken(next.Token)

	var err error
	switch effect {
	case EffectPersist:
		session := client.StoredSession{Token: next.Token}
		if next.User != nil {
			session.User = *next.User
		}
		err = m.store.Save(session)
	case EffectClear:
		err = m.store.Clear()
	}
	if err != nil {
		m.logger.Warn("session store update failed", "error", err)
		return m.snapshot(), true, fmt.Errorf("persist session: %w", err)
	}
	return m.snapshot(), true, nil
}

func (m *Manager) snapshot() State {
	s := m.state
	s.User = copyUser(s.User)
	return s
}

// Restore reads the stored session. It does not contact the server; call
// Verify for that.
func (m *Manager) Restore() (State, error) {
	stored, err := m.store.Load()
	if err != nil {
		m.logger.Warn("stored session unreadable", "error", err)
		stored = nil
	}
	ev := Restored{}
	if stored != nil {
		user := stored.User
		ev = Restored{Token: stored.Token, User: &user}
	}
	s, _, err := m.dispatch(ev)
	return s, err
}

// Login exchanges credentials for a session. A second call while one is in
// flight returns ErrInProgress without contacting the server.
func (m *Manager) Login(ctx context.Context, username, password string) (State, error) {
	if s, ok, _ := m.dispatch(LoginRequested{Username: username}); !ok {
		return s, ErrInProgress
	}

	resp, err := m.api.Login(ctx, username, password)
	if err != nil {
		s, _, _ := m.dispatch(LoginFailed{Err: err})
		return s, err
	}

	m.logger.Info("logged in", "username", resp.User.Username)
	s, _, err := m.dispatch(LoginSucceeded{Token: resp.AccessToken, User: resp.User})
	return s, err
}

// Verify checks the held token with the server. A rejected token ends the
// session; a transport failure leaves it in place. Only one verification
// runs at a time.
func (m *Manager) Verify(ctx context.Context) (State, error) {
	s, ok, _ := m.dispatch(VerifyRequested{})
	if !ok {
		if s.Token == "" {
			return s, ErrNotAuthenticated
		}
		return s, ErrInProgress
	}

	user, err := m.api.Verify(ctx)
	if err != nil {
		s, _, _ := m.dispatch(VerifyFailed{Err: err, Rejected: client.IsUnauthorized(err)})
		return s, err
	}
	s, _, err = m.dispatch(VerifySucceeded{User: user})
	return s, err
}

func (m *Manager) Logout(ctx context.Context) (State, error) {
	if m.State().Token != "" {
		if err := m.api.Logout(ctx); err != nil {
			m.logger.Debug("server logout failed", "error", err)
		}
	}
	s, _, err := m.dispatch(LoggedOut{})
	return s, err
}
