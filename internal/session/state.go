// Package session tracks client authentication as a small state machine.
// Reduce is pure; Manager performs the side effects it asks for.
package session

import "sales-dashboard/internal/models"

type Phase int

const (
	PhaseAnonymous Phase = iota
	PhaseLoggingIn
	PhaseVerifying
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseLoggingIn:
		return "logging_in"
	case PhaseVerifying:
		return "verifying"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

type State struct {
	Phase Phase
	Token string
	User  *models.User
	// Err is the message of the last failed login or verification.
	Err string
}

func (s State) IsAuthenticated() bool {
	return s.Token != "" && (s.Phase == PhaseAuthenticated || s.Phase == PhaseVerifying)
}

type Event interface{ isEvent() }

// Restored carries what the token store held at start. An empty Token means
// nothing was stored.
type Restored struct {
	Token string
	User  *models.User
}

type LoginRequested struct{ Username string }

type LoginSucceeded struct {
	Token string
	User  models.User
}

type LoginFailed struct{ Err error }

type VerifyRequested struct{}

type VerifySucceeded struct{ User models.User }

// VerifyFailed drops the session only when the server rejected the token.
// Transport failures keep it so a later verify can succeed.
type VerifyFailed struct {
	Err      error
	Rejected bool
}

type LoggedOut struct{}

func (Restored) isEvent()        {}
func (LoginRequested) isEvent()  {}
func (LoginSucceeded) isEvent()  {}
func (LoginFailed) isEvent()     {}
func (VerifyRequested) isEvent() {}
func (VerifySucceeded) isEvent() {}
func (VerifyFailed) isEvent()    {}
func (LoggedOut) isEvent()       {}

// Effect is the persistence action a transition requires.
type Effect int

const (
	EffectNone Effect = iota
	EffectPersist
	EffectClear
)

// Reduce applies ev to s. The returned bool is false when s does not accept
// ev in its current phase; the state is then returned unchanged.
func Reduce(s State, ev Event) (State, Effect, bool) {
	switch e := ev.(type) {
	case Restored:
		if e.Token == "" {
			return State{Phase: PhaseAnonymous}, EffectNone, true
		}
		return State{Phase: PhaseAuthenticated, Token: e.Token, User: copyUser(e.User)}, EffectNone, true

	case LoginRequested:
		if s.Phase == PhaseLoggingIn {
			return s, EffectNone, false
		}
		return State{Phase: PhaseLoggingIn}, EffectNone, true

	case LoginSucceeded:
		if s.Phase != PhaseLoggingIn {
			return s, EffectNone, false
		}
		return State{Phase: PhaseAuthenticated, Token: e.Token, User: copyUser(&e.User)}, EffectPersist, true

	case LoginFailed:
		if s.Phase != PhaseLoggingIn {
			return s, EffectNone, false
		}
		return State{Phase: PhaseAnonymous, Err: errString(e.Err)}, EffectNone, true

	case VerifyRequested:
		if s.Token == "" || s.Phase == PhaseVerifying || s.Phase == PhaseLoggingIn {
			return s, EffectNone, false
		}
		s.Phase = PhaseVerifying
		s.Err = ""
		return s, EffectNone, true

	case VerifySucceeded:
		if s.Phase != PhaseVerifying {
			return s, EffectNone, false
		}
		s.Phase = PhaseAuthenticated
		s.User = copyUser(&e.User)
		return s, EffectPersist, true

	case VerifyFailed:
		if s.Phase != PhaseVerifying {
			return s, EffectNone, false
		}
		if e.Rejected {
			return State{Phase: PhaseAnonymous, Err: errString(e.Err)}, EffectClear, true
		}
		s.Phase = PhaseAuthenticated
		s.Err = errString(e.Err)
		return s, EffectNone, true

	case LoggedOut:
		return State{Phase: PhaseAnonymous}, EffectClear, true
	}
	return s, EffectNone, false
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
