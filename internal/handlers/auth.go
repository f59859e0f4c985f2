package handlers

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strings"

	"sales-dashboard/internal/auth"
	"sales-dashboard/internal/errors"
	"sales-dashboard/internal/middleware"
	"sales-dashboard/internal/models"
	"sales-dashboard/internal/observability"
)

const maxLoginBody = 1 << 16

type Authenticator interface {
	Authenticate(username, password string) (models.User, error)
}

type TokenService interface {
	Issue(user models.User) (string, error)
	Verify(token string) auth.Verification
}

type AuthHandlers struct {
	credentials Authenticator
	tokens      TokenService
	logger      *slog.Logger
}

func NewAuthHandlers(credentials Authenticator, tokens TokenService, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		credentials: credentials,
		tokens:      tokens,
		logger:      logger,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string      `json:"access_token"`
	User        models.User `json:"user"`
}

type VerifyResponse struct {
	Valid bool         `json:"valid"`
	User  *auth.Claims `json:"user"`
}

func (h *AuthHandlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		errors.WriteError(w, h.logger, errors.BadRequestWrap(err, "Invalid login request body"), requestID)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		errors.WriteError(w, h.logger, errors.Validation("username and password are required"), requestID)
		return
	}

	user, err := h.credentials.Authenticate(req.Username, req.Password)
	if err != nil {
		observability.RecordAuth("login", "rejected")
		if stderrors.Is(err, auth.ErrInvalidCredentials) {
			errors.WriteError(w, h.logger, errors.Unauthorized("Invalid credentials"), requestID)
			return
		}
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "Authentication failed"), requestID)
		return
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "Failed to issue token"), requestID)
		return
	}

	observability.RecordAuth("login", "ok")
	h.logger.Info("user logged in", "user", user.Username, "request_id", requestID)

	errors.WriteJSON(w, http.StatusOK, LoginResponse{AccessToken: token, User: user})
}

func (h *AuthHandlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	token, ok := middleware.BearerToken(r)
	if !ok {
		observability.RecordAuth("verify", "missing")
		errors.WriteError(w, h.logger, errors.Unauthorized("No token provided"), requestID)
		return
	}

	v := h.tokens.Verify(token)
	observability.RecordAuth("verify", v.Status.String())

	switch v.Status {
	case auth.StatusValid:
		errors.WriteJSON(w, http.StatusOK, VerifyResponse{Valid: true, User: v.Claims})
	case auth.StatusExpired:
		errors.WriteError(w, h.logger, errors.TokenExpired("Token expired"), requestID)
	default:
		errors.WriteError(w, h.logger, errors.Unauthorized("Invalid token"), requestID)
	}
}

// HandleProfile returns the user carried by the verified token.
func (h *AuthHandlers) HandleProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		errors.WriteError(w, h.logger, errors.Unauthorized("No token provided"), observability.GetRequestID(r.Context()))
		return
	}
	errors.WriteJSON(w, http.StatusOK, claims.User())
}

// HandleLogout only acknowledges; tokens are stateless and expire on their own.
func (h *AuthHandlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	errors.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}
