package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sales-dashboard/internal/config"
	"sales-dashboard/internal/errors"
	"sales-dashboard/internal/handlers"
	"sales-dashboard/internal/middleware"
	"sales-dashboard/internal/observability"
	"sales-dashboard/internal/services"
)

type Server struct {
	sales        *services.SalesService
	router       *chi.Mux
	logger       *slog.Logger
	security     config.SecurityConfig
	tokens       handlers.TokenService
	apiHandlers  *handlers.APIHandlers
	authHandlers *handlers.AuthHandlers
	sseHandlers  *handlers.SSEHandlers
}

type TemplateHandlers struct {
	Dashboard http.HandlerFunc
}

func NewServer(
	sales *services.SalesService,
	credentials handlers.Authenticator,
	tokens handlers.TokenService,
	security config.SecurityConfig,
	logger *slog.Logger,
	templateHandlers *TemplateHandlers,
) *Server {
	s := &Server{
		sales:        sales,
		router:       chi.NewRouter(),
		logger:       logger,
		security:     security,
		tokens:       tokens,
		apiHandlers:  handlers.NewAPIHandlers(sales, logger),
		authHandlers: handlers.NewAuthHandlers(credentials, tokens, logger),
		sseHandlers:  handlers.NewSSEHandlers(sales, logger),
	}
	s.setupRoutes(templateHandlers)
	return s
}

func (s *Server) setupRoutes(templateHandlers *TemplateHandlers) {
	r := s.router
	r.Use(middleware.Metrics())

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		errors.WriteError(w, s.logger, errors.New(errors.CodeNotFound, "Route not found"), observability.GetRequestID(req.Context()))
	})

	requireAuth := middleware.RequireAuth(s.tokens, s.logger)

	r.Get("/health", s.apiHandlers.HandleHealth)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	// Authentication
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.authHandlers.HandleLogin)
		r.Post("/verify", s.authHandlers.HandleVerify)
		r.Get("/logout", s.authHandlers.HandleLogout)
		r.With(requireAuth).Get("/profile", s.authHandlers.HandleProfile)
	})

	// Sales REST API
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/sales", s.apiHandlers.HandleSales)
		r.Get("/sales/summary", s.apiHandlers.HandleSummary)
		r.Get("/sales/by-region", s.apiHandlers.HandleByRegion)
		r.Get("/sales/by-item-type", s.apiHandlers.HandleByItemType)
		r.Get("/api/protected", s.apiHandlers.HandleProtected)

		r.Get("/admin/stats", s.apiHandlers.HandleStats)
		r.Post("/admin/reload", s.apiHandlers.HandleReload)
	})

	// Dashboard and Datastar SSE endpoints
	r.Group(func(r chi.Router) {
		if !s.security.PublicDashboard {
			r.Use(requireAuth)
		}

		if templateHandlers != nil && templateHandlers.Dashboard != nil {
			r.Get("/", templateHandlers.Dashboard)
		}
		r.Get("/sse/summary", s.sseHandlers.HandleSummary)
		r.Get("/sse/by-region", s.sseHandlers.HandleByRegion)
		r.Get("/sse/by-item-type", s.sseHandlers.HandleByItemType)
		r.Get("/sse/refresh-all", s.sseHandlers.HandleRefreshAll)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
