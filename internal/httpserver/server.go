package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/iamkash/intellispec/internal/audit"
	"github.com/iamkash/intellispec/internal/auth"
	"github.com/iamkash/intellispec/internal/config"
	"github.com/iamkash/intellispec/internal/database"
	"github.com/iamkash/intellispec/internal/featureflag"
	"github.com/iamkash/intellispec/internal/identity"
	"github.com/iamkash/intellispec/internal/metrics"
	"github.com/iamkash/intellispec/internal/ratelimit"
	"github.com/iamkash/intellispec/internal/vector"
	"github.com/iamkash/intellispec/internal/workflow"
)

// auditTrail is the slice of audit.Trail the routes use: recording on
// mutations and listing for the platform surface.
type auditTrail interface {
	audit.Recorder
	List(ctx context.Context, filter audit.Filter) ([]audit.Event, int64, error)
}

// Deps are the constructed services the server routes requests into.
type Deps struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	DB          *database.Manager
	Auth        *auth.Service
	Authorizer  *auth.Authorizer
	Identity    *identity.Store
	Trail       *audit.Trail
	Engine      *workflow.Engine
	Workflows   workflow.WorkflowStore
	Vector      *vector.Pipeline
	VectorStore *vector.Store
	Flags       *featureflag.Service
}

// Server is the assembled HTTP surface.
type Server struct {
	cfg         *config.Config
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	db          *database.Manager
	auth        *auth.Service
	authorizer  *auth.Authorizer
	identity    *identity.Store
	trail       auditTrail
	engine      *workflow.Engine
	workflows   workflow.WorkflowStore
	vector      *vector.Pipeline
	vectorStore *vector.Store
	flags       *featureflag.Service
	limiter     *ratelimit.Keyed

	registry *Registry
	srv      *http.Server
}

// New registers the full route surface, validates it, and builds the
// listener. A route without a declared policy fails here, before the server
// ever listens.
func New(deps Deps) (*Server, error) {
	s := &Server{
		cfg:         deps.Config,
		logger:      deps.Logger.With().Str("component", "http").Logger(),
		metrics:     deps.Metrics,
		db:          deps.DB,
		auth:        deps.Auth,
		authorizer:  deps.Authorizer,
		identity:    deps.Identity,
		trail:       deps.Trail,
		engine:      deps.Engine,
		workflows:   deps.Workflows,
		vector:      deps.Vector,
		vectorStore: deps.VectorStore,
		flags:       deps.Flags,
		limiter:     ratelimit.NewKeyed(deps.Config.RateLimit.RequestsPerSecond, deps.Config.RateLimit.Burst),
		registry:    NewRegistry(),
	}

	s.registerAuthRoutes()
	s.registerDocumentRoutes()
	s.registerSearchRoutes()
	s.registerAggregationRoutes()
	s.registerWorkflowRoutes()
	s.registerPlatformRoutes()
	s.registerVectorRoutes()
	s.registerFeatureRoutes()
	s.registerHealthRoutes()

	if err := s.registry.Validate(); err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	router.Use(s.recoverer, s.instrument, s.timeout, s.rateLimit)

	for _, route := range s.registry.Routes() {
		router.Method(route.Method, route.Pattern, s.endpoint(route))
	}

	summary := zerolog.Dict()
	for policy, count := range s.registry.Summary() {
		summary.Int(string(policy), count)
	}
	s.logger.Info().
		Int("routes", len(s.registry.Routes())).
		Dict("byPolicy", summary).
		Msg("route surface registered")

	s.srv = &http.Server{
		Addr:              deps.Config.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
