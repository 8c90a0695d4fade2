package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"settleup/internal/cache"
	"settleup/internal/config"
	"settleup/internal/log"
	"settleup/internal/middleware/ratelimit"
	"settleup/internal/middleware/security"
	"settleup/internal/middleware/trace"
	"settleup/internal/services"
)

// Options configures the API server.
type Options struct {
	Addr               string
	CORSAllowedOrigins []string
	RateLimitPerMinute int
	CacheSize          int
	CacheTTL           time.Duration
	// TrustedProxies are CIDRs whose forwarding headers are believed.
	TrustedProxies []string
}

// OptionsFromConfig maps application config onto server options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:               ":" + cfg.Port,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CacheSize:          cfg.SettlementCacheSize,
		CacheTTL:           cfg.SettlementCacheTTL,
	}
}

type Server struct {
	http.Server
	svc     *services.GroupService
	logger  *log.Logger
	reports *cache.ReportCache
	caches  *cache.Manager
	limiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(svc *services.GroupService, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	rlCfg := ratelimit.DefaultConfig()
	if opts.RateLimitPerMinute > 0 {
		rlCfg.RequestsPerMinute = opts.RateLimitPerMinute
	}

	s := &Server{
		svc:     svc,
		logger:  logger,
		reports: cache.NewReportCache(opts.CacheSize, opts.CacheTTL),
		caches:  cache.NewManager(logger),
		limiter: ratelimit.NewLimiter(rlCfg),
	}
	s.caches.Register(s.reports)
	s.caches.StartCleanup(10 * time.Minute)

	clientIP := security.NewClientIP()
	for _, cidr := range opts.TrustedProxies {
		if err := clientIP.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring invalid trusted proxy", "cidr", cidr, log.FieldError, err)
		}
	}

	var h http.Handler = s.routes()
	h = cors.New(cors.Options{
		AllowedOrigins:   opts.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
	}).Handler(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.limiter.Middleware(clientIP.Extract, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, clientIP.Extract(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, please try again later").Write(w)
	})(h)
	h = trace.NewMiddleware(logger, clientIP.Extract).Middleware(h)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("route not found").Write(w)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		MethodNotAllowedError().Write(w)
	})

	router.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/groups", s.handleCreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}", s.handleGetGroup).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/name", s.handleRenameGroup).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id}/members", s.handleAddMember).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}/members/{username}", s.handleUpdateMember).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id}/members/{username}", s.handleDeleteMember).Methods(http.MethodDelete)

	api.HandleFunc("/groups/{id}/balances", s.handleBalances).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/settlements", s.handleSettlements).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/expenditure", s.handleExpenditure).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/total-expenditure", s.handleTotalExpenditure).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/report", s.handleReport).Methods(http.MethodGet)

	api.HandleFunc("/groups/{id}/expenses", s.handleListExpenses).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/expenses", s.handleCreateExpense).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}/expenses/{expenseID}", s.handleGetExpense).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/expenses/{expenseID}", s.handleUpdateExpense).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id}/expenses/{expenseID}", s.handleDeleteExpense).Methods(http.MethodDelete)

	api.HandleFunc("/groups/{id}/payments", s.handleListPayments).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/payments", s.handleCreatePayment).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}/payments/{paymentID}", s.handleGetPayment).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/payments/{paymentID}", s.handleUpdatePayment).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id}/payments/{paymentID}", s.handleDeletePayment).Methods(http.MethodDelete)

	return router
}

// Shutdown stops background cleanup and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.svc.Ping(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		ErrorResponse(http.StatusServiceUnavailable, "storage unavailable").Write(w)
		return
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}

// fail writes err as a JSON error and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := errorFor(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldOperation, op,
			log.FieldPath, r.URL.Path,
			log.FieldError, err)
	}
	resp.Write(w)
}
