package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakepool/gateway/middleware"
	"stakepool/native/bank"
	"stakepool/native/staking"
	"stakepool/services/stakingd/storage"
)

const (
	maxBodyBytes       = 1 << 16
	readHeaderTimeout  = 5 * time.Second
	defaultExportLimit = 10_000
	// Rate limit keys understood by the router.
	LimitRead  = "read"
	LimitWrite = "write"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress   string
	ServiceName     string
	ShutdownTimeout time.Duration
	// Prices used for APY. Nil means the two assets are valued equally.
	RewardPrice *big.Int
	StakePrice  *big.Int
	CORSOrigins []string
	// ExportLimit caps the rows written by one export request.
	ExportLimit int
	// FaucetAmount enables the dev faucet route when positive.
	FaucetAmount *big.Int
}

// Deps groups the collaborators the handlers call into.
type Deps struct {
	Engine        *staking.Engine
	Ledger        *bank.Ledger
	Journal       *storage.Journal
	Hub           *Hub
	Auth          *middleware.Authenticator
	Limiter       *middleware.RateLimiter
	Observability *middleware.Observability
	Logger        *slog.Logger
}

// Server exposes the staking pool over HTTP.
type Server struct {
	cfg     Config
	engine  *staking.Engine
	ledger  *bank.Ledger
	journal *storage.Journal
	hub     *Hub
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
	logger  *slog.Logger
}

// New constructs a server. Engine, ledger, journal and authenticator are
// required.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("staking engine required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if deps.Journal == nil {
		return nil, fmt.Errorf("journal required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "stakingd"
	}
	if cfg.ExportLimit <= 0 {
		cfg.ExportLimit = defaultExportLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		ledger:  deps.Ledger,
		journal: deps.Journal,
		hub:     deps.Hub,
		auth:    deps.Auth,
		limiter: deps.Limiter,
		obs:     deps.Observability,
		logger:  deps.Logger,
	}, nil
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.CORSOrigins}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limit(LimitRead))
			r.With(s.observe("pool")).Get("/pool", s.handlePool)
			r.With(s.observe("account")).Get("/accounts/{address}", s.handleAccount)
			r.With(s.observe("apy")).Get("/apy", s.handleAPY)
			r.With(s.observe("balances")).Get("/balances/{address}", s.handleBalances)
			r.With(s.observe("events")).Get("/events", s.handleEvents)
			r.With(s.observe("export")).Get("/events/export", s.handleExport)
			r.Get("/events/ws", s.handleEventsWS)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware())
			r.Use(s.limit(LimitWrite))
			r.With(s.observe("stake")).Post("/stake", s.handleStake)
			r.With(s.observe("withdraw")).Post("/withdraw", s.handleWithdraw)
			r.With(s.observe("claim")).Post("/claim", s.handleClaim)
			r.With(s.observe("fund")).Post("/fund", s.handleFund)
			r.With(s.observe("approve")).Post("/approve", s.handleApprove)
			if s.cfg.FaucetAmount != nil && s.cfg.FaucetAmount.Sign() > 0 {
				r.With(s.observe("faucet")).Post("/faucet", s.handleFaucet)
			}
			r.With(s.observe("set_rate")).Put("/admin/rate", s.handleSetRate)
			r.With(s.observe("pause")).Put("/admin/pause", s.handlePause)
		})
	})
	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(s.Router(), s.cfg.ServiceName),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.hub.Close()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("stakingd: http server listening", slog.String("addr", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) limit(key string) func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.limiter.Middleware(key)
}

func (s *Server) observe(route string) func(http.Handler) http.Handler {
	if s.obs == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.obs.Middleware(route)
}
