package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"schooldesk/auth-identity/internal/auth"
	"schooldesk/auth-identity/internal/metrics"
	"schooldesk/auth-identity/internal/model"
	"schooldesk/auth-identity/internal/ratelimit"
	"schooldesk/auth-identity/internal/service"
)

// Accounts is the slice of the auth service the HTTP layer drives.
type Accounts interface {
	Register(ctx context.Context, in service.RegisterInput) (service.Session, error)
	Provision(ctx context.Context, in service.RegisterInput) (service.AccountView, error)
	Login(ctx context.Context, email, password string) (service.Session, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Pair, error)
	Authenticate(ctx context.Context, token string) (model.Account, error)
	Logout(ctx context.Context, accountID int64) error
	Me(ctx context.Context, accountID int64) (service.AccountView, error)
	ChangePassword(ctx context.Context, accountID int64, in service.ChangePasswordInput) error
	GetAccount(ctx context.Context, accountID int64) (service.AccountView, error)
	Deactivate(ctx context.Context, actorID, accountID int64) error
	Activate(ctx context.Context, actorID, accountID int64) error
}

type Options struct {
	Accounts       Accounts
	Limiter        ratelimit.Limiter
	Metrics        *metrics.Metrics
	Logger         logrus.FieldLogger
	RequestTimeout time.Duration
}

type Server struct {
	accounts Accounts
	limiter  ratelimit.Limiter
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	timeout  time.Duration
}

func NewServer(opts Options) *Server {
	s := &Server{
		accounts: opts.Accounts,
		limiter:  opts.Limiter,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		timeout:  opts.RequestTimeout,
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.With(s.authenticate).Post("/auth/logout", s.handleLogout)
		r.With(s.authenticate).Get("/auth/me", s.handleMe)
		r.With(s.authenticate).Put("/auth/change-password", s.handleChangePassword)
		r.With(s.optionalAuthenticate).Get("/auth/session", s.handleSession)

		r.Route("/accounts", func(r chi.Router) {
			r.Use(s.authenticate)
			r.With(AdminOnly).Post("/", s.handleProvision)
			r.With(TeacherOrAdmin).Get("/{accountId}", s.handleGetAccount)
			r.With(AdminOnly).Delete("/{accountId}", s.handleDeactivate)
			r.With(AdminOnly).Post("/{accountId}/activate", s.handleActivate)
		})
	})

	return otelhttp.NewHandler(r, "auth-identity",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
