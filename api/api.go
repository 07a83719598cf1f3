package api

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"golang.org/x/time/rate"

	"github.com/emfabro/steelgate/login"
)

// Defaults for the public key endpoint throttle.
const (
	DefaultSteelRate  = rate.Limit(2)
	DefaultSteelBurst = 10
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	login          *login.Service
	steelLimiter   *ipLimiter
	loginLimiter   *failureLimiter
	trustedProxies []netip.Prefix
	audit          *auditLogger
	logger         *slog.Logger
	now            func() time.Time
	version        string

	steelRate     rate.Limit
	steelBurst    int
	alertFn       AlertFunc
	webhookURL    string
	webhookHeader string
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and internal
// errors. If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithSteelRate sets the per-client refill rate and burst of GET /pub/steel.
func WithSteelRate(r rate.Limit, burst int) Option {
	return func(a *API) {
		a.steelRate = r
		a.steelBurst = burst
	}
}

// WithAlertFunc installs a callback for login failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithAuditWebhook forwards every audit event to url. header, if set, is a
// "Name: value" pair added to each request.
func WithAuditWebhook(url, header string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHeader = header
	}
}

// WithVersion sets the build version reported by GET /pub/version.
func WithVersion(v string) Option {
	return func(a *API) {
		a.version = v
	}
}

// WithClock overrides the time source of the throttles.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// WithTrustedProxies parses CIDRs whose forwarding headers are honoured when
// extracting the client IP.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// New creates a new API instance.
func New(svc *login.Service, opts ...Option) *API {
	a := &API{
		login:      svc,
		now:        time.Now,
		version:    "dev",
		steelRate:  DefaultSteelRate,
		steelBurst: DefaultSteelBurst,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger, a.now)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn, a.now)
	}
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookHeader, a.logger)
	}
	a.steelLimiter = newIPLimiter(a.steelRate, a.steelBurst, a.now)
	a.loginLimiter = newFailureLimiter(a.now)
	return a
}

// Close flushes pending audit webhook deliveries.
func (a *API) Close() {
	if a.audit.webhook != nil {
		a.audit.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	a.Routes(r)
	return r
}

// Routes registers the API on r, which may already carry middleware and
// other routes.
func (a *API) Routes(r chi.Router) {
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Route(login.PublicPath, func(r chi.Router) {
		r.Get("/version", a.Version)
		r.Get("/steel", a.Steel)
		r.Post("/login", a.Login)
		r.Get("/token/knock", a.Knock)
		r.Get("/account/count", a.CountAccounts)
		r.Post("/account/init", a.InitAccount)
	})

	r.Route(login.PrivatePath, func(r chi.Router) {
		r.Use(a.SessionGuard)
		r.Get("/logout", a.Logout)
		r.Get("/keepHeartBeat", a.KeepHeartBeat)
		r.Get("/me", a.Me)
	})
}
