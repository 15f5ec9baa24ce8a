package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bookporter/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Route groups mounted under the API prefix.
const (
	GroupPublic   = "/public"
	GroupMe       = "/me"
	GroupOrders   = "/orders"
	GroupAdmin    = "/admin"
	GroupWebhooks = "/webhooks"
	GroupInternal = "/internal"
)

var groupOrder = []string{GroupPublic, GroupMe, GroupOrders, GroupAdmin, GroupWebhooks, GroupInternal}

type routeGroup struct {
	registrars  []RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 30 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter constructs the chi router with shared middleware and the API route groups.
// Groups without registrars answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: make(map[string]*routeGroup),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, path := range groupOrder {
			group := cfg.groups[path]
			api.Route(path, func(sub chi.Router) {
				if group == nil || len(group.registrars) == 0 {
					registerNotImplemented(sub, path)
					return
				}
				for _, mw := range group.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				for _, register := range group.registrars {
					register(sub)
				}
			})
		}
	})

	return r
}

func (cfg *routerConfig) group(path string) *routeGroup {
	g, ok := cfg.groups[path]
	if !ok {
		g = &routeGroup{}
		cfg.groups[path] = g
	}
	return g
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithRoutes adds a registrar to one of the Group* paths. Several registrars may share a group.
func WithRoutes(path string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		if reg != nil {
			g := cfg.group(path)
			g.registrars = append(g.registrars, reg)
		}
	}
}

// WithGroupMiddlewares configures middlewares applied to every route in a group.
func WithGroupMiddlewares(path string, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(path)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
}
