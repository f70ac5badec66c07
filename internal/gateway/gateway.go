// Package gateway assembles the Doorman subsystems into one serving
// surface: the platform administration routes, the protocol dispatch
// path, and the operational endpoints. The Gateway owns every
// process-wide singleton; the Server in server.go owns the listener.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/apidoorman/doorman-sub003/internal/auth"
	"github.com/apidoorman/doorman-sub003/internal/authz"
	"github.com/apidoorman/doorman-sub003/internal/cache"
	"github.com/apidoorman/doorman-sub003/internal/catalog"
	"github.com/apidoorman/doorman-sub003/internal/chaos"
	"github.com/apidoorman/doorman-sub003/internal/config"
	"github.com/apidoorman/doorman-sub003/internal/cors"
	"github.com/apidoorman/doorman-sub003/internal/credits"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/health"
	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/apidoorman/doorman-sub003/internal/metrics"
	"github.com/apidoorman/doorman-sub003/internal/middleware"
	"github.com/apidoorman/doorman-sub003/internal/middleware/compression"
	"github.com/apidoorman/doorman-sub003/internal/proto"
	"github.com/apidoorman/doorman-sub003/internal/proxy"
	"github.com/apidoorman/doorman-sub003/internal/proxy/protocol"
	"github.com/apidoorman/doorman-sub003/internal/ratelimit"
	"github.com/apidoorman/doorman-sub003/internal/resolve"
	"github.com/apidoorman/doorman-sub003/internal/store"
	"github.com/apidoorman/doorman-sub003/internal/tracing"
)

// Gateway wires the stores, kernels, and dispatchers behind the HTTP
// surface. Construct with New, serve via Handler, release with Close.
type Gateway struct {
	cfg *config.Config

	store       store.Store
	mem         *store.Memory
	redis       *store.Redis
	snapshotter *store.Snapshotter
	cache       *cache.Cache
	catalog     *catalog.Catalog
	chaos       *chaos.Registry

	kernel *auth.Kernel
	ledger auth.Ledger
	hasher *auth.Hasher
	authz  *authz.Evaluator

	counter  ratelimit.Counter
	throttle *ratelimit.LoginThrottle
	rules    *ratelimit.RuleEngine
	credits  *credits.Service

	resolver    *resolve.Resolver
	selector    *proxy.Selector
	transports  *proxy.TransportPool
	forwarder   *proxy.Forwarder
	protos      *proto.Manager
	dispatchers map[string]protocol.Dispatcher

	corsEval   *cors.Evaluator
	metrics    *metrics.Store
	checker    *health.Checker
	tracer     *tracing.Tracer
	compressor *compression.Compressor
	logBuffer  *logging.RingBuffer

	autoSaveCancel context.CancelFunc
	sweepCancel    context.CancelFunc
}

// guardedLedger front-runs every ledger call with the chaos guard so a
// simulated Redis outage fails authentication fast instead of blocking.
type guardedLedger struct {
	auth.Ledger
	guard store.GuardFunc
}

func (g *guardedLedger) IsRevoked(ctx context.Context, username, tokenID string) (bool, error) {
	if err := g.guard(ctx); err != nil {
		return false, err
	}
	return g.Ledger.IsRevoked(ctx, username, tokenID)
}

func (g *guardedLedger) Revoke(ctx context.Context, username, tokenID string, expiry time.Time) error {
	if err := g.guard(ctx); err != nil {
		return err
	}
	return g.Ledger.Revoke(ctx, username, tokenID, expiry)
}

// New builds a fully wired gateway from the validated configuration.
// The log ring buffer is created by the caller alongside the logger so
// lines emitted before New are already captured.
func New(cfg *config.Config, logBuffer *logging.RingBuffer) (*Gateway, error) {
	g := &Gateway{
		cfg:       cfg,
		chaos:     chaos.NewRegistry(),
		metrics:   metrics.NewStore(),
		logBuffer: logBuffer,
	}

	if err := g.initStore(); err != nil {
		return nil, err
	}

	g.cache = cache.New(cfg.Store.CacheSize, time.Duration(cfg.Store.CacheTTLSeconds)*time.Second)
	g.catalog = catalog.New(g.store, g.cache, cfg.Limits.MaxPageSize)
	g.authz = authz.NewEvaluator(g.catalog)

	g.initAuth()
	g.initRateLimit()
	g.initCredits()

	if err := g.initDispatch(); err != nil {
		return nil, err
	}

	g.initObservability()

	if g.mem != nil {
		ctx, cancel := context.WithCancel(context.Background())
		g.autoSaveCancel = cancel
		go store.RunAutoSave(ctx, g.snapshotter, g.autoSaveSettings)
	}

	logging.Info("gateway assembled",
		zap.String("store_mode", cfg.Store.Mode),
		zap.Strings("protocols", protocol.RegisteredNames()),
		zap.Bool("tracing", g.tracer.IsEnabled()))
	return g, nil
}

// initStore selects the memory or external backend per MEM_OR_EXTERNAL.
// The external backend shares one Redis client between documents,
// counters, and the revocation ledger.
func (g *Gateway) initStore() error {
	if g.cfg.Store.Mode == config.ModeExternal {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		client, err := store.Connect(ctx, g.cfg.Store.RedisURL)
		if err != nil {
			return err
		}
		g.redis = store.NewRedis(store.RedisOptions{
			Client:           client,
			Guard:            g.chaos.Guard("mongo"),
			FailureThreshold: uint32(g.cfg.Store.BreakerFailureThreshold),
		})
		g.store = g.redis
		return nil
	}

	g.mem = store.NewMemory()
	g.store = g.mem
	g.snapshotter = store.NewSnapshotter(g.mem, g.cfg.Store.EncryptionKey, g.cfg.Store.DumpPath)
	return nil
}

func (g *Gateway) initAuth() {
	ttl := time.Duration(g.cfg.Auth.TokenTTLMinutes) * time.Minute
	csrfSecret := g.cfg.Auth.TokenEncryptionKey
	if csrfSecret == "" {
		csrfSecret = g.cfg.Auth.JWTSecretKey
	}

	if g.redis != nil {
		g.ledger = &guardedLedger{
			Ledger: auth.NewRedisLedger(g.redis.Client()),
			guard:  g.chaos.Guard("redis"),
		}
	} else {
		g.ledger = auth.NewMemoryLedger(time.Minute)
	}

	g.hasher = auth.NewHasher(g.cfg.Server.Threads)
	g.kernel = auth.NewKernel(
		auth.NewTokenIssuer(g.cfg.Auth.JWTSecretKey, ttl),
		auth.NewCSRFSigner(csrfSecret, ttl),
		auth.CookieWriter{
			Domain: g.cfg.Server.CookieDomain,
			Secure: g.cfg.Server.HTTPSPosture(),
		},
		g.ledger,
		g.hasher,
		g.catalog,
	)
}

func (g *Gateway) initRateLimit() {
	if g.redis != nil {
		g.counter = ratelimit.NewRedisCounter(g.redis.Client(), "doorman:rl:")
	} else {
		g.counter = ratelimit.NewMemoryCounter()
	}
	g.throttle = ratelimit.NewLoginThrottle(
		g.counter,
		g.cfg.RateLimit.LoginLimit,
		time.Duration(g.cfg.RateLimit.LoginWindowSeconds)*time.Second,
		g.cfg.RateLimit.LoginDisabled,
	)
	g.rules = ratelimit.NewRuleEngine(g.counter)
}

func (g *Gateway) initCredits() {
	opts := []credits.Option{}
	if g.cfg.Auth.TokenEncryptionKey != "" {
		if sealer, err := credits.NewSealer(g.cfg.Auth.TokenEncryptionKey); err == nil {
			opts = append(opts, credits.WithSealer(sealer))
		} else {
			logging.Warn("credit key sealing disabled", zap.Error(err))
		}
	}
	if g.redis != nil {
		opts = append(opts, credits.WithRedis(g.redis))
	}
	g.credits = credits.NewService(g.catalog, opts...)
}

// initDispatch builds the upstream path: resolver, server election,
// forwarding client, proto descriptors, and one dispatcher per
// registered protocol family.
func (g *Gateway) initDispatch() error {
	g.resolver = resolve.New(g.catalog)
	g.selector = proxy.NewSelector(g.catalog)
	g.transports = proxy.NewTransportPool(proxy.DefaultTransportConfig())
	g.forwarder = proxy.NewForwarder(g.transports,
		time.Duration(g.cfg.Server.UpstreamTimeoutSeconds)*time.Second)

	protos, err := proto.NewManager("")
	if err != nil {
		return err
	}
	g.protos = protos

	deps := protocol.Deps{
		Selector:    g.selector,
		Forwarder:   g.forwarder,
		Descriptors: g.protos,
	}
	g.dispatchers = make(map[string]protocol.Dispatcher)
	for _, name := range protocol.RegisteredNames() {
		d, err := protocol.New(name, deps)
		if err != nil {
			return err
		}
		g.dispatchers[name] = d
	}
	return nil
}

func (g *Gateway) initObservability() {
	g.corsEval = cors.NewEvaluator(cors.NewPolicy(cors.Options{
		AllowOrigins:     g.cfg.CORS.AllowedOrigins,
		AllowMethods:     g.cfg.CORS.AllowMethods,
		AllowHeaders:     g.cfg.CORS.AllowHeaders,
		AllowCredentials: g.cfg.CORS.AllowCredentials,
		Strict:           g.cfg.CORS.Strict,
	}), g.cfg.CORS.Strict)

	g.compressor = compression.New(compression.Options{
		MinSize: g.cfg.Limits.CompressionMinSize,
	})

	g.checker = health.NewChecker(2 * time.Second)
	if g.redis != nil {
		docGuard := g.chaos.Guard("mongo")
		counterGuard := g.chaos.Guard("redis")
		g.checker.Register("mongodb", func(ctx context.Context) error {
			if err := docGuard(ctx); err != nil {
				return err
			}
			return g.redis.Ping(ctx)
		})
		g.checker.Register("redis", func(ctx context.Context) error {
			if err := counterGuard(ctx); err != nil {
				return err
			}
			return g.redis.Ping(ctx)
		})
	} else {
		memGuard := g.chaos.Guard("memory")
		g.checker.Register("memory", func(ctx context.Context) error {
			if err := memGuard(ctx); err != nil {
				return err
			}
			return g.mem.Ping(ctx)
		})
	}

	tracer, err := tracing.New(g.cfg.Tracing)
	if err != nil {
		logging.Warn("tracing disabled", zap.Error(err))
		tracer, _ = tracing.New(config.TracingConfig{})
	}
	g.tracer = tracer
}

// autoSaveSettings reads the live security settings so runtime changes
// to the auto-save toggles apply without a restart.
func (g *Gateway) autoSaveSettings() (bool, time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := g.catalog.SecuritySettings(ctx)
	if err != nil || s == nil {
		return false, 0
	}
	return s.EnableAutoSave, time.Duration(s.AutoSaveFrequencySeconds) * time.Second
}

// SeedAdmin bootstraps the admin account from configuration when the
// user collection is empty.
func (g *Gateway) SeedAdmin(ctx context.Context) error {
	return g.kernel.SeedAdmin(ctx, g.cfg.Auth.AdminEmail, g.cfg.Auth.AdminPassword)
}

// Handler builds the complete ingress surface. The shared outer chain
// runs in request order: recovery, request id, metrics observation,
// optional latency chaos, IP allow/deny, optional tracing, response
// compression. Authentication, CORS, rate limits, and body caps are
// applied per branch below it.
func (g *Gateway) Handler() http.Handler {
	platform := g.platformHandler()
	api := g.apiHandler()
	scrape := metrics.Handler(g.metrics, g.cfg.Metrics)

	mux := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/metrics":
			scrape.ServeHTTP(w, r)
		case strings.HasPrefix(r.URL.Path, "/platform/"):
			platform.ServeHTTP(w, r)
		case r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/"):
			api.ServeHTTP(w, r)
		default:
			writeError(w, r, apierrors.ErrResourceNotFound)
		}
	})

	chain := middleware.NewBuilder().
		Use(middleware.Recovery()).
		Use(middleware.RequestID()).
		Use(middleware.ObserveWithConfig(g.metrics, middleware.ObserveConfig{
			SkipPaths: []string{"/api/health", "/platform/monitor/liveness", "/platform/monitor/readiness"},
		})).
		UseIf(g.cfg.Chaos.EnableLatencyInjection,
			middleware.LatencyInjection(time.Duration(g.cfg.Chaos.LatencyInjectionMs)*time.Millisecond)).
		Use(middleware.IPPolicy(g.catalog)).
		UseIf(g.tracer.IsEnabled(), g.tracer.Middleware()).
		Use(g.compressor.Middleware()).
		Build()

	return chain.Then(mux)
}

// platformHandler serves /platform/* under the global CORS policy and
// the request body cap. Routes split across two httprouter trees:
// static-prefixed paths match first and anything else falls through to
// the parameterized tree, so /platform/user/me and /platform/user/:name
// can coexist.
func (g *Gateway) platformHandler() http.Handler {
	static := newRouterTree()
	params := newRouterTree()
	static.NotFound = params
	params.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, apierrors.ErrResourceNotFound)
	})

	g.registerPlatformRoutes(static, params)

	chain := middleware.NewChain(
		middleware.CORS(g.corsEval.Global()),
		middleware.BodyLimit(g.cfg.Limits.MaxBodySizeBytes),
	)
	return chain.Then(static)
}

// apiHandler serves the operational endpoints and the four protocol
// dispatch prefixes. CORS here is per-API, applied inside dispatch.
func (g *Gateway) apiHandler() http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/health" && r.Method == http.MethodGet:
			g.handleLiveness(w, r)
		case r.URL.Path == "/api/status" && r.Method == http.MethodGet:
			g.handleStatus(w, r)
		case r.URL.Path == "/api/caches" && r.Method == http.MethodDelete:
			g.handleClearCaches(w, r)
		default:
			g.dispatch(w, r)
		}
	})
	return middleware.BodyLimit(g.cfg.Limits.MaxBodySizeBytes)(inner)
}

// routerTree is an httprouter with redirects and automatic 405s off, so
// unmatched paths fall through NotFound to the next tree and every error
// renders as a gateway envelope.
type routerTree struct {
	*httprouter.Router
}

func (t *routerTree) handle(method, path string, h http.Handler) {
	t.Handler(method, path, h)
}

func newRouterTree() *routerTree {
	tree := httprouter.New()
	tree.HandleMethodNotAllowed = false
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false
	return &routerTree{Router: tree}
}

func (g *Gateway) registerPlatformRoutes(static, params *routerTree) {
	g.registerAuthRoutes(static, params)
	g.registerUserRoutes(static, params)
	g.registerAPIRoutes(static, params)
	g.registerCreditRoutes(static, params)
	g.registerRoutingRoutes(static, params)
	g.registerDatasetRoutes(static, params)
	g.registerOpsRoutes(static, params)
	g.registerProtoRoutes(params)
}

// Close releases every subsystem. Safe to call once after the server
// drains; a final memory dump is written when auto-save is enabled.
func (g *Gateway) Close() {
	if g.autoSaveCancel != nil {
		g.autoSaveCancel()
	}

	if g.snapshotter != nil {
		if enabled, _ := g.autoSaveSettings(); enabled {
			if path, err := g.snapshotter.Dump(); err != nil {
				logging.Error("final memory dump failed", zap.Error(err))
			} else {
				logging.Info("final memory dump written", zap.String("path", path))
			}
		}
	}

	g.rules.Close()
	if mc, ok := g.counter.(*ratelimit.MemoryCounter); ok {
		mc.Close()
	}
	if ml, ok := g.ledger.(*auth.MemoryLedger); ok {
		ml.Close()
	}
	g.transports.CloseIdleConnections()

	if g.tracer != nil {
		if err := g.tracer.Close(); err != nil {
			logging.Warn("tracer shutdown failed", zap.Error(err))
		}
	}

	if err := g.store.Close(); err != nil {
		logging.Warn("store close failed", zap.Error(err))
	}
}
