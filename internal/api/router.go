package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"igharvest/internal/metrics"
	"igharvest/internal/pipeline"
	"igharvest/internal/session"
	"igharvest/internal/store"
	"igharvest/pkg/logger"
	"igharvest/pkg/models"
)

// SessionService is the session surface the handlers use.
type SessionService interface {
	Status() session.Status
	Login(ctx context.Context, username, password string) error
	SubmitCode(ctx context.Context, code string) error
	Logout(ctx context.Context) error
	GetProfile(ctx context.Context, username string) (*models.Profile, error)
	GetPost(ctx context.Context, shortcode string) (*models.Post, error)
	GetPostMedia(ctx context.Context, shortcode string) ([]models.MediaItem, error)
	GetPostMediaBytes(ctx context.Context, shortcode string, index int) (*models.Media, error)
	GetStories(ctx context.Context, username string) ([]models.MediaItem, error)
	GetStoryMedia(ctx context.Context, username string, index int) (*models.Media, error)
}

// ProductReader queries stored products.
type ProductReader interface {
	ListProducts(ctx context.Context, f store.ProductFilter) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CountProducts(ctx context.Context) (int, error)
}

// BatchRunner runs one extraction batch.
type BatchRunner interface {
	RunOnce(ctx context.Context) pipeline.Summary
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Recorder receives request and login outcomes.
type Recorder interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordLogin(step string, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordHTTPRequest(string, string, int, time.Duration) {}
func (nopRecorder) RecordLogin(string, error)                             {}

// Deps holds the collaborators of the router. Session is required; the
// rest are optional and their routes answer 503 when missing.
type Deps struct {
	Session  SessionService
	Products ProductReader
	Pipeline BatchRunner
	Health   HealthChecker
	Recorder Recorder
	// Gatherer backs /metrics; nil disables the route
	Gatherer prometheus.Gatherer

	// BaseContext bounds batches started over HTTP; nil uses context.Background()
	BaseContext context.Context
	// Jobs tracks those batches so the caller can wait for them on shutdown
	Jobs        *sync.WaitGroup

	LoginRatePerMinute int
	LoginBurst         int

	Logger logger.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	session  SessionService
	products ProductReader
	pipeline BatchRunner
	health   HealthChecker
	recorder Recorder
	validate *validator.Validate
	logger   logger.Logger

	baseCtx context.Context
	jobs    *sync.WaitGroup
	running atomic.Bool
}

// NewRouter builds the chi router with every route and middleware.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logger.GetLogger()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	if deps.Jobs == nil {
		deps.Jobs = &sync.WaitGroup{}
	}
	log := deps.Logger.WithField("component", "api")

	h := &Handler{
		session:  deps.Session,
		products: deps.Products,
		pipeline: deps.Pipeline,
		health:   deps.Health,
		recorder: deps.Recorder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log,
		baseCtx:  deps.BaseContext,
		jobs:     deps.Jobs,
	}
	limiter := newLoginLimiter(deps.LoginRatePerMinute, deps.LoginBurst)

	r := chi.NewRouter()
	r.Use(requestLogger(log, deps.Recorder))
	r.Use(recoverer(log))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Group(func(r chi.Router) {
		r.Use(limiter.middleware(log))
		r.Post("/login", h.Login)
		r.Post("/login/2fa", h.LoginTwoFactor)
	})
	r.Post("/logout", h.Logout)
	r.Get("/login/status", h.LoginStatus)

	r.Get("/profile/{username}", h.Profile)
	r.Route("/post/{shortcode}", func(r chi.Router) {
		r.Get("/", h.Post)
		r.Get("/media", h.PostMedia)
		r.Get("/media/{index}", h.PostMediaBytes)
	})
	r.Route("/stories/{username}", func(r chi.Router) {
		r.Get("/", h.Stories)
		r.Get("/media/{index}", h.StoryMediaBytes)
	})

	r.Get("/items", h.ListItems)
	r.Get("/items/{id}", h.GetItem)
	r.Post("/admin/trigger-run", h.TriggerRun)
	r.Get("/healthz", h.Healthz)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}
