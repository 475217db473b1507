package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/veil/internal/engine"
	"github.com/dativo-io/veil/internal/evidence"
	"github.com/dativo-io/veil/internal/extract"
	veilotel "github.com/dativo-io/veil/internal/otel"
	"github.com/dativo-io/veil/internal/pii"
	"github.com/dativo-io/veil/internal/review"
	"github.com/dativo-io/veil/internal/rules"
)

const (
	defaultTimeout = 60 * time.Second
	// maxJSONBody bounds JSON request bodies; uploads are bounded by the
	// extractor's own limit.
	maxJSONBody = 16 << 20
)

// Detector runs detection for a request. *engine.Dispatcher and
// *engine.Engine both satisfy it.
type Detector interface {
	Detect(ctx context.Context, text string, rules []pii.CustomRule) (*engine.Detection, error)
}

// Server holds the dependencies of the HTTP API.
type Server struct {
	router      *chi.Mux
	detector    Detector
	extractor   *extract.Extractor
	rules       *rules.Store        // optional
	sessions    *review.Store       // optional
	evidence    *evidence.Store     // optional
	generator   *evidence.Generator // set with evidence
	limiter     *RateLimiter        // optional
	apiKeys     map[string]string
	corsOrigins []string
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithRuleStore enables /v1/rules and applies the enabled stored rules to
// every detection.
func WithRuleStore(st *rules.Store) Option {
	return func(s *Server) { s.rules = st }
}

// WithSessionStore enables /v1/sessions.
func WithSessionStore(st *review.Store) Option {
	return func(s *Server) { s.sessions = st }
}

// WithEvidenceStore records signed evidence for every redacted output and
// enables /v1/evidence.
func WithEvidenceStore(st *evidence.Store) Option {
	return func(s *Server) {
		s.evidence = st
		s.generator = evidence.NewGenerator(st)
	}
}

// WithExtractor replaces the default 10 MB extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(s *Server) { s.extractor = e }
}

// WithRateLimiter limits requests per caller.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// WithAPIKeys requires one of the keys on every /v1 request. keys maps
// key -> caller name.
func WithAPIKeys(keys map[string]string) Option {
	return func(s *Server) { s.apiKeys = keys }
}

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"]).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer builds a Server around detector.
func NewServer(detector Detector, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		detector:    detector,
		extractor:   extract.NewExtractor(10),
		corsOrigins: []string{"*"},
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the chi router with all middleware and routes.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(veilotel.MiddlewareWithStatus())
	r.Use(CORSMiddleware(s.corsOrigins))

	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.limiter))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/detect", s.handleDetect)
		r.Post("/v1/redact", s.handleRedact)
		r.Post("/v1/highlight", s.handleHighlight)
		r.Post("/v1/stats", s.handleStats)
		r.Post("/v1/extract", s.handleExtract)

		r.Route("/v1/rules", func(r chi.Router) {
			r.Use(s.requireRules)
			r.Get("/", s.handleRulesList)
			r.Post("/", s.handleRulesAdd)
			r.Get("/{id}", s.handleRulesGet)
			r.Put("/{id}", s.handleRulesUpdate)
			r.Delete("/{id}", s.handleRulesDelete)
			r.Post("/{id}/toggle", s.handleRulesToggle)
		})

		r.Route("/v1/sessions", func(r chi.Router) {
			r.Use(s.requireSessions)
			r.Get("/", s.handleSessionsList)
			r.Post("/", s.handleSessionsCreate)
			r.Get("/{id}", s.handleSessionsGet)
			r.Delete("/{id}", s.handleSessionsDelete)
			r.Post("/{id}/findings/{finding}", s.handleSessionsToggle)
			r.Post("/{id}/findings", s.handleSessionsToggleAll)
			r.Get("/{id}/redacted", s.handleSessionsRedacted)
			r.Get("/{id}/highlight", s.handleSessionsHighlight)
		})

		r.Route("/v1/evidence", func(r chi.Router) {
			r.Use(s.requireEvidence)
			r.Get("/", s.handleEvidenceList)
			r.Post("/export", s.handleEvidenceExport)
			r.Get("/{id}", s.handleEvidenceGet)
			r.Get("/{id}/verify", s.handleEvidenceVerify)
		})
	})

	return r
}

func (s *Server) requireRules(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rules == nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "rule store is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireSessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "session store is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireEvidence(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.evidence == nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "evidence store is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}
