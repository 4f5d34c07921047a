package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/transcript"
)

// ServerOptions carries everything the HTTP surface is built from.
// Optional fields may be nil; their routes report not configured.
type ServerOptions struct {
	Config    *config.Config
	Store     transcript.Store
	Relay     http.Handler // the /stt WebSocket gateway
	RelayInfo RelayStatus
	Synth     SynthStatus
	Events    EventSource
	MQTT      MQTTStatus
	Logs      *LogHub // mounted at /logs in development only
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	// SSE streams and relay pairs run until their request context ends;
	// Shutdown cancels the base context so they do not hold it open.
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:         opts.Config.HTTPAddr,
		Handler:      NewRouter(opts),
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
		IdleTimeout:  opts.Config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancel)
	return &Server{http: srv, log: opts.Log}
}

// NewRouter builds the route tree. Split from NewServer so tests can drive it
// with httptest.
func NewRouter(opts ServerOptions) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)

	r.NotFound(NotFound)

	// Speech-to-text relay. Clients authenticate with the STT backend itself.
	if opts.Relay != nil {
		r.Get("/stt", opts.Relay.ServeHTTP)
	}

	// Liveness, readiness and metrics (no auth)
	r.Get("/platform/status", PlatformStatus)
	health := NewHealthHandler(opts.Store, opts.MQTT, opts.RelayInfo, opts.Synth, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	if opts.Logs != nil && opts.Config.IsDevelopment() {
		r.Get("/logs", opts.Logs.ServeHTTP)
	}

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(CORS(opts.Config.CORSOrigins))
		r.Use(BearerAuth(opts.Config.AuthToken))
		r.Route("/api/v1", func(r chi.Router) {
			if opts.Store != nil {
				NewTranscriptsHandler(opts.Store).Routes(r)
			}
			NewEventsHandler(opts.Events).Routes(r)
		})
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
