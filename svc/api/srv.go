package api

import (
	"context"
	"hastebin/cfg"
	"hastebin/svc/db"
	"hastebin/svc/svc"
	"hastebin/svc/util"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	paste      *svc.Paste
	cfg        *cfg.Cfg
	db         *db.SQL
	rdb        *db.Redis
	errRate    *ErrorRate
	httpServer *http.Server
}

// NewServer builds the router. rdb may be nil.
func NewServer(c *cfg.Cfg, p *svc.Paste, sqlDB *db.SQL, rdb *db.Redis) *Server {
	s := &Server{
		paste:   p,
		cfg:     c,
		db:      sqlDB,
		rdb:     rdb,
		errRate: NewErrorRate(),
	}
	r := chi.NewRouter()
	mw := NewMw(c, s.errRate)
	r.Use(mw.CORS)
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	if c.Environment == "development" {
		r.Mount("/debug", middleware.Profiler())
	}
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if c.TrustedProxies {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.Observe)
		hdl := &Hdl{paste: p, cfg: c}
		r.Get("/", hdl.Index)
		r.Post("/create", hdl.CreatePaste)
		r.Get("/fetch/{id}", hdl.FetchPaste)
	})
	s.router = r
	s.httpServer = &http.Server{
		Addr:              c.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    256 * 1024,
	}
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start blocks until the server stops. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.errRate.Start()
	util.Info().Str("addr", s.httpServer.Addr).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("addr", s.httpServer.Addr).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	s.errRate.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
