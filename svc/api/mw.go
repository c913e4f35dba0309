package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"hastebin/cfg"
	"hastebin/metrics"
	"hastebin/svc/util"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

type Mw struct {
	cfg     *cfg.Cfg
	errRate *ErrorRate
}

func NewMw(c *cfg.Cfg, errRate *ErrorRate) *Mw {
	return &Mw{cfg: c, errRate: errRate}
}
func (m *Mw) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := util.RequestIDFromHeader(r.Header.Get("X-Request-ID"))
		if !ok {
			requestID = util.NewRequestID()
		}
		ctx := util.SetRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
func (m *Mw) ContextTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), m.cfg.ContextTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
func (m *Mw) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
func (m *Mw) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := util.GetRequestID(r.Context())
				util.Error().
					Interface("panic", rvr).
					Str("request_id", requestID).
					Msg("panic recovered")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]string{
					"error":      "internal server error",
					"request_id": requestID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS allows the configured origins; "*" allows any origin, method and header.
func (m *Mw) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := ""
		for _, o := range m.cfg.AllowedOrigins {
			if o == "*" {
				allowed = "*"
				break
			}
			if origin != "" && origin == o {
				allowed = origin
				break
			}
		}
		if allowed != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			if allowed != "*" {
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" && allowed == "*" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			} else {
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			}
			h.Set("Access-Control-Max-Age", "300")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
func (m *Mw) BasicAuthMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.cfg.MetricsUser == "" && m.cfg.MetricsPass.Value() == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		userMatch := 0
		passMatch := 0
		if ok {
			userMatch = subtle.ConstantTimeCompare([]byte(user), []byte(m.cfg.MetricsUser))
			passMatch = subtle.ConstantTimeCompare([]byte(pass), []byte(m.cfg.MetricsPass.Value()))
		}
		if !ok || userMatch != 1 || passMatch != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Observe records request duration per route and feeds the error rate tracker.
func (m *Mw) Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.RequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.status)).
			Observe(time.Since(start).Seconds())
		if m.errRate != nil {
			m.errRate.RecordRequest()
			if ww.status >= 500 {
				m.errRate.RecordError()
			}
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}
func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
