package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"riskledger/observability"
	"riskledger/observability/logging"
)

const (
	metricsModule   = "lending"
	requestIDHeader = "X-Request-Id"
	visitorTTL      = 5 * time.Minute
)

// TLSOptions captures the certificate material for the HTTPS listener.
type TLSOptions struct {
	CertFile      string
	KeyFile       string
	ClientCAFile  string
	AllowInsecure bool
}

// ServerTLSConfig builds the listener TLS configuration. A nil config with a
// nil error means plaintext was explicitly allowed.
func ServerTLSConfig(opts TLSOptions) (*tls.Config, error) {
	certPath := strings.TrimSpace(opts.CertFile)
	keyPath := strings.TrimSpace(opts.KeyFile)
	clientCAPath := strings.TrimSpace(opts.ClientCAFile)

	if certPath == "" || keyPath == "" {
		if clientCAPath != "" {
			return nil, fmt.Errorf("mtls requires server certificate and key")
		}
		if opts.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls certificate and key are required")
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if clientCAPath != "" {
		pem, err := os.ReadFile(clientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

// RateLimit bounds requests per client.
type RateLimit struct {
	PerMinute int
	Burst     int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client address and evicts idle
// buckets lazily.
type rateLimiter struct {
	limit    RateLimit
	mu       sync.Mutex
	visitors map[string]*visitor
	nowFn    func() time.Time
	lastGC   time.Time
}

func newRateLimiter(limit RateLimit) *rateLimiter {
	if limit.PerMinute <= 0 {
		return nil
	}
	if limit.Burst <= 0 {
		limit.Burst = 1
	}
	return &rateLimiter{limit: limit, visitors: make(map[string]*visitor), nowFn: time.Now}
}

func (r *rateLimiter) allow(id string) bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	now := r.nowFn()
	if now.Sub(r.lastGC) > visitorTTL {
		for key, v := range r.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(r.visitors, key)
			}
		}
		r.lastGC = now
	}
	v, ok := r.visitors[id]
	if !ok {
		every := rate.Every(time.Minute / time.Duration(r.limit.PerMinute))
		v = &visitor{limiter: rate.NewLimiter(every, r.limit.Burst)}
		r.visitors[id] = v
	}
	v.lastSeen = now
	r.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

func (r *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.allow(clientID(req)) {
			observability.ModuleMetrics().RecordThrottle(metricsModule, "rate_limit")
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// observe assigns a request id, records request metrics and writes one log
// line per request. Panics are converted into 500 responses.
func observe(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, requestID)
			rec := &statusRecorder{ResponseWriter: w}

			defer func() {
				if p := recover(); p != nil {
					logger.Error("panic in handler", "requestid", requestID, "panic", p)
					if rec.status == 0 {
						writeProblem(rec, http.StatusInternalServerError, "Internal", "internal error")
					}
				}
				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				route := routePattern(r)
				observability.ModuleMetrics().Observe(metricsModule, route, status, time.Since(start))
				attrs := []any{
					slog.String("requestid", requestID),
					slog.String("route", route),
					slog.Int("status", status),
					slog.Duration("duration", time.Since(start)),
					logging.MaskField("client", clientID(r)),
				}
				if auth := r.Header.Get("Authorization"); auth != "" {
					attrs = append(attrs, slog.String("authorization", logging.MaskSecret(auth)))
				}
				if status >= http.StatusInternalServerError {
					logger.Error("request failed", attrs...)
					return
				}
				logger.Debug("request served", attrs...)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return r.Method + " " + pattern
		}
	}
	return r.Method + " unmatched"
}
