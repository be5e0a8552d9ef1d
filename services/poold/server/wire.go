package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config captures the settings required to construct the HTTP server's
// middleware chain and TLS listener, the HTTP analogue of the teacher's
// gRPC server.Config.
type Config struct {
	TLSCertFile      string
	TLSKeyFile       string
	TLSClientCAFile  string
	AllowInsecure    bool
	MTLSRequired     bool
	AllowedClientCNs []string
	RateLimitPerMin  int
	APITokens        []string
	JWTSigningKey    []byte
	Logger           *slog.Logger
}

// TLSConfig builds a *tls.Config from the cert/key/client-CA settings, or
// nil if plaintext is explicitly allowed.
func TLSConfig(cfg Config) (*tls.Config, error) {
	certPath := strings.TrimSpace(cfg.TLSCertFile)
	keyPath := strings.TrimSpace(cfg.TLSKeyFile)
	clientCAPath := strings.TrimSpace(cfg.TLSClientCAFile)

	if certPath == "" || keyPath == "" {
		if cfg.MTLSRequired || len(cfg.AllowedClientCNs) > 0 {
			return nil, fmt.Errorf("mtls requires server certificate, key, and client ca configuration")
		}
		if cfg.AllowInsecure {
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
	}

	requireClientCert := cfg.MTLSRequired || len(cfg.AllowedClientCNs) > 0
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
	}

	if requireClientCert {
		if tlsCfg.ClientCAs == nil {
			return nil, fmt.Errorf("client ca bundle required for mtls")
		}
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else if tlsCfg.ClientCAs != nil {
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	} else {
		tlsCfg.ClientAuth = tls.NoClientCert
	}

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := make(map[string]struct{}, len(cfg.AllowedClientCNs))
		for _, name := range cfg.AllowedClientCNs {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				allowed[trimmed] = struct{}{}
			}
		}
		tlsCfg.VerifyConnection = func(cs tls.ConnectionState) error {
			for _, chain := range cs.VerifiedChains {
				if len(chain) == 0 {
					continue
				}
				if _, ok := allowed[strings.TrimSpace(chain[0].Subject.CommonName)]; ok {
					return nil
				}
			}
			for _, cert := range cs.PeerCertificates {
				if _, ok := allowed[strings.TrimSpace(cert.Subject.CommonName)]; ok {
					return nil
				}
			}
			return fmt.Errorf("client certificate common name not allowed")
		}
	}

	return tlsCfg, nil
}

// Middleware builds the logging, recovery, rate-limiting, and auth chain
// wrapping the router, in the same order the teacher chains gRPC
// interceptors.
func Middleware(cfg Config, next http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler := next
	auth := newAuthenticator(AuthConfig{
		APITokens:        cfg.APITokens,
		JWTSigningKey:    cfg.JWTSigningKey,
		AllowedClientCNs: cfg.AllowedClientCNs,
		MTLSRequired:     cfg.MTLSRequired,
	})
	handler = auth.middleware(handler)

	if limiter := newRequestLimiter(cfg.RateLimitPerMin); limiter != nil {
		handler = limiter.middleware(handler)
	}

	handler = recoveryMiddleware(logger, handler)
	handler = loggingMiddleware(logger, handler)
	return handler
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic in http handler", "path", r.URL.Path, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, errorBody{Code: -1, Message: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type requestLimiter struct {
	mu       sync.Mutex
	perAddr  map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newRequestLimiter(perMinute int) *requestLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &requestLimiter{
		perAddr: make(map[string]*rate.Limiter),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
	}
}

func (l *requestLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.perAddr[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.perAddr[key] = lim
	}
	return lim
}

func (l *requestLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := r.RemoteAddr
		if !l.limiterFor(key).Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Code: -1, Message: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
