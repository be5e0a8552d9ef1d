package server

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const envAPIToken = "LEND_API_TOKEN"

// AuthConfig describes the authentication requirements enforced by the HTTP
// middleware, the JSON/HTTP analogue of the teacher's gRPC AuthConfig.
type AuthConfig struct {
	APITokens        []string
	JWTSigningKey    []byte
	AllowedClientCNs []string
	MTLSRequired     bool
}

type authContextKey struct{}

func markAuthenticated(ctx context.Context) context.Context {
	return context.WithValue(ctx, authContextKey{}, true)
}

func isAuthenticated(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	value, ok := ctx.Value(authContextKey{}).(bool)
	return ok && value
}

type authenticator struct {
	tokens       map[string]struct{}
	signingKey   []byte
	commonNames  map[string]struct{}
	allowByToken bool
	allowByMTLS  bool
	requireMTLS  bool
	requireToken bool
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	tokens := make(map[string]struct{})
	for _, token := range cfg.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens[trimmed] = struct{}{}
		}
	}
	if envToken := strings.TrimSpace(os.Getenv(envAPIToken)); envToken != "" {
		tokens[envToken] = struct{}{}
	}

	commonNames := make(map[string]struct{})
	for _, name := range cfg.AllowedClientCNs {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			commonNames[trimmed] = struct{}{}
		}
	}

	_, requireToken := os.LookupEnv(envAPIToken)
	allowByMTLS := cfg.MTLSRequired || len(commonNames) > 0

	return &authenticator{
		tokens:       tokens,
		signingKey:   cfg.JWTSigningKey,
		commonNames:  commonNames,
		allowByToken: len(tokens) > 0 || len(cfg.JWTSigningKey) > 0,
		allowByMTLS:  allowByMTLS,
		requireMTLS:  cfg.MTLSRequired,
		requireToken: requireToken,
	}
}

// middleware wraps an http.Handler, rejecting unauthenticated requests with
// 401 before the handler runs.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := a.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *authenticator) authenticate(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	if a == nil {
		return ctx, errUnauthorized
	}
	if a.requireToken {
		if a.authenticateByToken(r) {
			return markAuthenticated(ctx), nil
		}
		return ctx, errUnauthorized
	}
	if a.allowByToken && a.authenticateByToken(r) {
		return markAuthenticated(ctx), nil
	}
	if a.allowByMTLS && a.authenticateByMTLS(r) {
		return markAuthenticated(ctx), nil
	}
	if a.requireMTLS {
		return ctx, errUnauthorized
	}
	if !a.allowByToken && !a.allowByMTLS {
		return markAuthenticated(ctx), nil
	}
	return ctx, errUnauthorized
}

func (a *authenticator) authenticateByToken(r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Api-Token"))
	}
	if token == "" {
		return false
	}
	if _, exists := a.tokens[token]; exists {
		return true
	}
	return a.authenticateByJWT(token)
}

func (a *authenticator) authenticateByJWT(raw string) bool {
	if len(a.signingKey) == 0 {
		return false
	}
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnauthorized
		}
		return a.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	return err == nil && parsed.Valid
}

func (a *authenticator) authenticateByMTLS(r *http.Request) bool {
	if r.TLS == nil {
		return false
	}
	state := *r.TLS
	if len(state.VerifiedChains) == 0 && len(state.PeerCertificates) == 0 {
		return false
	}
	if len(a.commonNames) == 0 {
		return true
	}
	for _, chain := range state.VerifiedChains {
		if len(chain) == 0 {
			continue
		}
		if a.commonNameAllowed(chain[0].Subject.CommonName) {
			return true
		}
	}
	for _, cert := range state.PeerCertificates {
		if a.commonNameAllowed(cert.Subject.CommonName) {
			return true
		}
	}
	return false
}

func (a *authenticator) commonNameAllowed(name string) bool {
	if len(a.commonNames) == 0 {
		return true
	}
	_, ok := a.commonNames[strings.TrimSpace(name)]
	return ok
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
