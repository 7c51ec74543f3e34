package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"riskledger/crypto"
)

// AuthConfig configures bearer token verification for state-changing routes.
type AuthConfig struct {
	Secret    []byte
	Issuer    string
	Audience  []string
	ClockSkew time.Duration
}

type callerKey struct{}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
)

// Authenticator validates HMAC signed JWTs. The sub claim must be the bech32
// address of the caller; it becomes the principal for authorisation checks in
// the ledger.
type Authenticator struct {
	cfg    AuthConfig
	parser *jwt.Parser
}

// NewAuthenticator constructs an authenticator. An empty secret is rejected.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("auth: secret required")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if len(cfg.Audience) > 0 {
		opts = append(opts, jwt.WithAudience(cfg.Audience...))
	}
	return &Authenticator{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Authenticate resolves the caller address from an Authorization header value.
func (a *Authenticator) Authenticate(header string) (crypto.Address, error) {
	token, ok := parseBearerToken(header)
	if !ok {
		return crypto.Address{}, errMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.cfg.Secret, nil
	}); err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(claims.Subject))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: subject: %v", errInvalidToken, err)
	}
	return caller, nil
}

// Middleware rejects requests without a valid token and stores the caller in
// the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="riskledger"`)
			message := errInvalidToken.Error()
			if errors.Is(err, errMissingToken) {
				message = errMissingToken.Error()
			}
			writeProblem(w, http.StatusUnauthorized, codeUnauthenticated, message)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, caller crypto.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (crypto.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(crypto.Address)
	return caller, ok
}

func parseBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
