package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/pglive/internal/infrastructure/config"
)

// ErrTokenInvalid is returned by Verify for tokens that fail verification.
var ErrTokenInvalid = errors.New("identity: token invalid")

// Identity is who a request acts as.
type Identity struct {
	Role string

	// Claims are the verified token claims, nil for anonymous requests.
	Claims map[string]any

	Authenticated bool
}

// Resolver reads identities from requests.
type Resolver struct {
	secret        []byte
	roleField     string
	anonymousRole string
	tokenKey      string
	tokenHeader   string
}

// NewResolver builds a Resolver from the security configuration.
func NewResolver(cfg config.SecurityConfig) *Resolver {
	return &Resolver{
		secret:        []byte(cfg.JWT.Secret),
		roleField:     cfg.JWT.RoleField,
		anonymousRole: cfg.AnonymousRole,
		tokenKey:      cfg.AccessTokenKey,
		tokenHeader:   cfg.HeaderPrefix + strings.ToLower(cfg.AccessTokenKey),
	}
}

// Anonymous returns the identity used when no valid token is presented.
func (r *Resolver) Anonymous() Identity {
	return Identity{Role: r.anonymousRole}
}

// Token extracts the raw access token from req, or "" when none is present.
func (r *Resolver) Token(req *http.Request) string {
	if auth := req.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	if r.tokenKey != "" {
		if token := req.URL.Query().Get(r.tokenKey); token != "" {
			return token
		}
		if token := req.Header.Get(r.tokenHeader); token != "" {
			return token
		}
	}
	return ""
}

// Resolve returns the identity for req, falling back to the anonymous role.
func (r *Resolver) Resolve(req *http.Request) Identity {
	token := r.Token(req)
	if token == "" {
		return r.Anonymous()
	}
	id, err := r.Verify(token)
	if err != nil {
		return r.Anonymous()
	}
	return id
}

// Verify checks an HS256 token and returns its identity. A verified token
// without a usable role claim acts as the anonymous role.
func (r *Resolver) Verify(token string) (Identity, error) {
	if len(r.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: no secret configured", ErrTokenInvalid)
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}

	role, _ := claims[r.roleField].(string)
	if role == "" {
		role = r.anonymousRole
	}
	return Identity{Role: role, Claims: claims, Authenticated: true}, nil
}

// Sign issues an HS256 token carrying role and extra claims. It is used by
// tooling and tests; production tokens come from the identity provider.
func (r *Resolver) Sign(role string, extra map[string]any, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims[r.roleField] = role
	now := time.Now()
	claims["iat"] = now.Unix()
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
