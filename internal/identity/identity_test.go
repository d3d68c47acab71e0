package identity

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/pglive/internal/infrastructure/config"
)

func testResolver() *Resolver {
	return NewResolver(config.SecurityConfig{
		JWT:            config.JWTConfig{Secret: "test-secret", RoleField: "identity_role"},
		AnonymousRole:  "anonymous",
		AccessTokenKey: "accessToken",
		HeaderPrefix:   "x-pglive-",
	})
}

func TestResolver_Token(t *testing.T) {
	r := testResolver()

	tests := []struct {
		name    string
		url     string
		headers map[string]string
		want    string
	}{
		{"none", "/live", nil, ""},
		{"bearer", "/live", map[string]string{"Authorization": "Bearer abc"}, "abc"},
		{"lowercase scheme", "/live", map[string]string{"Authorization": "bearer abc"}, "abc"},
		{"basic ignored", "/live?accessToken=q", map[string]string{"Authorization": "Basic xyz"}, "q"},
		{"query", "/live?accessToken=q", nil, "q"},
		{"header", "/live", map[string]string{"X-Pglive-Accesstoken": "h"}, "h"},
		{"bearer wins over query", "/live?accessToken=q", map[string]string{"Authorization": "Bearer b"}, "b"},
		{"query wins over header", "/live?accessToken=q", map[string]string{"x-pglive-accesstoken": "h"}, "q"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := r.Token(req); got != tt.want {
				t.Errorf("Token() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	r := testResolver()

	valid, err := r.Sign("viewer", map[string]any{"sub": "user-1"}, time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	noRole, err := r.Sign("", map[string]any{"sub": "user-2"}, time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"identity_role": "viewer",
		"exp":           time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing expired token: %v", err)
	}
	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"identity_role": "admin",
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("signing foreign token: %v", err)
	}

	tests := []struct {
		name      string
		token     string
		wantRole  string
		wantAuthn bool
	}{
		{"no token", "", "anonymous", false},
		{"valid", valid, "viewer", true},
		{"missing role claim", noRole, "anonymous", true},
		{"expired", expired, "anonymous", false},
		{"wrong secret", wrongKey, "anonymous", false},
		{"garbage", "not.a.token", "anonymous", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/live", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			id := r.Resolve(req)
			if id.Role != tt.wantRole {
				t.Errorf("Role = %q, want %q", id.Role, tt.wantRole)
			}
			if id.Authenticated != tt.wantAuthn {
				t.Errorf("Authenticated = %v, want %v", id.Authenticated, tt.wantAuthn)
			}
		})
	}

	req := httptest.NewRequest("GET", "/live?accessToken="+valid, nil)
	id := r.Resolve(req)
	if id.Claims["sub"] != "user-1" {
		t.Errorf("Claims[sub] = %v, want user-1", id.Claims["sub"])
	}
}

func TestResolver_VerifyRejectsOtherAlgorithms(t *testing.T) {
	r := testResolver()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"identity_role": "admin",
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := r.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
	}
}

func TestResolver_VerifyWithoutSecret(t *testing.T) {
	r := NewResolver(config.SecurityConfig{
		JWT:           config.JWTConfig{RoleField: "identity_role"},
		AnonymousRole: "anonymous",
	})
	if _, err := r.Verify("a.b.c"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
	}
	if got := r.Resolve(httptest.NewRequest("GET", "/live?accessToken=x", nil)).Role; got != "anonymous" {
		t.Errorf("Resolve() role = %q, want anonymous", got)
	}
}
