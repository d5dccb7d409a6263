package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newJWTService(t *testing.T) *Service {
	t.Helper()

	store, err := NewMemoryStore([]Seed{
		{
			Username:    "ops",
			Password:    "super-secret",
			Roles:       []string{"operator"},
			Permissions: []string{"runs:read", "runs:write"},
		},
		{
			Username:    "viewer",
			Password:    "view-only",
			Permissions: []string{"runs:read"},
		},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	svc, err := NewService(context.Background(), Config{
		Mode: ModeJWT,
		JWT: JWTOptions{
			Secret:   "unit-test-secret",
			Issuer:   "planpilot-test",
			Audience: []string{"planpilot"},
		},
	}, store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestAuthenticateIssuesVerifiableToken(t *testing.T) {
	svc := newJWTService(t)
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, TokenRequest{GrantType: "password", Username: "ops", Password: "super-secret"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if pair.AccessToken == "" || pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token pair: %+v", pair)
	}

	subject, err := svc.AuthenticateRequest(ctx, "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if subject.Username != "ops" {
		t.Fatalf("unexpected subject: %+v", subject)
	}
	if !subject.HasPermission("runs:write") {
		t.Fatalf("expected runs:write permission, got %+v", subject.Permissions)
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	svc := newJWTService(t)
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, TokenRequest{GrantType: "password", Username: "ops", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, TokenRequest{GrantType: "client_credentials", Username: "ops", Password: "super-secret"}); !errors.Is(err, ErrUnsupportedGrant) {
		t.Fatalf("expected unsupported grant, got %v", err)
	}
}

func TestAuthenticateRequestRejectsGarbage(t *testing.T) {
	svc := newJWTService(t)
	ctx := context.Background()

	if _, err := svc.AuthenticateRequest(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Bearer not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestMiddlewareEnforcesPermissions(t *testing.T) {
	svc := newJWTService(t)
	ctx := context.Background()

	viewer, err := svc.Authenticate(ctx, TokenRequest{GrantType: "password", Username: "viewer", Password: "view-only"})
	if err != nil {
		t.Fatalf("authenticate viewer: %v", err)
	}

	protected := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {"runs:read"},
			http.MethodPost: {"runs:write"},
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SubjectFromContext(r.Context()) == nil {
			t.Errorf("expected subject in request context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("read allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		req.Header.Set("Authorization", "Bearer "+viewer.AccessToken)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
	})

	t.Run("write forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
		req.Header.Set("Authorization", "Bearer "+viewer.AccessToken)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected status %d, got %d", http.StatusForbidden, rec.Code)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
		}
	})
}

func TestDisabledServiceShortCircuits(t *testing.T) {
	svc, err := NewService(context.Background(), Config{Mode: ModeDisabled}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Mode() != ModeDisabled {
		t.Fatalf("unexpected mode: %s", svc.Mode())
	}
	if _, err := svc.Authenticate(context.Background(), TokenRequest{GrantType: "password"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
}
