package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/shopline/storefront/internal/core/service"
	"github.com/shopline/storefront/internal/infrastructure/db/memory"
	"github.com/shopline/storefront/internal/infrastructure/token"
)

func newTestRouter(t *testing.T) *echo.Echo {
	t.Helper()
	codec, err := token.NewJWTCodec(token.Config{
		Secret:     "router-test-secret-0123456789abcdef",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	svc := service.NewAuthService(memory.NewPrincipalStore(), codec, zerolog.Nop(),
		service.AuthOptions{BcryptCost: bcrypt.MinCost})

	return NewRouter(Deps{
		Auth:     svc,
		Codec:    codec,
		Log:      zerolog.Nop(),
		Registry: prometheus.NewRegistry(),
	})
}

func call(t *testing.T, e *echo.Echo, method, path, body, bearer string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid json %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func TestRouter_SessionScenario(t *testing.T) {
	e := newTestRouter(t)
	const creds = `{"email":"a@b.com","password":"Abc12345!"}`

	code, body := call(t, e, http.MethodPost, "/auth/register",
		`{"email":"a@b.com","password":"Abc12345!","confirm_password":"Abc12345!","first_name":"Ann","last_name":"Bee"}`, "")
	if code != http.StatusCreated || body["email"] != "a@b.com" {
		t.Fatalf("register: %d %v", code, body)
	}

	code, body = call(t, e, http.MethodPost, "/auth/register",
		`{"email":"A@B.com","password":"Abc12345!","confirm_password":"Abc12345!","first_name":"Ann","last_name":"Bee"}`, "")
	if code != http.StatusConflict {
		t.Fatalf("duplicate register: %d %v", code, body)
	}

	code, first := call(t, e, http.MethodPost, "/auth/login", creds, "")
	if code != http.StatusOK || first["type"] != "Bearer" {
		t.Fatalf("login: %d %v", code, first)
	}
	r1, _ := first["refresh_token"].(string)
	a1, _ := first["access_token"].(string)

	code, refreshed := call(t, e, http.MethodPost, "/auth/token", `{"refresh_token":"`+r1+`"}`, "")
	if code != http.StatusOK || refreshed["access_token"] == a1 {
		t.Fatalf("refresh R1: %d %v", code, refreshed)
	}

	code, second := call(t, e, http.MethodPost, "/auth/login", creds, "")
	if code != http.StatusOK || second["refresh_token"] == r1 {
		t.Fatalf("second login: %d %v", code, second)
	}

	code, _ = call(t, e, http.MethodPost, "/auth/token", `{"refresh_token":"`+r1+`"}`, "")
	if code != http.StatusUnauthorized {
		t.Fatalf("stale R1: expected 401, got %d", code)
	}

	code, me := call(t, e, http.MethodGet, "/auth/me", "", a1)
	if code != http.StatusOK || me["email"] != "a@b.com" {
		t.Fatalf("me: %d %v", code, me)
	}

	code, _ = call(t, e, http.MethodPost, "/auth/logout", "", a1)
	if code != http.StatusNoContent {
		t.Fatalf("logout: %d", code)
	}
}

func TestRouter_RejectsBadRequests(t *testing.T) {
	e := newTestRouter(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		bearer string
		want   int
	}{
		{"weak password", http.MethodPost, "/auth/register",
			`{"email":"a@b.com","password":"abc","confirm_password":"abc","first_name":"A","last_name":"B"}`, "", http.StatusBadRequest},
		{"confirm mismatch", http.MethodPost, "/auth/register",
			`{"email":"a@b.com","password":"Abc12345!","confirm_password":"Abc12345@","first_name":"A","last_name":"B"}`, "", http.StatusBadRequest},
		{"unknown login", http.MethodPost, "/auth/login", `{"email":"ghost@b.com","password":"Abc12345!"}`, "", http.StatusUnauthorized},
		{"blank refresh", http.MethodPost, "/auth/token", `{"refresh_token":""}`, "", http.StatusUnauthorized},
		{"me without token", http.MethodGet, "/auth/me", "", "", http.StatusUnauthorized},
		{"me with garbage", http.MethodGet, "/auth/me", "", "garbage", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := call(t, e, tc.method, tc.path, tc.body, tc.bearer)
			if code != tc.want {
				t.Fatalf("expected %d, got %d (%v)", tc.want, code, body)
			}
			if _, ok := body["error"]; !ok {
				t.Fatalf("expected error envelope, got %v", body)
			}
		})
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	e := newTestRouter(t)

	code, body := call(t, e, http.MethodGet, "/health", "", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", code, body)
	}

	code, body = call(t, e, http.MethodGet, "/health/ready", "", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("ready: %d %v", code, body)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "storefront_http_requests_total") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}
