package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/WIREMI/wiremi-auth/internal/config"
	"github.com/WIREMI/wiremi-auth/internal/ratelimit"
)

func postJSON(t *testing.T, e *echo.Echo, h echo.HandlerFunc, mw echo.MiddlewareFunc, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := mw(h)(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestRateLimitEmailKeying(t *testing.T) {
	e := echo.New()
	class := config.RateLimitClass{Name: "login", Limit: 1, Window: time.Minute, ByEmail: true}
	mw := RateLimit(ratelimit.NewMemoryLimiter(), "rl", class)
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	body := func(email string) []byte {
		b, _ := json.Marshal(map[string]string{"email": email, "password": "x"})
		return b
	}

	if rec := postJSON(t, e, ok, mw, body("ada@wiremi.com")); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	if rec := postJSON(t, e, ok, mw, body("ada@wiremi.com")); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same email over budget: expected 429, got %d", rec.Code)
	}
	// A different email is a different key.
	if rec := postJSON(t, e, ok, mw, body("eve@wiremi.com")); rec.Code != http.StatusOK {
		t.Fatalf("other email: expected 200, got %d", rec.Code)
	}
}

func TestRateLimitPeekPreservesOversizedBody(t *testing.T) {
	e := echo.New()
	class := config.RateLimitClass{Name: "login", Limit: 10, Window: time.Minute, ByEmail: true}
	mw := RateLimit(ratelimit.NewMemoryLimiter(), "rl", class)

	// A payload larger than the peek window must still bind in full
	// downstream; only the keying gives up on it.
	padding := strings.Repeat("x", 2*maxKeyBodyBytes)
	raw, err := json.Marshal(map[string]string{"padding": padding, "email": "ada@wiremi.com"})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	var got struct {
		Email   string `json:"email"`
		Padding string `json:"padding"`
	}
	h := func(c echo.Context) error {
		if err := c.Bind(&got); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		return c.NoContent(http.StatusOK)
	}

	rec := postJSON(t, e, h, mw, raw)
	if rec.Code != http.StatusOK {
		t.Fatalf("oversized body: expected 200, got %d", rec.Code)
	}
	if got.Email != "ada@wiremi.com" {
		t.Fatalf("email lost during peek: %q", got.Email)
	}
	if got.Padding != padding {
		t.Fatalf("body truncated during peek: got %d bytes, want %d", len(got.Padding), len(padding))
	}
}
