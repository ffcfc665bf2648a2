package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/WIREMI/wiremi-auth/internal/config"
	"github.com/WIREMI/wiremi-auth/internal/ratelimit"
)

// maxKeyBodyBytes bounds how much of the request body is read when a class
// keys on the submitted email.
const maxKeyBodyBytes = 4 << 10

// RateLimit applies one budget class to a route group. The caller key is
// the client IP, extended with the normalized email from the request body
// for classes that key per account. Classes marked FailuresOnly refund the
// consumed slot when the request succeeds, so only failed attempts burn
// budget.
func RateLimit(limiter ratelimit.Limiter, prefix string, class config.RateLimitClass) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(c, prefix, class)
			ctx := c.Request().Context()

			res, err := limiter.Allow(ctx, key, class.Limit, class.Window)
			if err != nil {
				// The limiter backend failing is a service outage, not a
				// bypass.
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				secs := int(math.Ceil(res.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too many requests",
					"retry_after": secs,
				})
			}

			err = next(c)

			if class.FailuresOnly && err == nil && c.Response().Status < http.StatusBadRequest {
				if rerr := limiter.Refund(ctx, key, res.Member); rerr != nil {
					c.Logger().Warnf("rate limit refund failed for %s: %v", key, rerr)
				}
			}
			return err
		}
	}
}

// rateKey builds "prefix:class:ip" or "prefix:class:ip:email". The body is
// restored after peeking so binding in the handler still works.
func rateKey(c echo.Context, prefix string, class config.RateLimitClass) string {
	parts := []string{prefix, class.Name, clientIP(c)}
	if class.ByEmail {
		if email := peekEmail(c); email != "" {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ":")
}

func clientIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// peekEmail reads the email field from a JSON body without consuming it.
// Only the first maxKeyBodyBytes are inspected; the full stream, including
// anything beyond the peek window, is restored for the handler to bind.
func peekEmail(c echo.Context) string {
	req := c.Request()
	if req.Body == nil {
		return ""
	}
	peeked, err := io.ReadAll(io.LimitReader(req.Body, maxKeyBodyBytes))
	req.Body = io.NopCloser(io.MultiReader(bytes.NewReader(peeked), req.Body))
	if err != nil {
		return ""
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(peeked, &payload); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(payload.Email))
}
