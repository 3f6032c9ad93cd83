package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	// HeaderUserID carries the caller identity when no auth secret is set.
	HeaderUserID = "X-User-ID"

	ownerKey = "owner_id"
)

// identify resolves the caller identity. With an auth secret the caller must
// present an HS256 bearer token whose subject is the owner id; otherwise the
// X-User-ID header is trusted as given.
func (s *Server) identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var owner string
		if s.cfg.AuthSecret != "" {
			sub, err := parseToken(c.Request().Header.Get(echo.HeaderAuthorization), s.cfg.AuthSecret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing bearer token").SetInternal(err)
			}
			owner = sub
		} else {
			owner = strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
		}
		if owner == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "caller identity is required")
		}
		c.Set(ownerKey, owner)
		return next(c)
	}
}

func ownerID(c echo.Context) string {
	owner, _ := c.Get(ownerKey).(string)
	return owner
}

func parseToken(header, secret string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", jwt.ErrTokenMalformed
	}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	return token.Claims.GetSubject()
}

// IssueToken signs an HS256 token for subject that expires after ttl.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// rateLimiter limits each caller to cfg.RateLimit requests per second.
func (s *Server) rateLimiter() echo.MiddlewareFunc {
	burst := int(s.cfg.RateLimit * 2)
	if burst < 1 {
		burst = 1
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(s.cfg.RateLimit),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if owner := ownerID(c); owner != "" {
				return owner, nil
			}
			return c.RealIP(), nil
		},
		DenyHandler: func(_ echo.Context, _ string, _ error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
