package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// Claims carries the caller's staff id in Subject and their lab roles.
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey is used for development/testing only
	SigningKey []byte
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(t *jwt.Token) (interface{}, error) {
			return cfg.SigningKey, nil
		}
	} else {
		jwksURL := cfg.JWKSURL
		if jwksURL == "" && cfg.Issuer != "" {
			if discovered, err := DiscoverJWKSURL(cfg.Issuer); err == nil {
				jwksURL = discovered
			}
		}
		keyFunc = jwksKeyFunc(jwksURL)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if _, err := uuid.Parse(claims.Subject); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "token subject is not a staff id")
			}

			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), claims.Subject, claims.Roles)))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as an admin with
// the given staff id. Requests that carry a token are passed on unchanged.
func DevAuthMiddleware(devUser uuid.UUID) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				ctx := WithIdentity(c.Request().Context(), devUser.String(), []string{RoleAdmin})
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

// WithIdentity stores the caller's id and roles on ctx.
func WithIdentity(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
