package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/auth"
)

// AuditEntry records who changed which lab or billing record.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	ResourceID string
	Action     string // create, update, delete
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// Audit logs every mutating request under /api/v1/. Reads are not audited.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") || !isMutating(req.Method) {
				return next(c)
			}

			err := next(c)

			resource, resourceID := splitResource(req.URL.Path)
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       req.URL.Path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				StatusCode: c.Response().Status,
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Action:     httpMethodToAction(req.Method),
				Resource:   resource,
				ResourceID: resourceID,
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("lab record change")

			return err
		}
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitResource parses /api/v1/<resource>[/<uuid>[/...]].
func splitResource(path string) (resource, id string) {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", ""
	}
	resource = segments[0]
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			id = segments[1]
		}
	}
	return resource, id
}
