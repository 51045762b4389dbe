package apperr

import "github.com/labstack/echo/v4"

// HTTPError converts err into an echo error carrying the public message.
// The original error is kept as the internal cause for logging.
func HTTPError(err error) *echo.HTTPError {
	return echo.NewHTTPError(HTTPStatus(err), PublicMessage(err)).SetInternal(err)
}
