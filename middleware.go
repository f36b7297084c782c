package keepsake

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	claimsContextKey = "authClaims"
	bearerPrefix     = "Bearer "
)

func (a *App) setupMiddleware() {
	e := a.Echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)

	e.HTTPErrorHandler = a.httpErrorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			c.Logger().Infof("%s %s -> %d (%s)", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	// A panic must never take down the host process: serverless platforms
	// reuse it for unrelated invocations.
	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: false,
	}))

	e.Use(middleware.BodyLimit(bodyLimit(a.Config.MaxUploadBytes)))
}

// bodyLimit sizes the request body cap from the configured file cap, with
// headroom for multipart framing and the other form fields.
func bodyLimit(maxUpload int64) string {
	return fmt.Sprintf("%dM", maxUpload>>20+2)
}

// httpErrorHandler maps the error taxonomy onto the JSON envelope. Internal
// detail stays in the log; responses carry a short fixed message.
func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		_ = fail(c, http.StatusBadRequest, ve.Error())
	case errors.Is(err, ErrNotFound):
		_ = fail(c, http.StatusNotFound, "Image not found")
	case errors.Is(err, ErrInvalidCredentials):
		_ = fail(c, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, ErrTokenExpired):
		_ = fail(c, http.StatusUnauthorized, "Token has expired")
	case errors.Is(err, ErrTokenInvalid):
		_ = fail(c, http.StatusUnauthorized, "Token is not valid")
	case errors.Is(err, ErrConnection):
		c.Logger().Errorf("database error: %v", err)
		_ = fail(c, http.StatusInternalServerError, "Database unavailable")
	default:
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg := http.StatusText(he.Code)
			if s, ok := he.Message.(string); ok {
				msg = s
			}
			_ = fail(c, he.Code, msg)
			return
		}
		c.Logger().Errorf("server error: %v", err)
		_ = fail(c, http.StatusInternalServerError, "Internal server error")
	}
}

// ensureDatabase warms the connection handle before any repository route
// runs, so handler code never meets a cold handle mid-operation.
func (a *App) ensureDatabase(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if w, ok := a.Store.(Warmer); ok {
			if err := w.Warm(c.Request().Context()); err != nil {
				return err
			}
		}
		return next(c)
	}
}

// RequireAuth rejects requests without a valid Bearer token. The rejection
// message distinguishes an expired token from every other failure.
func (a *App) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			return fail(c, http.StatusUnauthorized, "No token, authorization denied")
		}
		if !strings.HasPrefix(header, bearerPrefix) {
			return fail(c, http.StatusUnauthorized, "Invalid token format. Use Bearer token")
		}
		claims, err := a.Tokens.Verify(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				return fail(c, http.StatusUnauthorized, "Token has expired")
			}
			return fail(c, http.StatusUnauthorized, "Token is not valid")
		}
		c.Set(claimsContextKey, claims)
		return next(c)
	}
}

// OptionalAuth attaches claims when a valid Bearer token is present and
// silently proceeds otherwise. It never rejects.
func (a *App) OptionalAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if strings.HasPrefix(header, bearerPrefix) {
			if claims, err := a.Tokens.Verify(strings.TrimPrefix(header, bearerPrefix)); err == nil {
				c.Set(claimsContextKey, claims)
			}
		}
		return next(c)
	}
}

// ClaimsFrom returns the verified claims attached by an auth gate, or nil.
func ClaimsFrom(c echo.Context) *Claims {
	claims, _ := c.Get(claimsContextKey).(*Claims)
	return claims
}
