package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/shopline/storefront/internal/api/middleware"
	"github.com/shopline/storefront/internal/core/domain"
)

// ctxClaims extracts the claims injected by the Auth middleware. A missing
// subject means the middleware did not run for this route.
func ctxClaims(c echo.Context) (domain.Claims, error) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok || claims.Subject == "" {
		return domain.Claims{}, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return claims, nil
}
