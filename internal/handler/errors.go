package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/lascruzadas/carpool/internal/middleware"
	"github.com/lascruzadas/carpool/internal/service"
)

// requestTimeout bounds the store calls of a single request.
const requestTimeout = 5 * time.Second

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// fail writes the JSON error matching err.  Unknown errors are logged and
// reported as 500 without details.
func fail(c echo.Context, log logrus.FieldLogger, err error) error {
	switch {
	case errors.Is(err, service.ErrSeatUnavailable):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": service.ErrSeatUnavailable.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": service.ErrForbidden.Error()})
	}
	log.WithError(err).WithField("route", c.Path()).Error("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// currentUser returns the caller set by the JWT middleware.
func currentUser(c echo.Context) (string, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return "", echo.ErrUnauthorized
	}
	return id, nil
}
