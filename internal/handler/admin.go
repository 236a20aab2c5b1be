package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/lascruzadas/carpool/internal/model"
	"github.com/lascruzadas/carpool/internal/service"
)

// AdminHandler exposes maintenance operations to ADMIN users.
type AdminHandler struct {
	Reconciler *service.Reconciler
	Log        logrus.FieldLogger
}

func NewAdminHandler(r *service.Reconciler, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{Reconciler: r, Log: log}
}

// Reconcile repairs cached free seat counts and lists what it fixed.
func (h *AdminHandler) Reconcile(c echo.Context) error {
	drift, err := h.Reconciler.Reconcile(c.Request().Context())
	if err != nil {
		return fail(c, h.Log, err)
	}
	if drift == nil {
		drift = []model.FreeSeatDrift{}
	}
	return c.JSON(http.StatusOK, echo.Map{"repaired": drift})
}
