package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/lascruzadas/carpool/internal/service"
)

// QueueHandler serves the per-event passenger line.
type QueueHandler struct {
	Svc *service.Coordinator
	Log logrus.FieldLogger
}

func NewQueueHandler(svc *service.Coordinator, log logrus.FieldLogger) *QueueHandler {
	return &QueueHandler{Svc: svc, Log: log}
}

type joinReq struct {
	Note string `json:"note"`
}

type nextReq struct {
	RideID string `json:"ride_id"`
}

// Join puts the caller in line for the event.  Joining twice returns the
// existing entry with created=false.
func (h *QueueHandler) Join(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req joinReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	entry, created, err := h.Svc.JoinQueue(ctx, uid, c.Param("id"), req.Note)
	if err != nil {
		return fail(c, h.Log, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, echo.Map{"created": created, "entry": entry})
}

// Status reports whether the caller waits and at which position.
func (h *QueueHandler) Status(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	st, err := h.Svc.QueueStatus(ctx, uid, c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Next takes the oldest waiting entry off the line, optionally binding
// it to one of the caller's rides.
func (h *QueueHandler) Next(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req nextReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	entry, err := h.Svc.DequeueNext(ctx, c.Param("id"), req.RideID, uid)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"entry": entry})
}
