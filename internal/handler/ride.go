package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/lascruzadas/carpool/internal/model"
	"github.com/lascruzadas/carpool/internal/service"
)

// RideHandler serves ride offers and seat bookings.
type RideHandler struct {
	Svc *service.Coordinator
	Log logrus.FieldLogger
}

func NewRideHandler(svc *service.Coordinator, log logrus.FieldLogger) *RideHandler {
	return &RideHandler{Svc: svc, Log: log}
}

type createRideReq struct {
	EventID        string `json:"event_id"`
	SeatCount      int    `json:"seat_count"`
	DeparturePoint string `json:"departure_point"`
	DepartureTime  string `json:"departure_time"`
}

// seatReq asks for a specific seat; without Seat the first free one is
// booked.
type seatReq struct {
	Seat *int `json:"seat"`
}

func (h *RideHandler) view(c echo.Context, status int, ride *model.Ride) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	names, err := h.Svc.Nicknames(ctx, ride.DriverID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(status, newRideView(ride, names))
}

// Create offers a ride driven by the caller.
func (h *RideHandler) Create(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req createRideReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	ride, err := h.Svc.CreateRide(ctx, service.CreateRideInput{
		DriverID:       uid,
		EventID:        req.EventID,
		SeatCount:      req.SeatCount,
		DeparturePoint: req.DeparturePoint,
		DepartureTime:  req.DepartureTime,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return h.view(c, http.StatusCreated, ride)
}

// Get returns one ride.
func (h *RideHandler) Get(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	ride, err := h.Svc.GetRide(ctx, c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return h.view(c, http.StatusOK, ride)
}

// Delete removes the caller's ride.  Passengers assigned through the
// queue go back in line.
func (h *RideHandler) Delete(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.Svc.DeleteRide(ctx, c.Param("id"), uid); err != nil {
		return fail(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListForEvent lists the rides of an event, roomiest first.
func (h *RideHandler) ListForEvent(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	rides, err := h.Svc.ListRidesForEvent(ctx, c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	names, err := h.Svc.Nicknames(ctx, driversOf(rides)...)
	if err != nil {
		return fail(c, h.Log, err)
	}
	out := make([]rideView, 0, len(rides))
	for i := range rides {
		out = append(out, newRideView(&rides[i], names))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// Feed returns the newest rides of recent events.  ?limit= overrides the
// default size.
func (h *RideHandler) Feed(c echo.Context) error {
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 50 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be between 1 and 50"})
		}
		limit = n
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	items, err := h.Svc.RecentRides(ctx, limit)
	if err != nil {
		return fail(c, h.Log, err)
	}
	names, err := h.Svc.Nicknames(ctx, driversOfFeed(items)...)
	if err != nil {
		return fail(c, h.Log, err)
	}
	out := make([]feedView, 0, len(items))
	for i := range items {
		out = append(out, feedView{rideView: newRideView(&items[i].Ride, names), EventName: items[i].EventName})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// BookSeat books the requested seat, or the first free one.
func (h *RideHandler) BookSeat(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req seatReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	var ride *model.Ride
	if req.Seat != nil {
		ride, err = h.Svc.RequestSeat(ctx, uid, c.Param("id"), *req.Seat)
	} else {
		ride, err = h.Svc.RequestAnySeat(ctx, uid, c.Param("id"))
	}
	if err != nil {
		return fail(c, h.Log, err)
	}
	return h.view(c, http.StatusOK, ride)
}

// LeaveSeat frees a seat by number.  Passengers may free their own seat,
// the driver any seat.
func (h *RideHandler) LeaveSeat(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	seat, err := strconv.Atoi(c.Param("seat"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat"})
	}
	return h.leave(c, service.BySeat(seat), uid)
}

// Leave frees the caller's seat.
func (h *RideHandler) Leave(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	return h.leave(c, service.ByUser(uid), uid)
}

func (h *RideHandler) leave(c echo.Context, sel service.SeatSelector, requester string) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	ride, err := h.Svc.LeaveRide(ctx, c.Param("id"), sel, requester)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return h.view(c, http.StatusOK, ride)
}

// Promote seats the oldest waiting passenger of the ride's event.  The
// entry is null when nobody is waiting.
func (h *RideHandler) Promote(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	entry, ride, err := h.Svc.PromoteNext(ctx, c.Param("id"), uid)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if entry == nil {
		return c.JSON(http.StatusOK, echo.Map{"entry": nil})
	}
	names, err := h.Svc.Nicknames(ctx, ride.DriverID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"entry": entry, "ride": newRideView(ride, names)})
}
