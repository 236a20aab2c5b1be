package handler

import (
	"time"

	"github.com/lascruzadas/carpool/internal/model"
	"github.com/lascruzadas/carpool/internal/service"
)

// rideView is a ride as returned by the API, with the driver's nickname.
type rideView struct {
	ID             string       `json:"id"`
	EventID        string       `json:"event_id"`
	DriverID       string       `json:"driver_id"`
	DriverNickname string       `json:"driver_nickname,omitempty"`
	Capacity       int          `json:"capacity"`
	FreeSeats      int          `json:"free_seats"`
	Seats          []model.Seat `json:"seats"`
	Passengers     []string     `json:"passengers"`
	DeparturePoint string       `json:"departure_point"`
	DepartureTime  string       `json:"departure_time"`
	CreatedAt      time.Time    `json:"created_at"`
}

type feedView struct {
	rideView
	EventName string `json:"event_name"`
}

func newRideView(r *model.Ride, nicknames map[string]string) rideView {
	passengers := r.Passengers
	if passengers == nil {
		passengers = []string{}
	}
	return rideView{
		ID:             r.ID,
		EventID:        r.EventID,
		DriverID:       r.DriverID,
		DriverNickname: nicknames[r.DriverID],
		Capacity:       r.Capacity(),
		FreeSeats:      r.SeatsFree,
		Seats:          r.Seats,
		Passengers:     passengers,
		DeparturePoint: r.DeparturePoint,
		DepartureTime:  r.DepartureTime,
		CreatedAt:      r.CreatedAt,
	}
}

func driversOf(rides []model.Ride) []string {
	ids := make([]string, 0, len(rides))
	for _, r := range rides {
		ids = append(ids, r.DriverID)
	}
	return ids
}

func driversOfFeed(items []service.FeedItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Ride.DriverID)
	}
	return ids
}
