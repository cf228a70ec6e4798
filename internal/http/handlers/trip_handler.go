// README: Trip lifecycle handlers: create, read, and the state-changing
// actions (accept, join, pay, start, complete, cancel).
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/middleware"
	"carpool/internal/modules/trip"
	"carpool/internal/types"
)

type TripHandler struct {
	trips *trip.Service
}

func NewTripHandler(svc *trip.Service) *TripHandler {
	return &TripHandler{trips: svc}
}

type placeReq struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func (p placeReq) toPlace() types.Place {
	return types.Place{Name: p.Name, Point: types.Point{Lat: p.Lat, Lng: p.Lng}}
}

type createTripReq struct {
	PassengerName string   `json:"passenger_name"`
	Origin        placeReq `json:"origin"`
	Destination   placeReq `json:"destination"`
	DepartureTime string   `json:"departure_time"`
	Headcount     int      `json:"headcount"`
	SeatsTotal    int      `json:"seats_total"`
	PricePerSeat  int64    `json:"price_per_seat"`
	Currency      string   `json:"currency"`
	Notes         string   `json:"notes"`
}

type tripView struct {
	ID            types.ID   `json:"id"`
	Status        string     `json:"status"`
	PassengerID   types.ID   `json:"passenger_id"`
	PassengerName string     `json:"passenger_name"`
	Origin        placeReq   `json:"origin"`
	Destination   placeReq   `json:"destination"`
	DepartureTime time.Time  `json:"departure_time"`
	Headcount     int        `json:"headcount"`
	SeatsTotal    int        `json:"seats_total"`
	SeatsTaken    int        `json:"seats_taken"`
	SeatsFree     int        `json:"seats_free"`
	PricePerSeat  int64      `json:"price_per_seat"`
	TotalCost     int64      `json:"total_cost"`
	Currency      string     `json:"currency"`
	DriverID      *types.ID  `json:"driver_id,omitempty"`
	DriverName    *string    `json:"driver_name,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Riders        []types.ID `json:"riders"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Version       int        `json:"version"`
}

func toTripView(r *trip.Request) tripView {
	return tripView{
		ID:            r.ID,
		Status:        string(r.Status),
		PassengerID:   r.PassengerID,
		PassengerName: r.PassengerName,
		Origin:        placeReq{Name: r.Origin.Name, Lat: r.Origin.Lat, Lng: r.Origin.Lng},
		Destination:   placeReq{Name: r.Destination.Name, Lat: r.Destination.Lat, Lng: r.Destination.Lng},
		DepartureTime: r.DepartureTime,
		Headcount:     r.Headcount,
		SeatsTotal:    r.SeatsTotal,
		SeatsTaken:    r.SeatsTaken,
		SeatsFree:     r.SeatsFree(),
		PricePerSeat:  r.PricePerSeat.Amount,
		TotalCost:     r.TotalCost.Amount,
		Currency:      r.PricePerSeat.Currency,
		DriverID:      r.DriverID,
		DriverName:    r.DriverName,
		Notes:         r.Notes,
		Riders:        r.Riders,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Version:       r.Version,
	}
}

func (h *TripHandler) Create(c *gin.Context) {
	var req createTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	departure, err := time.Parse(time.RFC3339, req.DepartureTime)
	if err != nil {
		writeError(c, http.StatusBadRequest, "departure_time must be RFC3339")
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = "TWD"
	}
	id, err := h.trips.Create(c.Request.Context(), trip.CreateCommand{
		PassengerID:   types.ID(middleware.CallerUID(c)),
		PassengerName: req.PassengerName,
		Origin:        req.Origin.toPlace(),
		Destination:   req.Destination.toPlace(),
		DepartureTime: departure,
		Headcount:     req.Headcount,
		SeatsTotal:    req.SeatsTotal,
		PricePerSeat:  types.Money{Amount: req.PricePerSeat, Currency: currency},
		Notes:         req.Notes,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"trip_id": id, "status": trip.StatusOpen})
}

func (h *TripHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid trip id")
		return
	}
	r, err := h.trips.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toTripView(r))
}

func (h *TripHandler) ListOpen(c *gin.Context) {
	reqs, err := h.trips.ListOpen(c.Request.Context())
	if err != nil {
		writeTripError(c, err)
		return
	}
	views := make([]tripView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, toTripView(r))
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": views})
}

type acceptReq struct {
	DriverName string `json:"driver_name"`
}

func (h *TripHandler) Accept(c *gin.Context) {
	if middleware.CallerRole(c) != "driver" {
		writeError(c, http.StatusForbidden, "driver role required")
		return
	}
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid trip id")
		return
	}
	var req acceptReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	err := h.trips.Accept(c.Request.Context(), trip.AcceptCommand{
		TripID:     types.ID(id),
		DriverID:   types.ID(middleware.CallerUID(c)),
		DriverName: req.DriverName,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	h.respondWithTrip(c, types.ID(id))
}

func (h *TripHandler) Join(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid trip id")
		return
	}
	err := h.trips.Join(c.Request.Context(), trip.JoinCommand{
		TripID:      types.ID(id),
		PassengerID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	h.respondWithTrip(c, types.ID(id))
}

func (h *TripHandler) Pay(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid trip id")
		return
	}
	err := h.trips.Pay(c.Request.Context(), trip.PayCommand{
		TripID:      types.ID(id),
		PassengerID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	h.respondWithTrip(c, types.ID(id))
}

func (h *TripHandler) Start(c *gin.Context) {
	if middleware.CallerRole(c) != "driver" {
		writeError(c, http.StatusForbidden, "driver role required")
		return
	}
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid trip id")
		return
	}
	err := h.trips.Start(c.Request.Context(), trip.StartCommand{
		TripID:   types.ID(id),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	h.respondWithTrip(c, types.ID(id))
}

func (h *TripHandler) Complete(c *gin.Context) {
	if middleware.CallerRole(c) != "driver" {
		writeError(c, http.StatusForbidden, "driver role required")
		return
	}
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid trip id")
		return
	}
	err := h.trips.Complete(c.Request.Context(), trip.CompleteCommand{
		TripID:   types.ID(id),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	h.respondWithTrip(c, types.ID(id))
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *TripHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid trip id")
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	actorType := "passenger"
	if middleware.CallerRole(c) == "driver" {
		actorType = "driver"
	}
	err := h.trips.Cancel(c.Request.Context(), trip.CancelCommand{
		TripID:    types.ID(id),
		ActorType: actorType,
		ActorID:   types.ID(middleware.CallerUID(c)),
		Reason:    req.Reason,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	h.respondWithTrip(c, types.ID(id))
}

func (h *TripHandler) respondWithTrip(c *gin.Context, id types.ID) {
	r, err := h.trips.Get(c.Request.Context(), id)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toTripView(r))
}
