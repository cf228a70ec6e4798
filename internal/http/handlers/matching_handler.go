// README: Matching handlers: ranked open-trip listing for drivers, keyword
// search, and driver location reporting.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/middleware"
	"carpool/internal/modules/matching"
	"carpool/internal/types"
)

type MatchingHandler struct {
	matching *matching.Service
}

func NewMatchingHandler(svc *matching.Service) *MatchingHandler {
	return &MatchingHandler{matching: svc}
}

type candidateView struct {
	Trip           tripView `json:"trip"`
	Score          float64  `json:"score"`
	DistanceMeters float64  `json:"distance_meters"`
}

// ListOpen ranks open trips around the caller. Query params: lat, lng
// (required), radius_meters, window_minutes, max_price_per_seat, sort.
func (h *MatchingHandler) ListOpen(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}

	opts := matching.ListOptions{SortKey: matching.SortKey(c.Query("sort"))}
	if v := c.Query("radius_meters"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "radius_meters must be a number")
			return
		}
		opts.RadiusMeters = r
	}
	if v := c.Query("max_price_per_seat"); v != "" {
		p, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "max_price_per_seat must be an integer")
			return
		}
		opts.MaxPricePerSeat = p
	}

	candidates, err := h.matching.ListOpenRequests(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, opts)
	if err != nil {
		writeTripError(c, err)
		return
	}

	if v := c.Query("window_minutes"); v != "" {
		mins, err := strconv.Atoi(v)
		if err != nil || mins < 0 {
			writeError(c, http.StatusBadRequest, "window_minutes must be a non-negative integer")
			return
		}
		candidates = h.matching.FilterByDepartureWindow(candidates, time.Now(), time.Duration(mins)*time.Minute)
	}

	views := make([]candidateView, 0, len(candidates))
	for _, cand := range candidates {
		views = append(views, candidateView{
			Trip:           toTripView(cand.Request),
			Score:          cand.Score,
			DistanceMeters: cand.DistanceMeters,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"candidates": views})
}

// Search matches open trips by keyword across places, passenger name, and
// notes.
func (h *MatchingHandler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		writeError(c, http.StatusBadRequest, "q is required")
		return
	}
	reqs, err := h.matching.Search(c.Request.Context(), q)
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

type locationReq struct {
	Name    string  `json:"name"`
	Contact string  `json:"contact"`
	Rating  float64 `json:"rating"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// UpdateLocation records the calling driver's position in the geo pool.
func (h *MatchingHandler) UpdateLocation(c *gin.Context) {
	if middleware.CallerRole(c) != "driver" {
		writeError(c, http.StatusForbidden, "driver role required")
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.matching.UpsertDriverLocation(c.Request.Context(), matching.Driver{
		ID:       types.ID(middleware.CallerUID(c)),
		Name:     req.Name,
		Contact:  req.Contact,
		Rating:   req.Rating,
		Position: types.Point{Lat: req.Lat, Lng: req.Lng},
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

// Nearby lists driver IDs around a point, closest first.
func (h *MatchingHandler) Nearby(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := 0.0
	if v := c.Query("radius_meters"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "radius_meters must be a number")
			return
		}
		radius = r
	}
	ids, err := h.matching.NearbyDrivers(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_ids": ids})
}
