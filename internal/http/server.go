// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/handlers"
	"carpool/internal/http/middleware"
	"carpool/internal/infra"
	"carpool/internal/modules/events"
	"carpool/internal/modules/matching"
	"carpool/internal/modules/trip"
)

type ServerDeps struct {
	Trip     *trip.Service
	Matching *matching.Service
	Wallet   handlers.Wallet
	Hub      *events.Hub
	Verifier infra.TokenVerifier
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	tripHandler := handlers.NewTripHandler(s.deps.Trip)
	matchingHandler := handlers.NewMatchingHandler(s.deps.Matching)
	ledgerHandler := handlers.NewLedgerHandler(s.deps.Wallet)
	eventsHandler := handlers.NewEventsHandler(s.deps.Hub)

	api := r.Group("/api", middleware.Auth(s.deps.Verifier))

	api.POST("/trips", tripHandler.Create)
	api.GET("/trips", tripHandler.ListOpen)
	api.GET("/trips/search", matchingHandler.Search)
	api.GET("/trips/nearby", matchingHandler.ListOpen)
	api.GET("/trips/:id", tripHandler.Get)
	api.POST("/trips/:id/accept", tripHandler.Accept)
	api.POST("/trips/:id/join", tripHandler.Join)
	api.POST("/trips/:id/pay", tripHandler.Pay)
	api.POST("/trips/:id/start", tripHandler.Start)
	api.POST("/trips/:id/complete", tripHandler.Complete)
	api.POST("/trips/:id/cancel", tripHandler.Cancel)

	api.POST("/ledger/topup", ledgerHandler.TopUp)
	api.GET("/ledger/balance", ledgerHandler.Balance)

	api.POST("/drivers/location", matchingHandler.UpdateLocation)
	api.GET("/drivers/nearby", matchingHandler.Nearby)

	api.GET("/ws", eventsHandler.Stream)

	return r
}
