package handler

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rl1809/crop-market/internal/platform/logger"
)

type RouterConfig struct {
	ServiceName    string
	CORSOrigins    []string
	Handler        *HTTPHandler
	AuthMiddleware *AuthMiddleware
	SubmitLimiter  *RateLimiter
	Log            *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(Recovery(cfg.Log))
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(RequestContext())
	router.Use(RequestLogger(cfg.Log))

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Requested-With", idempotencyKeyHeader},
		ExposeHeaders: []string{requestIDHeader, "Retry-After"},
	}
	if len(cfg.CORSOrigins) == 0 || (len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
		corsCfg.AllowCredentials = true
	}
	router.Use(cors.New(corsCfg))

	h := cfg.Handler
	auth := cfg.AuthMiddleware

	api := router.Group("/api")
	api.GET("/health", h.HealthCheck)

	// Listings
	listings := api.Group("/listings")
	listings.GET("", h.ListListings)
	listings.GET("/categories", h.Categories)
	listings.GET("/my-posts", auth.RequireAuth(), h.MyPosts)
	listings.POST("", auth.RequireAuth(), h.CreateListing)
	listings.GET("/:id", auth.OptionalAuth(), h.GetListing)
	listings.PUT("/:id", auth.RequireAuth(), h.UpdateListing)
	listings.DELETE("/:id", auth.RequireAuth(), h.DeleteListing)

	// Interests
	interests := api.Group("/interests", auth.RequireAuth())
	interests.GET("/my-interests", h.MyInterests)
	if cfg.SubmitLimiter != nil {
		interests.POST("/:listingId", cfg.SubmitLimiter.Middleware(cfg.Log), h.SubmitInterest)
	} else {
		interests.POST("/:listingId", h.SubmitInterest)
	}
	interests.GET("/:listingId", h.ListingInterests)
	interests.PATCH("/:listingId/:interestId/accept", h.AcceptInterest)
	interests.PATCH("/:listingId/:interestId/reject", h.RejectInterest)
	interests.DELETE("/:listingId/:interestId", h.CancelInterest)

	// Users
	api.GET("/users/me/stats", auth.RequireAuth(), h.MyStats)

	router.NoRoute(NoRoute)
	return router
}
