package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/zklogin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options tunes the HTTP surface.
type Options struct {
	// BeginRate and BeginBurst limit begin calls per client IP. A zero
	// BeginRate disables the limit.
	BeginRate  rate.Limit
	BeginBurst int
	// AwaitTimeout bounds how long the account route waits for token delivery.
	AwaitTimeout time.Duration
}

// SetupRouter sets up the Gin router
func SetupRouter(client zklogin.Client, logger zerolog.Logger, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	handlers := NewAuthHandlers(client, opts.AwaitTimeout)

	router.GET("/healthz", handlers.Health)

	auth := router.Group("/zklogin")
	{
		begin := []gin.HandlerFunc{handlers.Begin}
		if opts.BeginRate > 0 {
			begin = append([]gin.HandlerFunc{RateLimit(opts.BeginRate, opts.BeginBurst, 10*time.Minute)}, begin...)
		}
		auth.POST("/begin", begin...)
		auth.POST("/complete", handlers.Complete)
		auth.POST("/sessions/:id/token", handlers.DeliverToken)
		auth.GET("/sessions/:id/account", handlers.Account)
		auth.DELETE("/sessions/:id", handlers.Remove)
	}

	return router
}
