package router

import (
	"starbench/app/handler"
	"starbench/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	sessionHandler *handler.SessionHandler
	workerHandler  *handler.WorkerHandler
}

// NewRouter creates a new Router
func NewRouter(sessionHandler *handler.SessionHandler, workerHandler *handler.WorkerHandler) *Router {
	return &Router{
		sessionHandler: sessionHandler,
		workerHandler:  workerHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger())

	// V1 API - client session interface
	v1 := engine.Group("/v1")
	{
		v1.POST("/sessions", r.sessionHandler.Create)
		v1.GET("/sessions", r.sessionHandler.List)
		v1.GET("/sessions/:session_id", r.sessionHandler.Get)
		v1.DELETE("/sessions/:session_id", r.sessionHandler.End)
		v1.POST("/sessions/:session_id/commands", r.sessionHandler.Dispatch)

		v1.GET("/commands", r.sessionHandler.Commands)
		v1.GET("/workers", r.workerHandler.GetWorkerList)
		v1.GET("/workers/:worker_id", r.workerHandler.GetWorker)
	}

	// V2 API - worker interface, token-authenticated
	v2 := engine.Group("/v2")
	v2.Use(middleware.AuthMiddleware())
	{
		v2.POST("/workers/register", r.workerHandler.Register)
		v2.GET("/ping/:worker_id", r.workerHandler.Heartbeat)
	}

	// Health check
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}
