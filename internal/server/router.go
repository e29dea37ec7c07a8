package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/codernetes/internal/handlers"
)

type RouterConfig struct {
	JobsHandler     *handlers.JobsHandler
	NodesHandler    *handlers.NodesHandler
	MessagesHandler *handlers.MessagesHandler
	ConfigHandler   *handlers.ConfigHandler
	TokensHandler   *handlers.TokensHandler
	Tracing         bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	if cfg.Tracing {
		router.Use(otelgin.Middleware("codernetes-master"))
	}

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Cluster
		api.GET("/status", cfg.MessagesHandler.Status)
		api.GET("/nodes", cfg.NodesHandler.ListNodes)
		// Jobs
		api.POST("/jobs", cfg.JobsHandler.CreateJob)
		api.GET("/jobs", cfg.JobsHandler.ListJobs)
		api.GET("/jobs/:id", cfg.JobsHandler.GetJob)
		api.POST("/jobs/:id/status", cfg.JobsHandler.UpdateJobStatus)
		api.GET("/jobs/:id/logs", cfg.JobsHandler.ListJobLogs)
		// Messaging
		api.POST("/broadcast", cfg.MessagesHandler.Broadcast)
		api.POST("/send", cfg.MessagesHandler.Send)
		// Config
		api.GET("/config", cfg.ConfigHandler.GetConfig)
		api.POST("/config", cfg.ConfigHandler.UpdateConfig)
		// GitHub
		api.POST("/github/token", cfg.TokensHandler.SetGitHubToken)
		api.GET("/github/repos", cfg.TokensHandler.ListGitHubRepos)
	}

	return router
}
