package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pccr10001/jinglegw/internal/metrics"
	"github.com/pccr10001/jinglegw/internal/repository"
	"gorm.io/gorm"
)

type Deps struct {
	DB       *gorm.DB
	Calls    CallControl
	Profiles ProfileStatuses
	Metrics  *metrics.Metrics
	// AccessLog enables gin's request logger.
	AccessLog bool
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if d.AccessLog {
		r.Use(gin.Logger())
	}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	ch := NewCallHandler(d.Calls, d.Profiles, repository.NewCallRepository(d.DB))
	wh := NewWebhookHandler(repository.NewWebhookRepository(d.DB))
	uh := NewUserHandler(d.DB, d.Profiles)

	apiGroup := r.Group("/api/v1")
	{
		apiGroup.POST("/login", uh.Login)

		authGroup := apiGroup.Group("/")
		authGroup.Use(AuthMiddleware(d.DB))
		{
			authGroup.GET("/me", uh.Me)
			authGroup.POST("/change_password", uh.ChangePassword)

			authGroup.GET("/profiles", ch.ListProfiles)
			authGroup.GET("/calls", ch.ListCalls)
			authGroup.POST("/calls", ch.CreateCall)
			authGroup.GET("/calls/:id", ch.GetCall)
			authGroup.DELETE("/calls/:id", ch.HangupCall)
			authGroup.POST("/calls/:id/dtmf", ch.SendDTMF)
			authGroup.GET("/calls/:id/ws", ch.WatchCall)
			authGroup.GET("/records", ch.ListRecords)
			authGroup.GET("/records/:id", ch.GetRecord)

			adminGroup := authGroup.Group("/")
			adminGroup.Use(AdminOnly())
			{
				adminGroup.GET("/webhooks", wh.ListWebhooks)
				adminGroup.POST("/webhooks", wh.CreateWebhook)
				adminGroup.DELETE("/webhooks/:id", wh.DeleteWebhook)

				adminGroup.GET("/users", uh.ListUsers)
				adminGroup.POST("/users", uh.CreateUser)
				adminGroup.PATCH("/users/:id", uh.UpdateUser)
				adminGroup.DELETE("/users/:id", uh.DeleteUser)
			}
		}
	}
	return r
}
