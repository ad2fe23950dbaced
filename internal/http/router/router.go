package router

import (
	"github.com/gin-gonic/gin"

	"maxprint.app/orderflow/internal/http/handler"
	"maxprint.app/orderflow/internal/http/handler/webhook"
	"maxprint.app/orderflow/internal/http/middleware"
)

type RouterConfig struct {
	AdminAPIKey string
}

func SetupRoutes(router *gin.Engine, trelloHandler *webhook.TrelloHandler, queueHandler *handler.QueueHandler, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	TrelloWebhookRouter(router.Group("/trello/webhook"), trelloHandler)

	admin := router.Group("/admin")
	admin.Use(middleware.RequireAdminAPIKey(cfg.AdminAPIKey))
	QueueRouter(admin.Group("/queue"), queueHandler)
}

func TrelloWebhookRouter(rg *gin.RouterGroup, h *webhook.TrelloHandler) {
	rg.HEAD("", h.Verify)
	rg.GET("", h.Verify)
	rg.POST("", h.Receive)
}

func QueueRouter(rg *gin.RouterGroup, h *handler.QueueHandler) {
	rg.POST("/drain", h.Drain)
}
