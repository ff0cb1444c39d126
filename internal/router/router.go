package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/support-chat-service/api"
	"github.com/psds-microservice/support-chat-service/internal/handler"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func New(support *handler.SupportHandler, serveWS gin.HandlerFunc) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(paths.PathHealth, handler.Health)
	r.GET(paths.PathReady, handler.Ready)
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/support/create-ticket", support.CreateTicket)
		v1.GET("/support/tickets/:userId", support.ListUserTickets)
		v1.GET("/support/messages/:ticketId", support.ListMessages)
		v1.POST("/support/send-message/:ticketId", support.SendMessage)
		v1.DELETE("/support/ticket/:ticketId", support.DeleteTicket)

		v1.GET("/admin/support/tickets", support.AdminListTickets)
		v1.PUT("/admin/support/ticket/:ticketId", support.UpdateTicket)
	}

	r.GET("/ws", serveWS)

	return r
}
