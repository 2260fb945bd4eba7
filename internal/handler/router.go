package handler

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"kbquery-backend/internal/config"
	"kbquery-backend/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFS embed.FS

func NewRouter(cfg *config.Config, queryHandler *QueryHandler, knowledgeHandler *KnowledgeHandler) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.LoggerWithWriter(logger.Writer()))
	router.Use(gin.Recovery())

	// CORS配置
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	router.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	router.GET("/", queryHandler.Index)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	api := router.Group("/api")
	{
		pages := api.Group("/pages")
		{
			pages.POST("", queryHandler.CreatePage)
			pages.POST("/:page_id/submit", queryHandler.Submit)
			pages.GET("/:page_id/response", queryHandler.Content)
			pages.GET("/:page_id/events", queryHandler.Events)
			pages.DELETE("/:page_id", queryHandler.ClosePage)
		}

		knowledge := api.Group("/knowledge")
		{
			knowledge.POST("/ingest", knowledgeHandler.Ingest)
			knowledge.GET("/documents", knowledgeHandler.ListDocuments)
			knowledge.GET("/documents/:id", knowledgeHandler.GetDocument)
			knowledge.DELETE("/documents", knowledgeHandler.ClearDocuments)
			knowledge.DELETE("/documents/:id", knowledgeHandler.DeleteDocument)
		}
	}

	return router
}
