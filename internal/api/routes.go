package api

import (
	"log/slog"
	"net/http"

	"acervo/preservation-api/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	documentService service.DocumentService,
	logger *slog.Logger,
) {
	documentHandler := NewDocumentHandler(documentService, logger)
	uploadHandler := NewUploadHandler(documentService, logger)

	authMiddleware := AuthMiddleware(jwtSecret)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := router.Group("/api/v1")
	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", func(c *gin.Context) {
			userID, err := getUserIDFromContext(c)
			if err != nil {
				abortWithError(c, http.StatusInternalServerError, "Failed to get user ID from token")
				return
			}
			c.JSON(http.StatusOK, gin.H{"userId": userID})
		})

		documents := protected.Group("/documents")
		{
			documents.POST("", documentHandler.CreateDocument)
			documents.GET("", documentHandler.GetDocuments)
			documents.GET("/filter", documentHandler.FilterDocuments)
			documents.GET("/:id", documentHandler.GetDocument)
			documents.PATCH("/:id", documentHandler.UpdateDocument)
			documents.DELETE("/:id", documentHandler.DeleteDocument)
			documents.GET("/:id/status", documentHandler.GetDocumentStatus)
			documents.GET("/:id/download", documentHandler.DownloadDocument)
		}

		protected.POST("/uploads", uploadHandler.RequestUploadURL)
	}
}
