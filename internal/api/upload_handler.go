package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"acervo/preservation-api/internal/service"

	"github.com/gin-gonic/gin"
)

type UploadHandler struct {
	documentService service.DocumentService
	logger          *slog.Logger
}

func NewUploadHandler(documentService service.DocumentService, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		documentService: documentService,
		logger:          logger.With(slog.String("component", "upload_handler")),
	}
}

type RequestUploadURLRequest struct {
	FileName    string `json:"fileName" binding:"required"`
	ContentType string `json:"contentType"`
}

// UploadURLResponse tells the client where to PUT the file and which filePath
// to send when creating the document.
type UploadURLResponse struct {
	UploadURL string    `json:"uploadUrl"`
	ObjectKey string    `json:"objectKey"`
	FilePath  string    `json:"filePath"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RequestUploadURL godoc
// @Summary Request a pre-signed URL to stage a transfer source
// @Tags Uploads
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param uploadRequest body RequestUploadURLRequest true "File to upload"
// @Success 200 {object} UploadURLResponse
// @Failure 400 {object} gin.H "Invalid input"
// @Failure 501 {object} gin.H "Staging bucket not configured"
// @Router /uploads [post]
func (h *UploadHandler) RequestUploadURL(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, msgUnidentifiedCaller)
		return
	}

	var req RequestUploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	ticket, err := h.documentService.PrepareUpload(c.Request.Context(), userID, req.FileName, req.ContentType)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrStagingDisabled):
			abortWithError(c, http.StatusNotImplemented, err.Error())
		case errors.Is(err, service.ErrValidationFailed):
			abortWithError(c, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("presign failed", slog.String("user_id", userID), slog.String("error", err.Error()))
			abortWithError(c, http.StatusInternalServerError, "Failed to get upload URL.")
		}
		return
	}

	c.JSON(http.StatusOK, UploadURLResponse{
		UploadURL: ticket.UploadURL,
		ObjectKey: ticket.ObjectKey,
		FilePath:  ticket.FilePath,
		ExpiresAt: ticket.ExpiresAt,
	})
}
