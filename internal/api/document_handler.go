package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"acervo/preservation-api/internal/archive"
	"acervo/preservation-api/internal/domain"
	"acervo/preservation-api/internal/service"

	"github.com/gin-gonic/gin"
)

// Stable messages returned to callers. Raw remote errors are only logged.
const (
	msgCreationFailed     = "could not start preservation"
	msgStatusCheckFailed  = service.StatusCheckFailedMessage
	msgNotPreservedYet    = "document not preserved yet"
	msgDownloadFailed     = "could not download preserved package"
	msgTransferNotFound   = "transfer not found in archive"
	msgCancelFailed       = "could not cancel transfer"
	msgDocumentNotFound   = "document not found"
	msgSourceNotUploaded  = "transfer source has not been uploaded"
	msgSourceNotOwned     = "transfer source belongs to another user"
	msgInternal           = "internal server error"
	msgUnidentifiedCaller = "Unable to identify user from token."
)

// DocumentHandler exposes the document service over HTTP.
type DocumentHandler struct {
	documentService service.DocumentService
	logger          *slog.Logger
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(documentService service.DocumentService, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		logger:          logger.With(slog.String("component", "document_handler")),
	}
}

// --- DTOs ---

// CreateDocumentRequest is the body of POST /documents.
type CreateDocumentRequest struct {
	Name             string          `json:"name" binding:"required"`
	FilePath         string          `json:"filePath" binding:"required"`
	Description      string          `json:"description"`
	Metadata         domain.Metadata `json:"metadados"`
	UploadDate       *time.Time      `json:"uploadDate"`
	PreservationDate *time.Time      `json:"preservationDate"`
	Accession        string          `json:"accession"`
}

// UpdateDocumentRequest is the body of PATCH /documents/:id. Absent fields are kept.
type UpdateDocumentRequest struct {
	Name             *string          `json:"name"`
	Description      *string          `json:"description"`
	Metadata         *domain.Metadata `json:"metadados"`
	UploadDate       *time.Time       `json:"uploadDate"`
	PreservationDate *time.Time       `json:"preservationDate"`
}

// DocumentResponse is the DTO for returning a document.
type DocumentResponse struct {
	ID               string                  `json:"id"`
	UserID           string                  `json:"userId"`
	Name             string                  `json:"name"`
	FilePath         string                  `json:"filePath"`
	ArchivematicaID  *string                 `json:"archivematicaId"`
	Status           domain.DocumentStatus   `json:"status"`
	Description      string                  `json:"description,omitempty"`
	Metadata         domain.Metadata         `json:"metadados"`
	UploadDate       time.Time               `json:"uploadDate"`
	PreservationDate *time.Time              `json:"preservationDate,omitempty"`
	CreatedAt        time.Time               `json:"createdAt"`
	UpdatedAt        time.Time               `json:"updatedAt"`
	Transfer         *archive.TransferStatus `json:"transfer,omitempty"`
	TransferError    string                  `json:"transferError,omitempty"`
}

// StatusResponse is the DTO of GET /documents/:id/status.
type StatusResponse struct {
	Status   domain.DocumentStatus   `json:"status"`
	Transfer *archive.TransferStatus `json:"transfer,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// MapDocumentToResponse converts a domain.Document to its DTO.
func MapDocumentToResponse(doc *domain.Document) DocumentResponse {
	if doc == nil {
		return DocumentResponse{}
	}
	return DocumentResponse{
		ID:               doc.ID,
		UserID:           doc.UserID,
		Name:             doc.Name,
		FilePath:         doc.FilePath,
		ArchivematicaID:  doc.ArchivematicaID,
		Status:           doc.Status,
		Description:      doc.Description,
		Metadata:         doc.Metadata,
		UploadDate:       doc.UploadDate,
		PreservationDate: doc.PreservationDate,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

// MapDocumentsToResponse converts a slice, never returning nil.
func MapDocumentsToResponse(docs []domain.Document) []DocumentResponse {
	responses := make([]DocumentResponse, len(docs))
	for i := range docs {
		responses[i] = MapDocumentToResponse(&docs[i])
	}
	return responses
}

// --- Handler Methods ---

// CreateDocument godoc
// @Summary Register a document and start its preservation
// @Tags Documents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param document body CreateDocumentRequest true "Document details"
// @Success 201 {object} DocumentResponse
// @Failure 400 {object} gin.H "Validation error or archive refused the transfer"
// @Router /documents [post]
func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	input := service.CreateDocumentInput{
		Name:             req.Name,
		FilePath:         req.FilePath,
		Description:      req.Description,
		Metadata:         req.Metadata,
		PreservationDate: req.PreservationDate,
		Accession:        req.Accession,
	}
	if req.UploadDate != nil {
		input.UploadDate = *req.UploadDate
	}

	doc, err := h.documentService.Create(c.Request.Context(), input, userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidationFailed):
			abortWithError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrSourceNotUploaded):
			abortWithError(c, http.StatusBadRequest, msgSourceNotUploaded)
		case errors.Is(err, service.ErrSourceNotOwned):
			abortWithError(c, http.StatusForbidden, msgSourceNotOwned)
		case errors.Is(err, service.ErrDocumentCreationFailed):
			h.logger.Warn("create rejected", slog.String("user_id", userID), slog.String("error", err.Error()))
			abortWithError(c, http.StatusBadRequest, msgCreationFailed)
		default:
			h.internalError(c, "create", err)
		}
		return
	}

	c.JSON(http.StatusCreated, MapDocumentToResponse(doc))
}

// GetDocuments godoc
// @Summary List the caller's documents, newest upload first
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Success 200 {array} DocumentResponse
// @Router /documents [get]
func (h *DocumentHandler) GetDocuments(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	docs, err := h.documentService.GetAll(c.Request.Context(), userID)
	if err != nil {
		h.internalError(c, "list", err)
		return
	}
	c.JSON(http.StatusOK, MapDocumentsToResponse(docs))
}

// FilterDocuments godoc
// @Summary Search the caller's documents
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Param name query string false "Substring of the name"
// @Param category query string false "Exact category"
// @Param keyword query string false "Substring of the keyword"
// @Param description query string false "Substring of the description"
// @Param status query string false "INICIADA, PRESERVADO or FALHA"
// @Param startDate query string false "Upload date lower bound (RFC 3339 or YYYY-MM-DD)"
// @Param endDate query string false "Upload date upper bound (RFC 3339 or YYYY-MM-DD)"
// @Success 200 {array} DocumentResponse
// @Failure 400 {object} gin.H "Invalid filter"
// @Router /documents/filter [get]
func (h *DocumentHandler) FilterDocuments(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	filter := domain.DocumentFilter{
		UserID:      userID,
		Name:        c.Query("name"),
		Category:    c.Query("category"),
		Keyword:     c.Query("keyword"),
		Description: c.Query("description"),
		Status:      domain.DocumentStatus(c.Query("status")),
	}

	var err error
	if filter.StartDate, err = parseDateQuery(c.Query("startDate"), false); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid startDate: "+err.Error())
		return
	}
	if filter.EndDate, err = parseDateQuery(c.Query("endDate"), true); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid endDate: "+err.Error())
		return
	}

	docs, err := h.documentService.Filter(c.Request.Context(), filter)
	if err != nil {
		if errors.Is(err, service.ErrValidationFailed) {
			abortWithError(c, http.StatusBadRequest, "Invalid filter")
			return
		}
		h.internalError(c, "filter", err)
		return
	}
	c.JSON(http.StatusOK, MapDocumentsToResponse(docs))
}

// GetDocument godoc
// @Summary Get one document
// @Description Preserved documents carry the archive's current view of the transfer.
// @Description When the archive cannot be reached, transferError is set instead.
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Param id path string true "Document ID"
// @Success 200 {object} DocumentResponse
// @Failure 404 {object} gin.H "Document not found"
// @Router /documents/{id} [get]
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	details, err := h.documentService.GetByID(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondLookupError(c, "get", err)
		return
	}

	resp := MapDocumentToResponse(&details.Document)
	resp.Transfer = details.Transfer
	resp.TransferError = details.TransferError
	c.JSON(http.StatusOK, resp)
}

// UpdateDocument godoc
// @Summary Change a document's descriptive metadata
// @Tags Documents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Document ID"
// @Param patch body UpdateDocumentRequest true "Fields to change"
// @Success 200 {object} DocumentResponse
// @Failure 400 {object} gin.H "Validation error"
// @Failure 404 {object} gin.H "Document not found"
// @Router /documents/{id} [patch]
func (h *DocumentHandler) UpdateDocument(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var req UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	doc, err := h.documentService.Update(c.Request.Context(), c.Param("id"), userID, domain.DocumentPatch{
		Name:             req.Name,
		Description:      req.Description,
		Metadata:         req.Metadata,
		UploadDate:       req.UploadDate,
		PreservationDate: req.PreservationDate,
	})
	if err != nil {
		if errors.Is(err, service.ErrValidationFailed) {
			abortWithError(c, http.StatusBadRequest, err.Error())
			return
		}
		h.respondLookupError(c, "update", err)
		return
	}
	c.JSON(http.StatusOK, MapDocumentToResponse(doc))
}

// DeleteDocument godoc
// @Summary Cancel a document's transfer and delete it
// @Description Only transfers still awaiting approval in the archive can be cancelled.
// @Tags Documents
// @Security BearerAuth
// @Param id path string true "Document ID"
// @Success 204
// @Failure 404 {object} gin.H "Document or remote transfer not found"
// @Failure 502 {object} gin.H "Archive refused the cancellation"
// @Router /documents/{id} [delete]
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	err := h.documentService.Remove(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		switch {
		case errors.Is(err, archive.ErrTransferNotFound):
			abortWithError(c, http.StatusNotFound, msgTransferNotFound)
		case errors.Is(err, archive.ErrRemoteCancelFailure):
			h.logger.Warn("remote cancel failed", slog.String("error", err.Error()))
			abortWithError(c, http.StatusBadGateway, msgCancelFailed)
		default:
			h.respondLookupError(c, "delete", err)
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// GetDocumentStatus godoc
// @Summary Local status next to the archive's view of the transfer
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Param id path string true "Document ID"
// @Success 200 {object} StatusResponse
// @Failure 404 {object} gin.H "Document not found"
// @Failure 502 {object} StatusResponse "Archive unreachable; local status still reported"
// @Router /documents/{id}/status [get]
func (h *DocumentHandler) GetDocumentStatus(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	report, err := h.documentService.StatusOf(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondLookupError(c, "status", err)
		return
	}

	resp := StatusResponse{Status: report.Status, Transfer: report.Transfer}
	if report.TransferError != "" {
		resp.Error = msgStatusCheckFailed
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DownloadDocument godoc
// @Summary Download the preserved package
// @Tags Documents
// @Produce octet-stream
// @Security BearerAuth
// @Param id path string true "Document ID"
// @Success 200 {file} binary
// @Failure 404 {object} gin.H "Document not found"
// @Failure 409 {object} gin.H "Not preserved yet"
// @Failure 502 {object} gin.H "Archive download failed"
// @Router /documents/{id}/download [get]
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	artifact, err := h.documentService.Download(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotPreservedYet):
			abortWithError(c, http.StatusConflict, msgNotPreservedYet)
		case errors.Is(err, archive.ErrRemoteDownloadFailure):
			h.logger.Warn("download failed", slog.String("document_id", c.Param("id")), slog.String("error", err.Error()))
			abortWithError(c, http.StatusBadGateway, msgDownloadFailed)
		default:
			h.respondLookupError(c, "download", err)
		}
		return
	}

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	fileName := artifact.FileName
	if fileName == "" {
		fileName = c.Param("id")
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	c.Data(http.StatusOK, contentType, artifact.Content)
}

// --- helpers ---

func (h *DocumentHandler) requireUser(c *gin.Context) (string, bool) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, msgUnidentifiedCaller)
		return "", false
	}
	return userID, true
}

// respondLookupError covers the errors every per-document route can return.
func (h *DocumentHandler) respondLookupError(c *gin.Context, op string, err error) {
	if errors.Is(err, service.ErrDocumentNotFound) {
		abortWithError(c, http.StatusNotFound, msgDocumentNotFound)
		return
	}
	h.internalError(c, op, err)
}

func (h *DocumentHandler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error("request failed", slog.String("op", op), slog.String("error", err.Error()))
	abortWithError(c, http.StatusInternalServerError, msgInternal)
}

// parseDateQuery accepts RFC 3339 timestamps and plain dates. A plain end date
// covers the whole day.
func parseDateQuery(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
