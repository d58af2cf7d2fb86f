package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/maxp/memexpert/internal/domain"
	"github.com/maxp/memexpert/internal/pipeline"
	"github.com/maxp/memexpert/internal/repository"
)

// MemeHandler handles meme CRUD endpoints.
type MemeHandler struct {
	memes    *repository.MemeRepository
	ingestor *pipeline.Ingestor
}

// NewMemeHandler creates a new meme handler.
// Parameters:
//   - memes: primary store repository for reads.
//   - ingestor: write-side service.
// Returns:
//   - *MemeHandler: initialized handler.
func NewMemeHandler(memes *repository.MemeRepository, ingestor *pipeline.Ingestor) *MemeHandler {
	return &MemeHandler{memes: memes, ingestor: ingestor}
}

// statusForErr maps domain errors onto HTTP status codes.
func statusForErr(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGeneratorFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Create handles POST /api/v1/memes (multipart upload).
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *MemeHandler) Create(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file: " + err.Error()})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to open file: " + err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file: " + err.Error()})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	input := &pipeline.CreateInput{
		Data:        data,
		MimeType:    mimeType,
		SourceURL:   c.PostForm("source_url"),
		Language:    c.PostForm("language"),
		Title:       c.PostForm("title"),
		Caption:     c.PostForm("caption"),
		Description: c.PostForm("description"),
		TextOnMeme:  c.PostForm("text_on_meme"),
		Publish:     c.PostForm("publish") == "true",
	}

	meme, err := h.ingestor.Create(c.Request.Context(), input)
	if err != nil {
		c.JSON(statusForErr(err), gin.H{"error": "Failed to create meme: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, meme)
}

// Get handles GET /api/v1/memes/:id. A meme awaiting deletion reads as
// absent.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *MemeHandler) Get(c *gin.Context) {
	meme, err := h.memes.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusForErr(err), gin.H{"error": err.Error()})
		return
	}
	if meme.Deleting() {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, meme)
}

// GetBySlug handles GET /api/v1/memes/slug/:slug.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *MemeHandler) GetBySlug(c *gin.Context) {
	meme, err := h.memes.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		c.JSON(statusForErr(err), gin.H{"error": err.Error()})
		return
	}
	if meme.Deleting() {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, meme)
}

// TagsRequest is the PUT tags body.
type TagsRequest struct {
	Tags     []string `json:"tags" binding:"required"`
	Language string   `json:"language"`
}

// SetTags handles PUT /api/v1/memes/:id/tags.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *MemeHandler) SetTags(c *gin.Context) {
	var req TagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if err := h.ingestor.SetTags(c.Request.Context(), c.Param("id"), req.Tags, req.Language); err != nil {
		c.JSON(statusForErr(err), gin.H{"error": "Failed to update tags: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// Retag handles POST /api/v1/memes/:id/retag.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *MemeHandler) Retag(c *gin.Context) {
	if err := h.ingestor.Retag(c.Request.Context(), c.Param("id"), c.Query("language")); err != nil {
		c.JSON(statusForErr(err), gin.H{"error": "Failed to retag: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// StatusRequest is the PUT status body.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetStatus handles PUT /api/v1/memes/:id/status.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *MemeHandler) SetStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	status := domain.PublishStatus(req.Status)
	switch status {
	case domain.PublishStatusDraft, domain.PublishStatusPublished, domain.PublishStatusTrash:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status: " + req.Status})
		return
	}

	if err := h.ingestor.SetPublishStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		c.JSON(statusForErr(err), gin.H{"error": "Failed to update status: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// Delete handles DELETE /api/v1/memes/:id. The meme disappears from reads
// immediately; storage is reclaimed once the indexes confirm removal.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *MemeHandler) Delete(c *gin.Context) {
	if err := h.ingestor.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusForErr(err), gin.H{"error": "Failed to delete meme: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "deleting"})
}
