package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/maxp/memexpert/internal/search"
)

// SearchHandler handles search endpoints.
type SearchHandler struct {
	coordinator *search.Coordinator
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - coordinator: hybrid search coordinator.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(coordinator *search.Coordinator) *SearchHandler {
	return &SearchHandler{coordinator: coordinator}
}

// SearchRequest is the POST search body. Weights override the configured
// merge defaults when either is set; vector supplies a reference embedding
// for similar-meme queries.
type SearchRequest struct {
	Query        string    `json:"query"`
	Vector       []float32 `json:"vector"`
	TextWeight   float64   `json:"text_weight"`
	VectorWeight float64   `json:"vector_weight"`
	Language     string    `json:"language"`
	Limit        int       `json:"limit"`
	Offset       int       `json:"offset"`
}

// Search handles POST /api/v1/search.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	if req.Query == "" && len(req.Vector) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Either query or vector is required",
		})
		return
	}

	resp, err := h.coordinator.SearchQuery(c.Request.Context(), &search.Query{
		Text:         req.Query,
		Vector:       req.Vector,
		TextWeight:   req.TextWeight,
		VectorWeight: req.VectorWeight,
		Language:     req.Language,
		Limit:        req.Limit,
		Offset:       req.Offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Search failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SearchGet handles GET /api/v1/search for simple queries.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) SearchGet(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter 'q' is required",
		})
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	resp, err := h.coordinator.Search(c.Request.Context(), query, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Search failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}
