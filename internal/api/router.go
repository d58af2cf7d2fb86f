package api

import (
	"github.com/gin-gonic/gin"
	"github.com/maxp/memexpert/internal/api/handler"
	"github.com/maxp/memexpert/internal/api/middleware"
	"github.com/maxp/memexpert/internal/pipeline"
	"github.com/maxp/memexpert/internal/repository"
	"github.com/maxp/memexpert/internal/search"
)

// SetupRouter configures the Gin router with all routes.
func SetupRouter(
	memes *repository.MemeRepository,
	ingestor *pipeline.Ingestor,
	coordinator *search.Coordinator,
	mode string,
	cors middleware.CORSConfig,
) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cors))

	healthHandler := handler.NewHealthHandler()
	memeHandler := handler.NewMemeHandler(memes, ingestor)
	searchHandler := handler.NewSearchHandler(coordinator)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Search
		v1.GET("/search", searchHandler.SearchGet)
		v1.POST("/search", searchHandler.Search)

		// Memes
		v1.POST("/memes", memeHandler.Create)
		v1.GET("/memes/:id", memeHandler.Get)
		v1.GET("/memes/slug/:slug", memeHandler.GetBySlug)
		v1.PUT("/memes/:id/tags", memeHandler.SetTags)
		v1.PUT("/memes/:id/status", memeHandler.SetStatus)
		v1.POST("/memes/:id/retag", memeHandler.Retag)
		v1.DELETE("/memes/:id", memeHandler.Delete)
	}

	return r
}
