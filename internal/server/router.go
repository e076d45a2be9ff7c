package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/properties"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	apiPrefix          = "/api"
	propertiesPath     = apiPrefix + "/properties"
	maxMultipartMemory = 8 << 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserResolver     = errors.New("user resolver dependency required")
	errMissingPropertyService  = errors.New("property service dependency required")
	errMissingDocumentService  = errors.New("document service dependency required")
	errMissingNotesService     = errors.New("notes service dependency required")
)

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type UserResolver interface {
	Resolve(ctx context.Context, claims auth.SessionClaims) (users.User, error)
}

// Uploads serves locally stored files under their public prefix.
type Uploads struct {
	Dir          string
	PublicPrefix string
}

type Dependencies struct {
	Sessions        SessionValidator
	Users           UserResolver
	PropertyService *properties.Service
	DocumentService *documents.Service
	NotesService    *notes.Service
	Cache           *cache.Cache
	CacheTTL        time.Duration
	RateLimiter     *ratelimit.Limiter
	Uploads         *Uploads
	AllowedOrigins  []string
	Development     bool
	Logger          *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessionValidator
	case deps.Users == nil:
		return nil, errMissingUserResolver
	case deps.PropertyService == nil:
		return nil, errMissingPropertyService
	case deps.DocumentService == nil:
		return nil, errMissingDocumentService
	case deps.NotesService == nil:
		return nil, errMissingNotesService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	useJSONFieldNames()

	handler := &httpHandler{
		sessions:    deps.Sessions,
		users:       deps.Users,
		properties:  deps.PropertyService,
		documents:   deps.DocumentService,
		notes:       deps.NotesService,
		development: deps.Development,
		logger:      logger,
	}

	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory
	router.Use(gin.CustomRecovery(handler.recoverPanic))
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/healthz", handler.handleHealth)
	if deps.Uploads != nil && strings.TrimSpace(deps.Uploads.Dir) != "" {
		router.Static(deps.Uploads.PublicPrefix, deps.Uploads.Dir)
	}

	api := router.Group(apiPrefix)
	api.Use(deps.RateLimiter.Middleware())
	api.Use(handler.authorizeRequest)
	api.Use(cache.Middleware(deps.Cache, deps.CacheTTL, cacheUserKey))
	api.Use(cache.InvalidateOnWrite(deps.Cache, propertiesPath))

	api.GET("/properties", handler.handleListProperties)
	api.POST("/properties", handler.handleCreateProperty)
	api.GET("/properties/:id", handler.handleGetProperty)
	api.PATCH("/properties/:id", handler.handleUpdateProperty)
	api.DELETE("/properties/:id", handler.handleDeleteProperty)

	api.GET("/properties/:id/images", handler.handleListImages)
	api.POST("/properties/:id/images", handler.handleAddImage)
	api.POST("/properties/:id/images/reorder", handler.handleReorderImages)
	api.PATCH("/properties/:id/images/:imageId", handler.handleUpdateImage)
	api.DELETE("/properties/:id/images/:imageId", handler.handleDeleteImage)

	api.GET("/properties/:id/owners", handler.handleListOwners)
	api.POST("/properties/:id/owners", handler.handleAddOwner)
	api.DELETE("/properties/:id/owners/:ownerId", handler.handleRemoveOwner)

	api.GET("/properties/:id/occupancy", handler.handleOccupancy)

	api.GET("/properties/:id/documents", handler.handleListDocuments)
	api.POST("/properties/:id/documents", handler.handleUploadDocument)
	api.DELETE("/properties/:id/documents/:documentId", handler.handleDeleteDocument)

	api.GET("/properties/:id/notes", handler.handleListNotes)
	api.POST("/properties/:id/notes", handler.handleCreateNote)
	api.PATCH("/properties/:id/notes/:noteId", handler.handleUpdateNote)
	api.DELETE("/properties/:id/notes/:noteId", handler.handleDeleteNote)

	return router, nil
}

type httpHandler struct {
	sessions    SessionValidator
	users       UserResolver
	properties  *properties.Service
	documents   *documents.Service
	notes       *notes.Service
	development bool
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requester returns the resolved user or renders 401.
func (h *httpHandler) requester(c *gin.Context) (users.User, bool) {
	user, ok := currentUser(c)
	if !ok {
		h.writeError(c, errUnauthenticated())
		return users.User{}, false
	}
	return user, true
}
