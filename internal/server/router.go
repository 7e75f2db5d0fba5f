package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/annotations"
	"github.com/MarcoPoloResearchLab/marginalia/internal/cache"
	"github.com/MarcoPoloResearchLab/marginalia/internal/documents"
	"github.com/MarcoPoloResearchLab/marginalia/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "marginalia_user_id"

const (
	defaultPageSize    = 100
	defaultUploadLimit = 10 << 20
)

var (
	errMissingUsersService       = errors.New("users service dependency required")
	errMissingDocumentsService   = errors.New("documents service dependency required")
	errMissingAnnotationsService = errors.New("annotations service dependency required")
	errMissingTokenManager       = errors.New("token manager dependency required")
	errMissingHub                = errors.New("room hub dependency required")
	errInvalidAuthorization      = errors.New("authorization missing or invalid")
)

// TokenManager issues and validates session tokens.
type TokenManager interface {
	IssueToken(userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface. Cache is optional; every other field
// is required.
type Dependencies struct {
	Users        *users.Service
	Documents    *documents.Service
	Annotations  *annotations.Service
	TokenManager TokenManager
	Hub          *RoomHub
	Cache        *cache.DocumentCache
	Logger       *zap.Logger
	PageSize     int
	UploadLimit  int64
}

// NewHTTPHandler builds the gin handler serving both ingestion paths.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Documents == nil {
		return nil, errMissingDocumentsService
	}
	if deps.Annotations == nil {
		return nil, errMissingAnnotationsService
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	uploadLimit := deps.UploadLimit
	if uploadLimit <= 0 {
		uploadLimit = defaultUploadLimit
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		users:       deps.Users,
		documents:   deps.Documents,
		annotations: deps.Annotations,
		tokens:      deps.TokenManager,
		hub:         deps.Hub,
		cache:       deps.Cache,
		logger:      logger,
		pageSize:    pageSize,
		uploadLimit: uploadLimit,
	}

	router.POST("/user", handler.handleCreateOrGetUser)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/upload", handler.handleUpload)
	protected.GET("/documents", handler.handleListDocuments)
	protected.GET("/document/:id", handler.handleGetDocument)
	protected.POST("/annotation", handler.handleCreateAnnotation)
	protected.GET("/annotations/:documentId", handler.handleListAnnotations)
	protected.DELETE("/annotation/:id", handler.handleDeleteAnnotation)
	protected.GET("/documents/ws", handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	users       *users.Service
	documents   *documents.Service
	annotations *annotations.Service
	tokens      TokenManager
	hub         *RoomHub
	cache       *cache.DocumentCache
	logger      *zap.Logger
	pageSize    int
	uploadLimit int64
}

type userRequestPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type userResponsePayload struct {
	User        users.User `json:"user"`
	AccessToken string     `json:"access_token"`
	ExpiresIn   int64      `json:"expires_in"`
	TokenType   string     `json:"token_type"`
}

func (h *httpHandler) handleCreateOrGetUser(c *gin.Context) {
	var request userRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.CreateOrGet(c.Request.Context(), request.Username, request.Email)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("user resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user_resolution_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(user.ID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, userResponsePayload{
		User:        user,
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	userID := strings.TrimSpace(c.PostForm("userId"))
	fileHeader, err := c.FormFile("file")
	if err != nil || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if fileHeader.Size > h.uploadLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_too_large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.uploadLimit+1))
	if err != nil || int64(len(data)) > h.uploadLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_too_large"})
		return
	}

	document, err := h.documents.Upload(
		c.Request.Context(), userID, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), data)
	if err != nil {
		switch {
		case errors.Is(err, documents.ErrUnsupportedType):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_file_type"})
		case errors.Is(err, documents.ErrExtractionFailed):
			c.JSON(http.StatusBadRequest, gin.H{"error": "extraction_failed", "message": err.Error()})
		case errors.Is(err, documents.ErrInvalidUpload):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		default:
			h.logger.Error("document upload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		}
		return
	}

	h.invalidateCache(c.Request.Context(), document.ID)
	c.JSON(http.StatusCreated, document)
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	ctx := c.Request.Context()
	if h.cache != nil {
		cached, err := h.cache.GetIndex(ctx)
		if err != nil {
			h.logger.Warn("document index cache read failed", zap.Error(err))
		} else if cached != nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	summaries, err := h.documents.List(ctx)
	if err != nil {
		h.logger.Error("document listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if summaries == nil {
		summaries = []documents.Summary{}
	}
	if h.cache != nil {
		if err := h.cache.SetIndex(ctx, summaries); err != nil {
			h.logger.Warn("document index cache write failed", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	page := parsePage(c.Query("page"))

	document, err := h.lookupDocument(ctx, id)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Document not found"})
			return
		}
		h.logger.Error("document lookup failed", zap.Error(err), zap.String("document_id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	result, err := h.annotations.ListPage(ctx, id, page, h.pageSize)
	if err != nil {
		h.respondAnnotationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"document":    document,
		"annotations": result.Items,
		"total":       result.Total,
		"page":        result.Page,
		"totalPages":  result.TotalPages,
	})
}

func (h *httpHandler) handleCreateAnnotation(c *gin.Context) {
	var payload annotationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
		return
	}

	ctx := c.Request.Context()
	request, err := h.buildCreateRequest(ctx, payload)
	if err != nil {
		h.respondAnnotationError(c, err)
		return
	}

	stored, err := h.annotations.Create(ctx, request)
	if err != nil {
		if errors.Is(err, annotations.ErrCountDrift) {
			// The annotation is durable; the counter needs reconciliation.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":      "count_drift_possible",
				"annotation": stored,
			})
			return
		}
		h.respondAnnotationError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (h *httpHandler) handleListAnnotations(c *gin.Context) {
	result, err := h.annotations.ListPage(
		c.Request.Context(), c.Param("documentId"), parsePage(c.Query("page")), h.pageSize)
	if err != nil {
		h.respondAnnotationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"annotations": result.Items,
		"total":       result.Total,
		"page":        result.Page,
		"totalPages":  result.TotalPages,
	})
}

func (h *httpHandler) handleDeleteAnnotation(c *gin.Context) {
	err := h.annotations.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, annotations.ErrCountDrift) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "count_drift_possible"})
			return
		}
		h.respondAnnotationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Annotation deleted successfully"})
}

// buildCreateRequest resolves the annotating user so the username and color
// snapshots always come from durable state, on both ingestion paths.
func (h *httpHandler) buildCreateRequest(ctx context.Context, payload annotationPayload) (annotations.CreateRequest, error) {
	user, err := h.users.GetByID(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) || errors.Is(err, users.ErrInvalidIdentity) {
			return annotations.CreateRequest{}, fmt.Errorf("%w: unknown user", annotations.ErrInvalidInput)
		}
		return annotations.CreateRequest{}, err
	}
	return annotations.CreateRequest{
		DocumentID:   payload.DocumentID,
		UserID:       user.ID,
		Username:     user.Username,
		UserColor:    user.Color,
		SelectedText: payload.SelectedText,
		Comment:      payload.Comment,
		StartIndex:   payload.StartIndex,
		EndIndex:     payload.EndIndex,
	}, nil
}

func (h *httpHandler) lookupDocument(ctx context.Context, id string) (documents.Document, error) {
	if h.cache != nil {
		cached, err := h.cache.GetDocument(ctx, id)
		if err != nil {
			h.logger.Warn("document cache read failed", zap.Error(err), zap.String("document_id", id))
		} else if cached != nil {
			return *cached, nil
		}
	}
	document, err := h.documents.Get(ctx, id)
	if err != nil {
		return documents.Document{}, err
	}
	if h.cache != nil {
		if err := h.cache.SetDocument(ctx, document); err != nil {
			h.logger.Warn("document cache write failed", zap.Error(err), zap.String("document_id", id))
		}
	}
	return document, nil
}

func (h *httpHandler) respondAnnotationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, annotations.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
	case errors.Is(err, annotations.ErrDuplicateRange):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_range", "message": "Duplicate annotation detected"})
	case errors.Is(err, annotations.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Annotation not found"})
	default:
		h.logger.Error("annotation operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transport_failure"})
	}
}

func (h *httpHandler) invalidateCache(ctx context.Context, documentID string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, documentID); err != nil {
		h.logger.Warn("document cache invalidation failed", zap.Error(err), zap.String("document_id", documentID))
	}
}

// authorizeRequest accepts a Bearer header or, for websocket upgrades that
// cannot set headers from a browser, an access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		// Expired sessions are routine; anything else deserves attention.
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func parsePage(raw string) int {
	page, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
