package http

import (
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"proposal/internal/domain"
	"proposal/internal/metrics"
	"proposal/internal/service"
)

const (
	identityKey = "session.identity"

	maxBodyBytes = 1 << 16

	msgInvalidBody        = "invalid request body"
	msgInvalidCredentials = "Invalid identifier or secret"
	msgNotAuthenticated   = "Not authenticated"
	msgAccountExists      = "An account with this identifier already exists"
	msgInternal           = "Internal server error"
	msgMethodNotAllowed   = "Method not allowed"
	msgNotFound           = "Not found"
)

// SessionCookie describes how the session token travels to and from the browser.
type SessionCookie struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	accounts  service.AccountService
	photos    service.PhotoService
	cookie    SessionCookie
	staticDir string
	metrics   http.Handler
	logger    *logrus.Logger
}

func NewHandler(
	accounts service.AccountService,
	photos service.PhotoService,
	cookie SessionCookie,
	staticDir string,
	metricsHandler http.Handler,
	logger *logrus.Logger,
) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		accounts:  accounts,
		photos:    photos,
		cookie:    cookie,
		staticDir: staticDir,
		metrics:   metricsHandler,
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.HandleMethodNotAllowed = true
	router.Use(requestLogger(h.logger))

	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		auth.POST("/register", h.register)
		auth.POST("/login", h.login)
		auth.GET("/session", h.session)
		auth.POST("/logout", h.logout)

		api.GET("/photos", h.RequireSession(), h.listPhotos)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": msgMethodNotAllowed})
	})
	router.NoRoute(h.serveStatic)
}

type credentialsRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type AccountResponse struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
}

type sessionResponse struct {
	Account AccountResponse `json:"account"`
}

type PhotoResponse struct {
	Key          string  `json:"key"`
	URL          string  `json:"url"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func (h *Handler) register(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		metrics.RecordAuthAttempt(metrics.OperationRegister, metrics.OutcomeInvalidInput)
		return
	}

	session, err := h.accounts.Register(c.Request.Context(), req.Identifier, req.Secret)
	if err != nil {
		h.writeError(c, metrics.OperationRegister, err)
		return
	}

	h.setSessionCookie(c, session)
	metrics.RecordAuthAttempt(metrics.OperationRegister, metrics.OutcomeSuccess)
	c.JSON(http.StatusCreated, identityToResponse(session.Identity))
}

func (h *Handler) login(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		metrics.RecordAuthAttempt(metrics.OperationLogin, metrics.OutcomeInvalidInput)
		return
	}

	session, err := h.accounts.Authenticate(c.Request.Context(), req.Identifier, req.Secret)
	if err != nil {
		h.writeError(c, metrics.OperationLogin, err)
		return
	}

	h.setSessionCookie(c, session)
	metrics.RecordAuthAttempt(metrics.OperationLogin, metrics.OutcomeSuccess)
	c.JSON(http.StatusOK, identityToResponse(session.Identity))
}

func (h *Handler) session(c *gin.Context) {
	identity, err := h.identityFromCookie(c)
	if err != nil {
		h.writeError(c, metrics.OperationSession, err)
		return
	}

	metrics.RecordAuthAttempt(metrics.OperationSession, metrics.OutcomeSuccess)
	c.JSON(http.StatusOK, identityToResponse(identity))
}

// logout only tells the browser to drop the cookie; the token itself stays valid until it expires.
func (h *Handler) logout(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   h.cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	metrics.RecordAuthAttempt(metrics.OperationLogout, metrics.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) listPhotos(c *gin.Context) {
	photos, err := h.photos.ListPhotos(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrStorageNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("list photos")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	resp := make([]PhotoResponse, len(photos))
	for i := range photos {
		resp[i] = photoToResponse(photos[i])
	}
	c.JSON(http.StatusOK, gin.H{"photos": resp})
}

// RequireSession aborts with 401 unless the request carries a valid session cookie.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := h.identityFromCookie(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgNotAuthenticated})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// IdentityFromContext returns the identity stored by RequireSession.
func IdentityFromContext(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok
}

func (h *Handler) identityFromCookie(c *gin.Context) (domain.Identity, error) {
	token, err := c.Cookie(h.cookie.Name)
	if err != nil || token == "" {
		return domain.Identity{}, service.ErrUnauthorized
	}
	return h.accounts.CheckSession(c.Request.Context(), token)
}

func (h *Handler) setSessionCookie(c *gin.Context, session *service.Session) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(h.cookie.MaxAge / time.Second),
		Secure:   h.cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func bindCredentials(c *gin.Context) (credentialsRequest, bool) {
	var req credentialsRequest
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return req, false
	}
	return req, true
}

func (h *Handler) writeError(c *gin.Context, operation string, err error) {
	var inputErr *service.InputError
	switch {
	case errors.As(err, &inputErr):
		metrics.RecordAuthAttempt(operation, metrics.OutcomeInvalidInput)
		c.JSON(http.StatusBadRequest, gin.H{"error": inputErr.Message})
	case errors.Is(err, service.ErrInvalidCredentials):
		metrics.RecordAuthAttempt(operation, metrics.OutcomeUnauthorized)
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCredentials})
	case errors.Is(err, service.ErrUnauthorized):
		metrics.RecordAuthAttempt(operation, metrics.OutcomeUnauthorized)
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgNotAuthenticated})
	case errors.Is(err, service.ErrAccountExists):
		metrics.RecordAuthAttempt(operation, metrics.OutcomeConflict)
		c.JSON(http.StatusConflict, gin.H{"error": msgAccountExists})
	default:
		metrics.RecordAuthAttempt(operation, metrics.OutcomeError)
		h.logger.WithError(err).WithFields(logrus.Fields{
			"operation": operation,
			"path":      c.FullPath(),
		}).Error("auth request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
	}
}

// serveStatic hands unmatched GET requests to the presentation bundle, falling back
// to index.html so client-side routes resolve.
func (h *Handler) serveStatic(c *gin.Context) {
	method := c.Request.Method
	if h.staticDir == "" || (method != http.MethodGet && method != http.MethodHead) ||
		strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": msgNotFound})
		return
	}

	name := filepath.Join(h.staticDir, filepath.FromSlash(path.Clean("/"+c.Request.URL.Path)))
	if fi, err := os.Stat(name); err != nil || fi.IsDir() {
		name = filepath.Join(h.staticDir, "index.html")
	}

	f, err := os.Open(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": msgNotFound})
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		h.logger.WithError(err).WithField("file", name).Error("stat static file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}
	http.ServeContent(c.Writer, c.Request, fi.Name(), fi.ModTime(), f)
}

func identityToResponse(identity domain.Identity) sessionResponse {
	return sessionResponse{Account: AccountResponse{
		ID:         identity.AccountID,
		Identifier: identity.Identifier,
	}}
}

func photoToResponse(photo service.Photo) PhotoResponse {
	resp := PhotoResponse{
		Key:  photo.Key,
		URL:  photo.URL,
		Size: photo.Size,
	}
	if photo.LastModified != nil && !photo.LastModified.IsZero() {
		v := photo.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
