package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"groupbuy-service/internal/apperr"
	"groupbuy-service/internal/auth"
	"groupbuy-service/internal/models"
	"groupbuy-service/internal/service"
	"groupbuy-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	coordinator *service.Coordinator
	catalog     *service.CatalogService
	verifier    *auth.Verifier
	store       Pinger
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(coordinator *service.Coordinator, catalog *service.CatalogService, verifier *auth.Verifier, store Pinger) *Handler {
	return &Handler{
		coordinator: coordinator,
		catalog:     catalog,
		verifier:    verifier,
		store:       store,
		logger:      util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/", auth.Middleware(h.verifier))
	{
		api.GET("/campaigns", h.listCampaigns)
		api.GET("/campaigns/:id", h.getCampaign)
		api.POST("/campaigns/:id/join", requireSession(), h.joinCampaign)
		api.POST("/campaigns/:id/pay", requireSession(), h.payCampaign)
	}

	admin := router.Group("/admin", auth.Middleware(h.verifier), requireSession(), requireAdmin())
	{
		admin.POST("/campaigns", h.createCampaign)
		admin.PATCH("/campaigns/:id/status", h.setCampaignStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only while the store answers.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) joinCampaign(c *gin.Context) {
	session, _ := auth.FromContext(c)

	res, err := h.coordinator.Join(c.Request.Context(), c.Param("id"), session.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participation": res.Participation,
		"campaign":      res.Campaign,
	})
}

func (h *Handler) payCampaign(c *gin.Context) {
	session, _ := auth.FromContext(c)

	res, err := h.coordinator.Pay(c.Request.Context(), c.Param("id"), session.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":    res.Order,
		"campaign": res.Campaign,
	})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) setCampaignStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}

	target, ok := models.ParsePhase(req.Status)
	if !ok {
		h.writeError(c, apperr.New(apperr.KindValidation, "unknown status "+strconv.Quote(req.Status)))
		return
	}

	session, _ := auth.FromContext(c)
	campaign, err := h.coordinator.Transition(c.Request.Context(), c.Param("id"), target, session.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"campaign": campaign})
}

func (h *Handler) createCampaign(c *gin.Context) {
	var req service.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}

	campaign, err := h.catalog.CreateCampaign(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"campaign": campaign})
}

func (h *Handler) listCampaigns(c *gin.Context) {
	var filter models.ListFilter

	if raw := c.Query("status"); raw != "" {
		status, ok := models.ParsePhase(raw)
		if !ok {
			h.writeError(c, apperr.New(apperr.KindValidation, "unknown status "+strconv.Quote(raw)))
			return
		}
		filter.Status = status
	}
	filter.Category = c.Query("category")
	if raw := c.Query("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(c, apperr.New(apperr.KindValidation, "featured must be true or false"))
			return
		}
		filter.FeaturedOnly = featured
	}

	listings, err := h.catalog.ListCampaigns(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"campaigns": listings,
		"total":     len(listings),
	})
}

func (h *Handler) getCampaign(c *gin.Context) {
	campaign, err := h.catalog.GetCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"campaign": campaign})
}

// writeError renders err as {"error": {"kind", "message"}}. Causes of
// internal errors are logged, never returned.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	message := "internal error"
	var appErr *apperr.Error
	if kind == apperr.KindInternal {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	} else if errors.As(err, &appErr) {
		message = appErr.Message
	}

	c.AbortWithStatusJSON(kind.HTTPStatus(), gin.H{
		"error": gin.H{
			"kind":    kind,
			"message": message,
		},
	})
}

func requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.FromContext(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"kind": apperr.KindUnauthenticated, "message": apperr.ErrUnauthenticated.Message},
			})
			return
		}
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := auth.FromContext(c)
		if !ok || !session.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"kind": apperr.KindForbidden, "message": apperr.ErrForbidden.Message},
			})
			return
		}
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
