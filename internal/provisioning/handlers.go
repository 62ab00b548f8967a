package provisioning

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/helanet/helanet/internal/clients"
)

// Handler provides HTTP endpoints for provisioning operations.
type Handler struct {
	service *Service
	store   Store
}

// NewHandler creates a provisioning handler.
func NewHandler(service *Service, store Store) *Handler {
	return &Handler{service: service, store: store}
}

// RegisterRoutes sets up provisioning routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/clients/:id/connect", h.Connect)
	r.POST("/clients/:id/disconnect", h.Disconnect)
	r.POST("/clients/:id/qos", h.UpdateQoS)
	r.GET("/clients/:id/credential", h.GetCredential)
	r.POST("/sync/callback", h.SyncCallback)
	r.GET("/sync/audit", h.ListAudit)
	r.GET("/routers", h.ListRouters)
}

// Connect handles POST /v1/clients/:id/connect
func (h *Handler) Connect(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Connect(c.Request.Context(), id); err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "connected", "clientId": id})
}

// Disconnect handles POST /v1/clients/:id/disconnect
func (h *Handler) Disconnect(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Disconnect(c.Request.Context(), id); err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "disconnected", "clientId": id})
}

// UpdateQoS handles POST /v1/clients/:id/qos
func (h *Handler) UpdateQoS(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.UpdateQoS(c.Request.Context(), id); err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "qos_updated", "clientId": id})
}

// GetCredential handles GET /v1/clients/:id/credential
func (h *Handler) GetCredential(c *gin.Context) {
	cred, err := h.store.GetCredential(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credential": cred})
}

// SyncCallback handles POST /v1/sync/callback, the access server's
// asynchronous acknowledgement.
func (h *Handler) SyncCallback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid callback payload",
		})
		return
	}

	if err := h.service.HandleSyncCallback(c.Request.Context(), &req); err != nil {
		// Partial success still returns the error detail so the access
		// server can log it; a retry of the whole payload is safe.
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "applied"})
}

// ListAudit handles GET /v1/sync/audit
func (h *Handler) ListAudit(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50, 200)
	entries, err := h.store.ListAudit(c.Request.Context(), c.Query("clientId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// ListRouters handles GET /v1/routers
func (h *Handler) ListRouters(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50, 200)
	routers, err := h.store.ListRouters(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"routers": routers, "count": len(routers)})
}

// mapError maps service errors to HTTP responses.
func (h *Handler) mapError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, clients.ErrClientNotFound),
		errors.Is(err, clients.ErrPackageNotFound),
		errors.Is(err, ErrCredentialNotFound),
		errors.Is(err, ErrRouterNotFound):
		status = http.StatusNotFound
		code = "not_found"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func parseLimit(raw string, def, max int) int {
	limit := def
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
			if limit > max {
				limit = max
			}
		}
	}
	return limit
}
