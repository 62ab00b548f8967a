package payments

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/helanet/helanet/internal/clients"
	"github.com/helanet/helanet/internal/idgen"
	"github.com/helanet/helanet/internal/logging"
	"github.com/helanet/helanet/internal/validation"
)

// EventEmitter broadcasts payment events to realtime subscribers.
type EventEmitter interface {
	EmitPayment(clientID, amount, result string)
}

// Handler provides HTTP endpoints for charges and reconciliation.
type Handler struct {
	gateway     Gateway
	store       Store
	clientStore clients.Store
	service     *Service
	monitor     *Monitor
	reconciler  *Reconciler
	events      EventEmitter
}

// NewHandler creates a payment handler.
func NewHandler(gateway Gateway, store Store, clientStore clients.Store, service *Service, monitor *Monitor, reconciler *Reconciler) *Handler {
	return &Handler{
		gateway:     gateway,
		store:       store,
		clientStore: clientStore,
		service:     service,
		monitor:     monitor,
		reconciler:  reconciler,
	}
}

// WithEvents attaches a realtime event emitter.
func (h *Handler) WithEvents(e EventEmitter) *Handler {
	h.events = e
	return h
}

// RegisterRoutes sets up payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/charges", h.InitiateCharge)
	r.POST("/payments/callback", h.GatewayCallback)
	r.GET("/payments/unmatched", h.ListUnmatched)
	r.POST("/payments/unmatched/:id/match", h.MatchPayment)
}

// InitiateChargeRequest is the checkout request body.
type InitiateChargeRequest struct {
	ClientID string `json:"clientId" binding:"required"`
	Phone    string `json:"phone"`
	Amount   string `json:"amount"`
}

// InitiateCharge handles POST /v1/charges. It starts an STK push and
// monitors it in the background; the response reports only that
// monitoring began, not the charge outcome.
func (h *Handler) InitiateCharge(c *gin.Context) {
	ctx := c.Request.Context()

	var req InitiateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	client, err := h.clientStore.Get(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, clients.ErrClientNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Client not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	phone := req.Phone
	if phone == "" {
		phone = client.Phone
	}
	amount := req.Amount
	if amount == "" {
		amount = client.MonthlyRate
	}

	if errs := validation.Validate(
		validation.ValidPhone("phone", phone),
		validation.ValidAmount("amount", amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	paymentID := idgen.WithPrefix("pay_")
	checkoutRequestID, err := h.gateway.InitiateCharge(ctx, phone, amount, paymentID)
	if err != nil {
		logging.L(ctx).Error("failed to initiate charge", "clientId", req.ClientID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_error",
			"message": "Failed to initiate charge",
		})
		return
	}

	now := time.Now()
	charge := &PendingCharge{
		CheckoutRequestID: checkoutRequestID,
		PaymentID:         paymentID,
		ClientID:          client.ID,
		Amount:            amount,
		Phone:             phone,
		State:             ChargePending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.store.CreateCharge(ctx, charge); err != nil {
		logging.L(ctx).Error("failed to record pending charge", "checkoutRequestId", checkoutRequestID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record charge",
		})
		return
	}

	h.monitor.StartMonitoring(paymentID, checkoutRequestID, h.checkoutCallbacks(charge))

	c.JSON(http.StatusAccepted, gin.H{
		"paymentId":         paymentID,
		"checkoutRequestId": checkoutRequestID,
		"state":             ChargePending,
	})
}

// checkoutCallbacks builds the terminal handlers for a monitored charge.
// They run on the monitor goroutine, detached from the request context.
func (h *Handler) checkoutCallbacks(charge *PendingCharge) Callbacks {
	return Callbacks{
		OnSuccess: func(status *ChargeStatus) {
			ctx, cancel := callbackContext()
			defer cancel()
			if err := h.service.ProcessPayment(ctx, charge.ClientID, charge.Amount, status.Receipt); err != nil {
				h.service.logger.Error("failed to process confirmed charge",
					"checkoutRequestId", charge.CheckoutRequestID,
					"clientId", charge.ClientID,
					"error", err,
				)
				return
			}
			if h.events != nil {
				h.events.EmitPayment(charge.ClientID, charge.Amount, "success")
			}
		},
		OnFailure: func(status *ChargeStatus) {
			h.service.logger.Warn("charge failed",
				"checkoutRequestId", charge.CheckoutRequestID,
				"clientId", charge.ClientID,
				"message", status.Message,
			)
			if h.events != nil {
				h.events.EmitPayment(charge.ClientID, charge.Amount, "failed")
			}
		},
		OnTimeout: func() {
			h.service.logger.Warn("charge monitoring timed out",
				"checkoutRequestId", charge.CheckoutRequestID,
				"clientId", charge.ClientID,
			)
			if h.events != nil {
				h.events.EmitPayment(charge.ClientID, charge.Amount, "timeout")
			}
		},
	}
}

// GatewayCallbackRequest is the gateway's asynchronous payment event.
type GatewayCallbackRequest struct {
	CheckoutRequestID string `json:"checkoutRequestId"`
	Receipt           string `json:"receipt" binding:"required"`
	Amount            string `json:"amount" binding:"required"`
	Phone             string `json:"phone"`
}

// GatewayCallback handles POST /v1/payments/callback. A payment that
// matches a pending charge is processed directly; anything else is parked
// as an unmatched payment for operator reconciliation.
func (h *Handler) GatewayCallback(c *gin.Context) {
	ctx := c.Request.Context()

	var req GatewayCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid callback payload",
		})
		return
	}

	if req.CheckoutRequestID != "" {
		charge, err := h.store.GetCharge(ctx, req.CheckoutRequestID)
		if err == nil && charge.State == ChargePending {
			// The monitor may still be polling; stop it so only this path
			// delivers the outcome.
			h.monitor.StopMonitoring(req.CheckoutRequestID)
			if err := h.store.UpdateChargeState(ctx, req.CheckoutRequestID, ChargeCompleted); err != nil {
				logging.L(ctx).Warn("failed to mark charge completed",
					"checkoutRequestId", req.CheckoutRequestID, "error", err)
			}
			if err := h.service.ProcessPayment(ctx, charge.ClientID, req.Amount, req.Receipt); err != nil {
				logging.L(ctx).Error("failed to process callback payment",
					"checkoutRequestId", req.CheckoutRequestID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_error",
					"message": "Failed to process payment",
				})
				return
			}
			c.JSON(http.StatusOK, gin.H{"result": "processed"})
			return
		}
	}

	unmatched := &UnmatchedPayment{
		ID:         idgen.WithPrefix("ump_"),
		Amount:     req.Amount,
		Receipt:    req.Receipt,
		Phone:      req.Phone,
		ReceivedAt: time.Now(),
	}
	if err := h.store.CreateUnmatched(ctx, unmatched); err != nil {
		logging.L(ctx).Error("failed to park unmatched payment", "receipt", req.Receipt, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record payment",
		})
		return
	}

	logging.L(ctx).Info("payment parked for reconciliation",
		"unmatchedPaymentId", unmatched.ID,
		"receipt", req.Receipt,
		"amount", req.Amount,
	)
	c.JSON(http.StatusAccepted, gin.H{"result": "unmatched", "id": unmatched.ID})
}

// ListUnmatched handles GET /v1/payments/unmatched
func (h *Handler) ListUnmatched(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	payments, err := h.store.ListUnmatched(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payments": payments,
		"count":    len(payments),
	})
}

// MatchPayment handles POST /v1/payments/unmatched/:id/match
func (h *Handler) MatchPayment(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		ClientID string `json:"clientId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "clientId is required",
		})
		return
	}

	if err := h.reconciler.MatchPaymentToClient(c.Request.Context(), id, req.ClientID); err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Unmatched payment not found",
			})
		case errors.Is(err, clients.ErrClientNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Client not found",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "reconciliation_failed",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "matched", "clientId": req.ClientID})
}

// callbackContext bounds the work done on a monitor callback; the
// originating HTTP request is long gone by the time it fires.
func callbackContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
