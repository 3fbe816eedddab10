package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/cart"
	"github.com/Dundurn-Market/open-tender-redux/internal/checkout"
	"github.com/Dundurn-Market/open-tender-redux/internal/commerce"
	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/redisclient"
	"github.com/Dundurn-Market/open-tender-redux/internal/service"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// SubmissionReader reads the submission ledger
type SubmissionReader interface {
	GetSubmissionsBySession(ctx context.Context, sessionID string) ([]models.Submission, error)
}

// Handler contains HTTP handlers
type Handler struct {
	sessions    *service.SessionService
	menus       *service.MenuService
	customers   *service.CustomerService
	checkout    *service.CheckoutService
	submissions SubmissionReader
	deps        map[string]Pinger
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler. submissions may be nil when no
// ledger is configured.
func NewHandler(
	sessions *service.SessionService,
	menus *service.MenuService,
	customers *service.CustomerService,
	checkoutService *service.CheckoutService,
	submissions SubmissionReader,
	deps map[string]Pinger,
) *Handler {
	return &Handler{
		sessions:    sessions,
		menus:       menus,
		customers:   customers,
		checkout:    checkoutService,
		submissions: submissions,
		deps:        deps,
		logger:      util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	registerValidators()

	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1/sessions")
	{
		v1.POST("", h.createSession)
		v1.GET("/:id", h.getSession)
		v1.DELETE("/:id", h.deleteSession)

		v1.PUT("/:id/order", h.updateOrder)
		v1.POST("/:id/menu", h.fetchMenu)
		v1.DELETE("/:id/alert", h.resetAlert)
		v1.DELETE("/:id/messages/:messageId", h.removeMessage)

		v1.POST("/:id/cart/items", h.addItem)
		v1.DELETE("/:id/cart", h.resetCart)
		v1.DELETE("/:id/cart/items/:index", h.removeItem)
		v1.DELETE("/:id/cart/products/:productId", h.removeProduct)
		v1.POST("/:id/cart/items/:index/increment", h.incrementItem)
		v1.POST("/:id/cart/items/:index/decrement", h.decrementItem)
		v1.PUT("/:id/cart/items/:index/frequency", h.setItemFrequency)

		v1.PUT("/:id/checkout/form", h.updateForm)
		v1.POST("/:id/checkout/validate", h.validate)
		v1.POST("/:id/checkout/submit", h.submit)
		v1.POST("/:id/checkout/submit-pay", h.submitForPayment)
		v1.DELETE("/:id/checkout/completed", h.resetCompleted)
		v1.GET("/:id/submissions", h.listSubmissions)

		v1.POST("/:id/login", h.login)
		v1.POST("/:id/logout", h.logout)
		v1.GET("/:id/orders", h.listOrders)
		v1.DELETE("/:id/orders/:orderId", h.deleteOrder)
		v1.GET("/:id/recurrences", h.listRecurrences)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) createSession(c *gin.Context) {
	sess, err := h.sessions.Create(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) getSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	h.respond(c, sess, err)
}

func (h *Handler) deleteSession(c *gin.Context) {
	id := c.Param("id")
	h.checkout.Close(id)
	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) updateOrder(c *gin.Context) {
	var req service.OrderUpdate
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.sessions.UpdateOrder(c.Request.Context(), c.Param("id"), &req)
	h.respond(c, sess, err)
}

// fetchMenu reloads the menu. Fields missing from the body are taken from
// the session's order.
func (h *Handler) fetchMenu(c *gin.Context) {
	var req models.MenuVars
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	sess, err := h.sessions.Get(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if req.RevenueCenterID == nil {
		req.RevenueCenterID = sess.Order.RevenueCenterID()
	}
	if req.ServiceType == "" {
		req.ServiceType = sess.Order.ServiceType
	}
	if req.RequestedAt == "" {
		req.RequestedAt = sess.Order.RequestedAt
	}

	if err := h.menus.FetchMenu(ctx, id, req); err != nil {
		h.writeError(c, err)
		return
	}
	sess, err = h.sessions.Get(ctx, id)
	h.respond(c, sess, err)
}

func (h *Handler) resetAlert(c *gin.Context) {
	sess, err := h.sessions.ResetAlert(c.Request.Context(), c.Param("id"))
	h.respond(c, sess, err)
}

func (h *Handler) removeMessage(c *gin.Context) {
	sess, err := h.sessions.RemoveMessage(c.Request.Context(), c.Param("id"), c.Param("messageId"))
	h.respond(c, sess, err)
}

type addItemRequest struct {
	models.CartItem
	Editing bool `json:"editing"`
}

func (h *Handler) addItem(c *gin.Context) {
	var req addItemRequest
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.sessions.AddItem(c.Request.Context(), c.Param("id"), req.CartItem, req.Editing)
	h.respond(c, sess, err)
}

func (h *Handler) resetCart(c *gin.Context) {
	sess, err := h.sessions.ResetCart(c.Request.Context(), c.Param("id"))
	h.respond(c, sess, err)
}

func (h *Handler) removeItem(c *gin.Context) {
	h.withIndex(c, h.sessions.RemoveItem)
}

func (h *Handler) removeProduct(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid product ID",
		})
		return
	}
	sess, err := h.sessions.RemoveProduct(c.Request.Context(), c.Param("id"), productID)
	h.respond(c, sess, err)
}

func (h *Handler) incrementItem(c *gin.Context) {
	h.withIndex(c, h.sessions.IncrementItem)
}

func (h *Handler) decrementItem(c *gin.Context) {
	h.withIndex(c, h.sessions.DecrementItem)
}

type frequencyRequest struct {
	Frequency models.Frequency `json:"frequency" binding:"required,frequency"`
}

func (h *Handler) setItemFrequency(c *gin.Context) {
	var req frequencyRequest
	if !bindJSON(c, &req) {
		return
	}
	h.withIndex(c, func(ctx context.Context, id string, index int) (*models.Session, error) {
		return h.sessions.SetItemFrequency(ctx, id, index, req.Frequency)
	})
}

func (h *Handler) withIndex(c *gin.Context, fn func(ctx context.Context, id string, index int) (*models.Session, error)) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cart item index",
		})
		return
	}
	sess, err := fn(c.Request.Context(), c.Param("id"), index)
	h.respond(c, sess, err)
}

func (h *Handler) updateForm(c *gin.Context) {
	var req service.FormUpdate
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.sessions.UpdateForm(c.Request.Context(), c.Param("id"), &req)
	h.respond(c, sess, err)
}

func (h *Handler) validate(c *gin.Context) {
	result, err := h.checkout.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"check":          result.Check,
		"errors":         result.FieldErrors,
		"classification": result.Classification,
		"recovery":       result.Tasks.Kinds(),
	})
}

func (h *Handler) submit(c *gin.Context) {
	result, err := h.checkout.Submit(c.Request.Context(), c.Param("id"))
	h.respondSubmission(c, result, err)
}

type submitPayRequest struct {
	ShowAlert *bool `json:"show_alert"`
}

func (h *Handler) submitForPayment(c *gin.Context) {
	var req submitPayRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	showAlert := req.ShowAlert == nil || *req.ShowAlert
	result, err := h.checkout.SubmitForPayment(c.Request.Context(), c.Param("id"), showAlert)
	h.respondSubmission(c, result, err)
}

func (h *Handler) respondSubmission(c *gin.Context, result *checkout.SubmissionResult, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	body := gin.H{
		"order":    result.Order,
		"recovery": result.Tasks.Kinds(),
	}
	if rec := result.Recurrence; rec != nil {
		recurrence := gin.H{"operation": rec.Op, "recurrence": rec.Record}
		if rec.Err != nil {
			recurrence["error"] = rec.Err.Error()
		}
		body["recurrence"] = recurrence
	}
	c.JSON(http.StatusCreated, body)
}

func (h *Handler) resetCompleted(c *gin.Context) {
	sess, err := h.checkout.ResetCompletedOrder(c.Request.Context(), c.Param("id"))
	h.respond(c, sess, err)
}

func (h *Handler) listSubmissions(c *gin.Context) {
	if h.submissions == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "Submission ledger not configured",
		})
		return
	}
	subs, err := h.submissions.GetSubmissionsBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": subs})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	id := c.Param("id")
	if _, err := h.customers.Login(c.Request.Context(), id, req.Email, req.Password); err != nil {
		h.writeError(c, err)
		return
	}
	sess, err := h.sessions.Get(c.Request.Context(), id)
	h.respond(c, sess, err)
}

func (h *Handler) logout(c *gin.Context) {
	sess, err := h.customers.Logout(c.Request.Context(), c.Param("id"))
	h.respond(c, sess, err)
}

func (h *Handler) listOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	orders, err := h.customers.FetchOrders(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) deleteOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("orderId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return
	}
	sess, err := h.customers.DeleteOrder(c.Request.Context(), c.Param("id"), orderID)
	h.respond(c, sess, err)
}

func (h *Handler) listRecurrences(c *gin.Context) {
	recurrences, err := h.customers.FetchRecurrences(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recurrences": recurrences})
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) respond(c *gin.Context, sess *models.Session, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// writeError maps service errors onto status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	var subErr *checkout.SubmitError
	switch {
	case errors.As(err, &subErr):
		c.JSON(submitStatus(subErr), gin.H{
			"error":          "Order submission failed",
			"classification": subErr.Classification.Tag,
			"errors":         subErr.FieldErrors,
			"recovery":       subErr.Tasks.Kinds(),
			"details":        err.Error(),
		})
		return
	case errors.Is(err, checkout.ErrPipelineBusy):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Checkout already in progress",
			"details": err.Error(),
		})
		return
	case errors.Is(err, redisclient.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Session not found",
		})
		return
	case errors.Is(err, cart.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Cart item not found",
		})
		return
	case errors.Is(err, service.ErrMissingCustomer), errors.Is(err, commerce.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Customer not authorized",
			"details": err.Error(),
		})
		return
	case service.IsMissingInput(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Order is incomplete",
			"details": err.Error(),
		})
		return
	}

	var apiErr *commerce.APIError
	if errors.As(err, &apiErr) || errors.Is(err, commerce.ErrTimeout) || errors.Is(err, commerce.ErrMalformedResponse) {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Commerce API request failed",
			"details": err.Error(),
		})
		return
	}

	h.logger.Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Internal error",
		"details": err.Error(),
	})
}

// submitStatus keeps 422 for rejections the commerce API explained in its
// body. Upstream failures answer like any other commerce call.
func submitStatus(subErr *checkout.SubmitError) int {
	switch {
	case errors.Is(subErr, commerce.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(subErr, commerce.ErrServer),
		errors.Is(subErr, commerce.ErrTimeout),
		errors.Is(subErr, commerce.ErrMalformedResponse):
		return http.StatusBadGateway
	}
	return http.StatusUnprocessableEntity
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
