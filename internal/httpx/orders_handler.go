package httpx

import (
	"net/http"
	"strconv"
	"time"

	"checkout-flow/internal/domain"
	"checkout-flow/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	orders service.OrderService
	logger *zap.Logger
}

func (h *OrdersHandler) Register(r gin.IRouter) {
	r.POST("/orders/checkout", h.checkout)
	r.GET("/orders/:id", h.getOrder)
	r.POST("/orders/:id/reject", h.reject)
	r.POST("/payments/webhook", h.webhook)
	r.POST("/payments/verify", h.verify)
}

type checkoutRequest struct {
	TenantID   int64         `json:"tenantId"`
	CustomerID *string       `json:"customerId"`
	Guest      *guestRequest `json:"guest"`
	Items      []itemRequest `json:"items"`
}

type guestRequest struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type itemRequest struct {
	ProductID int64  `json:"productId"`
	VariantID *int64 `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type webhookRequest struct {
	OrderID  int64 `json:"orderId"`
	Approved *bool `json:"approved"`
}

type verifyRequest struct {
	OrderID int64  `json:"orderId"`
	Code    string `json:"code"`
}

type lineResponse struct {
	ProductID   int64  `json:"productId"`
	VariantID   *int64 `json:"variantId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
}

type orderResponse struct {
	OrderID          int64              `json:"orderId"`
	TenantID         int64              `json:"tenantId"`
	ConfirmationCode string             `json:"confirmationCode,omitempty"`
	Status           domain.OrderStatus `json:"status"`
	Paid             bool               `json:"paid"`
	PaidAt           *time.Time         `json:"paidAt,omitempty"`
	TrackingRef      *string            `json:"trackingRef,omitempty"`
	Items            []lineResponse     `json:"items"`
	Total            string             `json:"total"`
	CreatedAt        time.Time          `json:"createdAt"`
}

// toOrderResponse includes the confirmation code only when asked to; it is
// handed out once, in the checkout response.
func toOrderResponse(o *domain.Order, withCode bool) orderResponse {
	resp := orderResponse{
		OrderID:     o.ID,
		TenantID:    o.TenantID,
		Status:      o.Status,
		Paid:        o.Paid,
		PaidAt:      o.PaidAt,
		TrackingRef: o.TrackingRef,
		Items:       make([]lineResponse, 0, len(o.Lines)),
		Total:       o.TotalPrice.StringFixed(2),
		CreatedAt:   o.CreatedAt,
	}
	if withCode {
		resp.ConfirmationCode = o.ConfirmationCode
	}
	for _, l := range o.Lines {
		resp.Items = append(resp.Items, lineResponse{
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.StringFixed(2),
		})
	}
	return resp
}

func (h *OrdersHandler) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.CustomerID == nil {
		if id := c.GetHeader("X-Customer-ID"); id != "" {
			req.CustomerID = &id
		}
	}

	in := service.CheckoutInput{
		TenantID:   req.TenantID,
		CustomerID: req.CustomerID,
		Items:      make([]service.LineItem, 0, len(req.Items)),
	}
	if req.Guest != nil {
		in.Guest = &domain.GuestProfile{Email: req.Guest.Email, Name: req.Guest.Name, Address: req.Guest.Address}
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.LineItem{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}

	order, err := h.orders.Checkout(c.Request.Context(), in)
	if err != nil {
		writeDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(order, true))
}

func (h *OrdersHandler) webhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID <= 0 || req.Approved == nil {
		badRequest(c, "orderId and approved are required")
		return
	}
	order, err := h.orders.ProcessPayment(c.Request.Context(), req.OrderID, *req.Approved)
	if err != nil {
		writeDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order, false))
}

func (h *OrdersHandler) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID <= 0 || req.Code == "" {
		badRequest(c, "orderId and code are required")
		return
	}
	order, err := h.orders.VerifyCode(c.Request.Context(), req.OrderID, req.Code)
	if err != nil {
		writeDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order, false))
}

func (h *OrdersHandler) reject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.RejectPayment(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order, false))
}

func (h *OrdersHandler) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order, false))
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid order id")
		return 0, false
	}
	return id, true
}
