package httpx

import (
	"errors"
	"net/http"

	"checkout-flow/internal/infrastructure/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BankHandler exposes the mock bank to a human operator.
type BankHandler struct {
	bank   Bank
	logger *zap.Logger
}

func (h *BankHandler) Register(r gin.IRouter) {
	g := r.Group("/bank")
	g.GET("/pending", h.listPending)
	g.POST("/orders/:id/approve", h.decide(true))
	g.POST("/orders/:id/reject", h.decide(false))
	g.POST("/orders/:id/expired", h.expired)
}

func (h *BankHandler) listPending(c *gin.Context) {
	pending, err := h.bank.ListPending(c.Request.Context())
	if err != nil {
		writeDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

func (h *BankHandler) decide(approved bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		err := h.bank.Decide(c.Request.Context(), id, approved)
		switch {
		case errors.Is(err, payment.ErrAlreadyDecided), errors.Is(err, payment.ErrNotPending):
			c.JSON(http.StatusConflict, errorResponse{Error: "conflict", Message: err.Error()})
		case err != nil:
			writeDomainError(c, h.logger, err)
		default:
			c.JSON(http.StatusOK, gin.H{"orderId": id, "approved": approved})
		}
	}
}

func (h *BankHandler) expired(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.bank.NotifyRejected(c.Request.Context(), id); err != nil {
		writeDomainError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
