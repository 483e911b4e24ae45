package httpx

import (
	"errors"
	"net/http"

	"checkout-flow/internal/domain"
	"checkout-flow/internal/logging"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error       string               `json:"error"`
	Message     string               `json:"message,omitempty"`
	Adjustments []adjustmentResponse `json:"adjustments,omitempty"`
}

type adjustmentResponse struct {
	ProductID         int64  `json:"productId"`
	VariantID         *int64 `json:"variantId"`
	ProductName       string `json:"productName"`
	RequestedQuantity int    `json:"requestedQuantity"`
	AvailableQuantity int    `json:"availableQuantity"`
}

// writeDomainError maps service errors onto status codes. Anything it does
// not recognise is a 500 with a generic body.
func writeDomainError(c *gin.Context, fallback *zap.Logger, err error) {
	var stock *domain.StockInsufficientError
	switch {
	case errors.As(err, &stock):
		resp := errorResponse{Error: "stock_insufficient", Adjustments: make([]adjustmentResponse, 0, len(stock.Adjustments))}
		for _, a := range stock.Adjustments {
			resp.Adjustments = append(resp.Adjustments, adjustmentResponse{
				ProductID:         a.ProductID,
				VariantID:         a.VariantID,
				ProductName:       a.ProductName,
				RequestedQuantity: a.RequestedQuantity,
				AvailableQuantity: a.AvailableQuantity,
			})
		}
		c.JSON(http.StatusConflict, resp)
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: err.Error()})
	case errors.Is(err, domain.ErrBadRequest):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse{Error: "conflict", Message: err.Error()})
	default:
		logging.FromContext(c.Request.Context(), fallback).Error("request_failed",
			zap.String("route", routeOf(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Message: msg})
}
