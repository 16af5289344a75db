package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imramesh222/ecommerce/middleware"
	"github.com/imramesh222/ecommerce/models"
	"github.com/imramesh222/ecommerce/services"
)

type CheckoutController struct {
	checkout *services.CheckoutService
}

func NewCheckoutController(checkout *services.CheckoutService) *CheckoutController {
	return &CheckoutController{checkout: checkout}
}

// Checkout starts (or replays) a checkout for the caller's cart. The
// idempotency key may come from the body or the Idempotency-Key header;
// without one it is derived from the cart state.
func (cc *CheckoutController) Checkout(c *gin.Context) {
	var req models.CheckoutRequest
	_ = c.ShouldBindJSON(&req)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	result, svcErr := cc.checkout.Checkout(c.Request.Context(), middleware.OwnerID(c), &req)
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"order": result.Order, "replayed": result.Replayed})
}
