package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imramesh222/ecommerce/middleware"
	"github.com/imramesh222/ecommerce/models"
	"github.com/imramesh222/ecommerce/services"
)

type CartController struct {
	carts *services.CartService
}

func NewCartController(carts *services.CartService) *CartController {
	return &CartController{carts: carts}
}

func (cc *CartController) GetCart(c *gin.Context) {
	cart, svcErr := cc.carts.GetCart(c.Request.Context(), middleware.OwnerID(c))
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (cc *CartController) AddItem(c *gin.Context) {
	var req models.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	cart, svcErr := cc.carts.AddItem(c.Request.Context(), middleware.OwnerID(c), &req)
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (cc *CartController) UpdateItem(c *gin.Context) {
	productID, ok := parseProductID(c)
	if !ok {
		return
	}
	var req models.UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	cart, svcErr := cc.carts.UpdateItem(c.Request.Context(), middleware.OwnerID(c), productID, &req)
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (cc *CartController) RemoveItem(c *gin.Context) {
	productID, ok := parseProductID(c)
	if !ok {
		return
	}
	expected, _ := strconv.ParseInt(c.Query("expected_version"), 10, 64)
	cart, svcErr := cc.carts.RemoveItem(c.Request.Context(), middleware.OwnerID(c), productID, expected)
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// Clear accepts an optional body with expected_version; without one the
// current version is used.
func (cc *CartController) Clear(c *gin.Context) {
	var req models.ClearCartRequest
	_ = c.ShouldBindJSON(&req)

	cart, svcErr := cc.carts.Clear(c.Request.Context(), middleware.OwnerID(c), req.ExpectedVersion)
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (cc *CartController) Merge(c *gin.Context) {
	var req models.MergeCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "guest_id is required")
		return
	}
	cart, svcErr := cc.carts.Merge(c.Request.Context(), middleware.OwnerID(c), req.GuestID)
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}
	c.JSON(http.StatusOK, cart)
}
