package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imramesh222/ecommerce/models"
	"github.com/imramesh222/ecommerce/services"
)

// StockController exposes the admin view of the inventory ledger.
type StockController struct {
	inventory *services.InventoryService
}

func NewStockController(inventory *services.InventoryService) *StockController {
	return &StockController{inventory: inventory}
}

func (sc *StockController) GetStock(c *gin.Context) {
	productID, ok := parseProductID(c)
	if !ok {
		return
	}
	stock, svcErr := sc.inventory.GetStock(c.Request.Context(), productID)
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}
	c.JSON(http.StatusOK, stock)
}

func (sc *StockController) SetStock(c *gin.Context) {
	productID, ok := parseProductID(c)
	if !ok {
		return
	}
	var req models.SetStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	stock, svcErr := sc.inventory.SetStock(c.Request.Context(), productID, req.Available)
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}
	c.JSON(http.StatusOK, stock)
}
