package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imramesh222/ecommerce/middleware"
	"github.com/imramesh222/ecommerce/services"
)

type OrderController struct {
	orders *services.OrderService
}

func NewOrderController(orders *services.OrderService) *OrderController {
	return &OrderController{orders: orders}
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		respondBadRequest(c, "invalid order id")
		return
	}
	order, svcErr := oc.orders.GetOrder(c.Request.Context(), middleware.OwnerID(c), id, c.GetBool(middleware.ContextIsAdmin))
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (oc *OrderController) ListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	pageData, svcErr := oc.orders.ListOrders(c.Request.Context(), middleware.OwnerID(c), page, limit)
	if svcErr != nil {
		respondError(c, svcErr)
		return
	}
	c.JSON(http.StatusOK, pageData)
}
