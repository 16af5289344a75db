package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/imramesh222/ecommerce/controllers"
	"github.com/imramesh222/ecommerce/middleware"
)

func RegisterCartRoutes(api *gin.RouterGroup, ctrl *controllers.CartController) {
	cart := api.Group("/cart")
	{
		cart.GET("", ctrl.GetCart)
		cart.POST("/items", ctrl.AddItem)
		cart.PATCH("/items/:product_id", ctrl.UpdateItem)
		cart.DELETE("/items/:product_id", ctrl.RemoveItem)
		cart.POST("/clear", ctrl.Clear)
		cart.POST("/merge", ctrl.Merge)
	}
}

func RegisterCheckoutRoutes(api *gin.RouterGroup, ctrl *controllers.CheckoutController) {
	api.POST("/checkout", ctrl.Checkout)
}

func RegisterOrderRoutes(api *gin.RouterGroup, ctrl *controllers.OrderController) {
	orders := api.Group("/orders")
	{
		orders.GET("", ctrl.ListOrders)
		orders.GET("/:order_id", ctrl.GetOrder)
	}
}

// RegisterStockRoutes mounts the admin inventory endpoints.
func RegisterStockRoutes(api *gin.RouterGroup, ctrl *controllers.StockController) {
	stock := api.Group("/stock", middleware.AdminOnly())
	{
		stock.GET("/:product_id", ctrl.GetStock)
		stock.PUT("/:product_id", ctrl.SetStock)
	}
}
