package order

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/eleme-backend/internal/apperr"
	"github.com/yourusername/eleme-backend/internal/auth"
)

// RegisterRoutes は /orders 配下のハンドラーを登録します。ログイン必須のグループに登録してください。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	r.POST("/orders", CreateHandler(svc))
	r.POST("/orders/checkout", CheckoutHandler(svc))
	r.GET("/orders", ListHandler(svc))
	r.GET("/orders/:id", DetailHandler(svc))
	r.GET("/orders/:id/time", TimeHandler(svc))
	r.POST("/orders/:id/pay", PayHandler(svc))
}

// CreateHandler は POST /api/orders のハンドラーを返します。
func CreateHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in CreateInput
		if err := c.ShouldBindJSON(&in); err != nil {
			apperr.Respond(c, apperr.InvalidInput("请以 JSON 提交 businessId、orderList 和 price"))
			return
		}
		o, err := svc.Create(c.Request.Context(), auth.CurrentUser(c), in)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": o.ID, "order": o})
	}
}

type checkoutRequest struct {
	BusinessID int `json:"businessId" binding:"required"`
}

// CheckoutHandler は POST /api/orders/checkout のハンドラーを返します。
func CheckoutHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, apperr.InvalidInput("请以 JSON 提交 businessId"))
			return
		}
		o, err := svc.Checkout(c.Request.Context(), auth.CurrentUser(c), req.BusinessID)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": o.ID, "order": o})
	}
}

func ListHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.List(c.Request.Context(), auth.CurrentUser(c))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func DetailHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := orderID(c)
		if !ok {
			return
		}
		d, err := svc.Detail(c.Request.Context(), auth.CurrentUser(c), id)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func TimeHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := orderID(c)
		if !ok {
			return
		}
		at, err := svc.CreatedAt(c.Request.Context(), auth.CurrentUser(c), id)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "createdAt": at})
	}
}

// PayHandler は POST /api/orders/:id/pay のハンドラーを返します。
func PayHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := orderID(c)
		if !ok {
			return
		}
		o, err := svc.Pay(c.Request.Context(), auth.CurrentUser(c), id)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"paid": true, "order": o})
	}
}

func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apperr.Respond(c, ErrOrderIDInvalid)
		return 0, false
	}
	return id, true
}
