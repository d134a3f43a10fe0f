package cart

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/eleme-backend/internal/apperr"
	"github.com/yourusername/eleme-backend/internal/auth"
)

// RegisterRoutes は /cart 配下のハンドラーを登録します。ログイン必須のグループに登録してください。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	r.POST("/cart/items", AddHandler(svc))
	r.PUT("/cart/items/:id", UpdateHandler(svc))
	r.DELETE("/cart/items/:id", RemoveHandler(svc))
	r.GET("/cart", ListHandler(svc))
	r.DELETE("/cart", ClearHandler(svc))
	r.GET("/cart/validate", ValidateHandler(svc))
	r.GET("/cart/statistics", StatisticsHandler(svc))
	r.POST("/cart/batch", BatchHandler(svc))
}

// AddHandler は POST /api/cart/items のハンドラーを返します。
func AddHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in AddInput
		if err := c.ShouldBindJSON(&in); err != nil {
			apperr.Respond(c, apperr.InvalidInput("请求参数不能为空"))
			return
		}
		item, err := svc.Add(c.Request.Context(), auth.CurrentUser(c), in)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "添加成功", "item": item})
	}
}

type updateRequest struct {
	Quantity *int `json:"quantity"`
}

// UpdateHandler は PUT /api/cart/items/:id のハンドラーを返します。
func UpdateHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := itemID(c)
		if !ok {
			return
		}
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Quantity == nil {
			apperr.Respond(c, apperr.InvalidInput("数量不能为空"))
			return
		}
		item, err := svc.UpdateQuantity(c.Request.Context(), auth.CurrentUser(c), id, *req.Quantity)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "更新成功", "item": item})
	}
}

func RemoveHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := itemID(c)
		if !ok {
			return
		}
		if err := svc.Remove(c.Request.Context(), auth.CurrentUser(c), id); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
	}
}

// ListHandler は GET /api/cart?page=&size= のハンドラーを返します。
func ListHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
		result, err := svc.List(c.Request.Context(), auth.CurrentUser(c), page, size)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func ClearHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		removed, err := svc.Clear(c.Request.Context(), auth.CurrentUser(c))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "清空成功", "removed": removed})
	}
}

func ValidateHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		check, err := svc.ValidateForCheckout(c.Request.Context(), auth.CurrentUser(c))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, check)
	}
}

func StatisticsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.Statistics(c.Request.Context(), auth.CurrentUser(c))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

type batchRequest struct {
	Operation string `json:"operation" binding:"required"`
}

// BatchHandler は POST /api/cart/batch のハンドラーを返します。operation は clear または validate です。
func BatchHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req batchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, apperr.InvalidInput("操作类型不能为空"))
			return
		}
		ctx := c.Request.Context()
		phone := auth.CurrentUser(c)

		switch op := strings.ToLower(strings.TrimSpace(req.Operation)); op {
		case "clear":
			removed, err := svc.Clear(ctx, phone)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "批量清空成功", "removed": removed})
		case "validate":
			check, err := svc.ValidateForCheckout(ctx, phone)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "批量验证完成", "valid": check.CanCheckout})
		default:
			apperr.Respond(c, apperr.BadRequest("UNSUPPORTED_OPERATION", "不支持的操作类型: "+req.Operation))
		}
	}
}

func itemID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apperr.Respond(c, ErrItemIDInvalid)
		return 0, false
	}
	return id, true
}
