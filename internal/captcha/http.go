package captcha

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/eleme-backend/internal/apperr"
)

// CreateHandler は GET /api/captcha のハンドラーを返します。
func CreateHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		issued, err := svc.Create(c.Request.Context(), DefaultLength, false)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		img, err := Render(issued.Code, ImageWidth, ImageHeight)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{
			"id":    issued.ID,
			"image": DataURL(img),
		})
	}
}

type validateRequest struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// ValidateHandler は POST /api/captcha のハンドラーを返します。結果は true/false です。
func ValidateHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, apperr.InvalidInput("请以 JSON 提交 id 和 value"))
			return
		}
		ok, err := svc.Validate(c.Request.Context(), req.ID, req.Value)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, ok)
	}
}
