package catalog

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/eleme-backend/internal/apperr"
)

// RegisterRoutes は /businesses と /foods 配下のハンドラーを登録します。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	r.GET("/businesses", ListHandler(svc))
	r.GET("/businesses/recommend", RecommendHandler(svc))
	r.GET("/businesses/new", NewestHandler(svc))
	r.GET("/businesses/popular", PopularHandler(svc))
	r.GET("/businesses/:id", DetailHandler(svc))
	r.GET("/foods/:id", FoodHandler(svc))
	r.POST("/foods/batch", FoodsBatchHandler(svc))
}

// ListHandler は GET /api/businesses のハンドラーを返します。
// クエリ: type, keyword, minRating, maxDistance, maxMinOrder
func ListHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := Filter{
			Type:    strings.TrimSpace(c.Query("type")),
			Keyword: strings.TrimSpace(c.Query("keyword")),
		}
		var err error
		if filter.MinRating, err = queryFloat(c, "minRating"); err != nil {
			apperr.Respond(c, err)
			return
		}
		if filter.MaxDistance, err = queryFloat(c, "maxDistance"); err != nil {
			apperr.Respond(c, err)
			return
		}
		if filter.MaxMinOrder, err = queryFloat(c, "maxMinOrder"); err != nil {
			apperr.Respond(c, err)
			return
		}

		list, err := svc.ListBusinesses(c.Request.Context(), filter)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func RecommendHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.Recommend(c.Request.Context())
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func NewestHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.Newest(c.Request.Context())
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

func PopularHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.Popular(c.Request.Context())
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// DetailHandler は GET /api/businesses/:id のハンドラーを返します。
func DetailHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			apperr.Respond(c, apperr.InvalidInput("商家ID无效"))
			return
		}
		b, err := svc.GetBusiness(c.Request.Context(), id)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

func FoodHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			apperr.Respond(c, apperr.InvalidInput("商品ID无效"))
			return
		}
		f, err := svc.GetFood(c.Request.Context(), id)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, f)
	}
}

type foodsBatchRequest struct {
	IDs []int `json:"ids" binding:"required"`
}

// FoodsBatchHandler は POST /api/foods/batch のハンドラーを返します。
func FoodsBatchHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req foodsBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, apperr.InvalidInput("请以 JSON 提交 ids"))
			return
		}
		foods, err := svc.GetFoods(c.Request.Context(), req.IDs)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, foods)
	}
}

func queryFloat(c *gin.Context, key string) (*float64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperr.InvalidInput(key + " 必须是数字")
	}
	return &v, nil
}
