// Package catalog は商家と商品の参照系（一覧、絞り込み、おすすめ、詳細）を提供します。
package catalog

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/yourusername/eleme-backend/internal/apperr"
	"github.com/yourusername/eleme-backend/internal/store"
)

const (
	recommendMinRating = 4.5
	listLimit          = 10
)

var (
	// ErrBusinessNotFound は商家が存在しない場合のエラーです。
	ErrBusinessNotFound = apperr.New(http.StatusNotFound, "BUSINESS_NOT_FOUND", "商家不存在")
	// ErrFoodNotFound は商品が存在しない場合のエラーです。
	ErrFoodNotFound = apperr.New(http.StatusNotFound, "FOOD_NOT_FOUND", "商品不存在")

	numberPattern = regexp.MustCompile(`\d+(\.\d+)?`)
)

// Filter は商家一覧の絞り込み条件です。ゼロ値の項目は無視されます。
type Filter struct {
	Type        string
	Keyword     string
	MinRating   *float64
	MaxDistance *float64 // km
	MaxMinOrder *float64 // 元
}

// Service はカタログ参照の業務ロジックです。
type Service struct {
	businesses *store.BusinessRepo
	foods      *store.FoodRepo
}

// NewService は db 上の商家・商品リポジトリを使う Service を作成します。
func NewService(db *sqlx.DB) *Service {
	return &Service{
		businesses: store.NewBusinessRepo(db),
		foods:      store.NewFoodRepo(db),
	}
}

// ListBusinesses は条件に合う商家を ID 順に返します。
// 数値条件は値を解釈できない商家を除外します。
func (s *Service) ListBusinesses(ctx context.Context, f Filter) ([]store.Business, error) {
	var (
		list []store.Business
		err  error
	)
	switch {
	case f.Type != "":
		list, err = s.businesses.ByType(ctx, f.Type)
	case f.Keyword != "":
		list, err = s.businesses.SearchByName(ctx, f.Keyword)
	default:
		list, err = s.businesses.All(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := make([]store.Business, 0, len(list))
	for _, b := range list {
		if f.Type != "" && f.Keyword != "" && !strings.Contains(b.BusinessName, f.Keyword) {
			continue
		}
		if f.MinRating != nil {
			if v, ok := ParseNumber(b.Rating); !ok || v < *f.MinRating {
				continue
			}
		}
		if f.MaxDistance != nil {
			if v, ok := ParseDistanceKM(b.Distance); !ok || v > *f.MaxDistance {
				continue
			}
		}
		if f.MaxMinOrder != nil {
			if v, ok := ParseNumber(b.MinOrder); !ok || v > *f.MaxMinOrder {
				continue
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// GetBusiness は商家と上架中の商品を返します。
func (s *Service) GetBusiness(ctx context.Context, id int) (*store.Business, error) {
	b, err := s.businesses.ByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, err
	}
	foods, err := s.foods.ByBusiness(ctx, id)
	if err != nil {
		return nil, err
	}
	b.FoodList = make([]store.Food, 0, len(foods))
	for _, f := range foods {
		if f.OnSale() {
			b.FoodList = append(b.FoodList, f)
		}
	}
	return b, nil
}

// Recommend は評価 4.5 以上の商家を最大10件返します。
func (s *Service) Recommend(ctx context.Context) ([]store.Business, error) {
	min := recommendMinRating
	list, err := s.ListBusinesses(ctx, Filter{MinRating: &min})
	if err != nil {
		return nil, err
	}
	return limit(list), nil
}

// Newest は ID の大きい順（新しい順）に最大10件返します。
func (s *Service) Newest(ctx context.Context) ([]store.Business, error) {
	list, err := s.businesses.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return limit(list), nil
}

// Popular は販売数の多い順に最大10件返します。販売数は文字列中の数字だけを読みます。
func (s *Service) Popular(ctx context.Context) ([]store.Business, error) {
	list, err := s.businesses.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return SalesCount(list[i].Sales) > SalesCount(list[j].Sales) })
	return limit(list), nil
}

// GetFood は商品を1件返します。存在しなければ FOOD_NOT_FOUND です。
func (s *Service) GetFood(ctx context.Context, id int) (*store.Food, error) {
	f, err := s.foods.ByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrFoodNotFound
	}
	return f, err
}

// GetFoods は指定順に商品を返します。存在しない ID は読み飛ばします。
func (s *Service) GetFoods(ctx context.Context, ids []int) ([]store.Food, error) {
	out := make([]store.Food, 0, len(ids))
	for _, id := range ids {
		f, err := s.foods.ByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, nil
}

// ParseNumber は文字列中の最初の数値を読み取ります。
func ParseNumber(s string) (float64, bool) {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	return v, err == nil
}

// ParseDistanceKM は "3.22km" や "800m" を km に換算します。単位が無ければ km とみなします。
func ParseDistanceKM(s string) (float64, bool) {
	v, ok := ParseNumber(s)
	if !ok {
		return 0, false
	}
	lower := strings.ToLower(strings.TrimSpace(s))
	if strings.HasSuffix(lower, "m") && !strings.HasSuffix(lower, "km") {
		return v / 1000, true
	}
	return v, true
}

// SalesCount は "月售345单" のような文字列から数字だけを連結して読みます。
func SalesCount(s string) int64 {
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func limit(list []store.Business) []store.Business {
	if len(list) > listLimit {
		return list[:listLimit]
	}
	return list
}
