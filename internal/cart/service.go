// Package cart は利用者ごとのカート（追加・数量変更・削除・集計・結算前チェック）を提供します。
package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/yourusername/eleme-backend/internal/apperr"
	"github.com/yourusername/eleme-backend/internal/money"
	"github.com/yourusername/eleme-backend/internal/store"
	"github.com/yourusername/eleme-backend/internal/validate"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

var (
	ErrFoodInvalid        = apperr.BadRequest("FOOD_INVALID", "商品信息无效")
	ErrFoodOffSale        = apperr.BadRequest("FOOD_OFF_SALE", "商品已下架")
	ErrQuantityOutOfRange = apperr.BadRequest("QUANTITY_OUT_OF_RANGE", "商品数量超出限制(1-999)")
	ErrPriceOutOfRange    = apperr.BadRequest("PRICE_OUT_OF_RANGE", "商品价格超出限制(0.01-9999.99)")
	ErrCartFull           = apperr.New(http.StatusTooManyRequests, "CART_FULL", "购物车商品种类已达上限(50种)")
	ErrItemIDInvalid      = apperr.BadRequest("ITEM_ID_INVALID", "商品ID无效")
	ErrQuantityInvalid    = apperr.BadRequest("QUANTITY_INVALID", "数量无效(1-999)")
	ErrItemNotFound       = apperr.NotFound("ITEM_NOT_FOUND", "商品不存在")
	ErrItemExpired        = apperr.New(http.StatusGone, "ITEM_EXPIRED", "商品已失效")
)

// 結算できない理由
const (
	ReasonEmpty        = "购物车为空或总金额为0"
	ReasonOverLimit    = "订单金额超出限制(5000元)"
	ReasonInvalidItems = "购物车中存在无效商品"
)

// AddInput はカート追加の入力です。商品がカタログに存在する場合、名称・単価・商家はカタログの値で上書きされます。
type AddInput struct {
	FoodID       int          `json:"foodId"`
	FoodName     string       `json:"foodName"`
	Quantity     int          `json:"quantity"`
	UnitPrice    money.Amount `json:"unitPrice"`
	BusinessID   int          `json:"businessId"`
	BusinessName string       `json:"businessName"`
	Remarks      string       `json:"remarks"`
}

// Page は一覧の1ページ分です。
type Page struct {
	Items       []store.CartItem `json:"items"`
	ItemCount   int              `json:"itemCount"`
	TotalAmount money.Amount     `json:"totalAmount"`
	OverLimit   bool             `json:"overLimit"`
	Page        int              `json:"page"`
	Size        int              `json:"size"`
	CanCheckout bool             `json:"canCheckout"`
}

// Summary は有効な項目の合計です。OverLimit は1回の注文上限を超えていることを示します。
type Summary struct {
	TotalAmount money.Amount `json:"totalAmount"`
	OverLimit   bool         `json:"overLimit"`
}

// Check は結算可否の判定結果です。
type Check struct {
	CanCheckout bool         `json:"canCheckout"`
	TotalAmount money.Amount `json:"totalAmount"`
	Reason      string       `json:"reason,omitempty"`
}

// Statistics はカートの概要です。
type Statistics struct {
	UserPhone     string       `json:"userPhone"`
	ItemCount     int          `json:"itemCount"`
	TotalQuantity int          `json:"totalQuantity"`
	TotalAmount   money.Amount `json:"totalAmount"`
	Status        string       `json:"status"`
}

// Service はカートの業務ロジックです。
type Service struct {
	db         *sqlx.DB
	items      *store.CartRepo
	foods      *store.FoodRepo
	businesses *store.BusinessRepo
}

// NewService は Service を作成します。
func NewService(db *sqlx.DB) *Service {
	return &Service{
		db:         db,
		items:      store.NewCartRepo(db),
		foods:      store.NewFoodRepo(db),
		businesses: store.NewBusinessRepo(db),
	}
}

// Add は商品をカートに追加します。同じ商品が既にあれば数量を合算します。
func (s *Service) Add(ctx context.Context, phone string, in AddInput) (*store.CartItem, error) {
	if err := validate.Phone(phone); err != nil {
		return nil, apperr.BadRequest("USER_INVALID", err.Error())
	}
	if in.FoodID <= 0 {
		return nil, ErrFoodInvalid
	}
	if err := s.fillFromCatalog(ctx, &in); err != nil {
		return nil, err
	}
	if in.BusinessID <= 0 || strings.TrimSpace(in.FoodName) == "" {
		return nil, ErrFoodInvalid
	}
	if validate.Quantity(in.Quantity) != nil {
		return nil, ErrQuantityOutOfRange
	}
	if validate.Amount(in.UnitPrice) != nil {
		return nil, ErrPriceOutOfRange
	}

	var result *store.CartItem
	err := store.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		repo := store.NewCartRepo(tx)
		count, err := repo.CountValid(ctx, phone)
		if err != nil {
			return err
		}
		if validate.CartItemCount(count+1) != nil {
			return ErrCartFull
		}

		existing, err := repo.FindValid(ctx, phone, in.FoodID)
		switch {
		case err == nil:
			if err := applyQuantity(ctx, repo, existing, existing.Quantity+in.Quantity); err != nil {
				return err
			}
			result = existing
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		now := store.Now()
		item := &store.CartItem{
			UserPhone:    phone,
			FoodID:       in.FoodID,
			FoodName:     strings.TrimSpace(in.FoodName),
			Quantity:     in.Quantity,
			UnitPrice:    in.UnitPrice,
			BusinessID:   in.BusinessID,
			BusinessName: strings.TrimSpace(in.BusinessName),
			Remarks:      strings.TrimSpace(in.Remarks),
			CreatedAt:    now,
			UpdatedAt:    now,
			IsValid:      1,
		}
		item.CalculateTotal()
		if err := repo.Insert(ctx, item); err != nil {
			return fmt.Errorf("failed to insert cart item: %w", err)
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fillFromCatalog はカタログにある商品なら名称・単価・商家を上書きします。
func (s *Service) fillFromCatalog(ctx context.Context, in *AddInput) error {
	f, err := s.foods.ByID(ctx, in.FoodID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !f.OnSale() {
		return ErrFoodOffSale
	}
	in.FoodName = f.Name
	in.UnitPrice = f.RedPrice
	in.BusinessID = f.Business

	b, err := s.businesses.ByID(ctx, f.Business)
	switch {
	case err == nil:
		in.BusinessName = b.BusinessName
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return nil
}

// UpdateQuantity は利用者の項目の数量を変更します。
func (s *Service) UpdateQuantity(ctx context.Context, phone string, itemID int64, quantity int) (*store.CartItem, error) {
	if itemID <= 0 {
		return nil, ErrItemIDInvalid
	}
	if validate.Quantity(quantity) != nil {
		return nil, ErrQuantityInvalid
	}
	item, err := s.owned(ctx, phone, itemID)
	if err != nil {
		return nil, err
	}
	if err := applyQuantity(ctx, s.items, item, quantity); err != nil {
		return nil, err
	}
	return item, nil
}

func applyQuantity(ctx context.Context, repo *store.CartRepo, item *store.CartItem, quantity int) error {
	if validate.Quantity(quantity) != nil {
		return ErrQuantityInvalid
	}
	if item.IsValid != 1 {
		return ErrItemExpired
	}
	if item.Quantity == quantity {
		return nil
	}
	item.Quantity = quantity
	item.CalculateTotal()
	item.UpdatedAt = store.Now()
	return repo.UpdateQuantity(ctx, item)
}

// Remove は利用者の項目を削除します。
func (s *Service) Remove(ctx context.Context, phone string, itemID int64) error {
	if itemID <= 0 {
		return ErrItemIDInvalid
	}
	if _, err := s.owned(ctx, phone, itemID); err != nil {
		return err
	}
	if err := s.items.Delete(ctx, itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	return nil
}

// Clear は利用者のカートを空にし、削除件数を返します。
func (s *Service) Clear(ctx context.Context, phone string) (int64, error) {
	if err := validate.Phone(phone); err != nil {
		return 0, apperr.BadRequest("USER_INVALID", err.Error())
	}
	return s.items.DeleteByUser(ctx, phone)
}

// List は有効な項目をページ単位で返します。page<1 は1、size が 1..100 の外なら10 として扱います。
func (s *Service) List(ctx context.Context, phone string, page, size int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = defaultPageSize
	}
	items, err := s.items.ListValid(ctx, phone)
	if err != nil {
		return nil, err
	}

	check := Evaluate(items)
	start := min((page-1)*size, len(items))
	end := min(start+size, len(items))
	return &Page{
		Items:       append([]store.CartItem{}, items[start:end]...),
		ItemCount:   len(items),
		TotalAmount: check.TotalAmount,
		OverLimit:   check.TotalAmount > validate.MaxOrderAmount,
		Page:        page,
		Size:        size,
		CanCheckout: check.CanCheckout,
	}, nil
}

// Items は有効な項目をすべて返します。
func (s *Service) Items(ctx context.Context, phone string) ([]store.CartItem, error) {
	return s.items.ListValid(ctx, phone)
}

// Total は有効な項目の合計を返します。
func (s *Service) Total(ctx context.Context, phone string) (Summary, error) {
	items, err := s.items.ListValid(ctx, phone)
	if err != nil {
		return Summary{}, err
	}
	total := sum(items)
	return Summary{TotalAmount: total, OverLimit: total > validate.MaxOrderAmount}, nil
}

// ValidateForCheckout は利用者のカート全体が結算できるかを判定します。
func (s *Service) ValidateForCheckout(ctx context.Context, phone string) (Check, error) {
	if validate.Phone(phone) != nil {
		return Check{Reason: ReasonEmpty}, nil
	}
	items, err := s.items.ListValid(ctx, phone)
	if err != nil {
		return Check{}, err
	}
	return Evaluate(items), nil
}

// Evaluate は項目の集合が結算できるかを判定します。
// 空でないこと、すべての項目が整合していること、合計が 0 より大きく注文上限以下であることが条件です。
func Evaluate(items []store.CartItem) Check {
	total := sum(items)
	check := Check{TotalAmount: total}
	switch {
	case len(items) == 0 || total <= 0:
		check.Reason = ReasonEmpty
	case total > validate.MaxOrderAmount:
		check.Reason = ReasonOverLimit
	default:
		for i := range items {
			if !items[i].Valid() {
				check.Reason = ReasonInvalidItems
				return check
			}
		}
		check.CanCheckout = validate.OrderAmount(total) == nil
		if !check.CanCheckout {
			check.Reason = ReasonOverLimit
		}
	}
	return check
}

// Statistics はカートの概要を返します。
func (s *Service) Statistics(ctx context.Context, phone string) (*Statistics, error) {
	items, err := s.items.ListValid(ctx, phone)
	if err != nil {
		return nil, err
	}
	st := &Statistics{
		UserPhone:   phone,
		ItemCount:   len(items),
		TotalAmount: sum(items),
	}
	for _, it := range items {
		st.TotalQuantity += it.Quantity
	}
	switch {
	case st.ItemCount == 0:
		st.Status = "购物车为空"
	case st.TotalAmount > validate.MaxOrderAmount:
		st.Status = "超出订单限制"
	default:
		st.Status = "可以结算"
	}
	return st, nil
}

// owned は利用者本人の項目を返します。他人の項目は存在しないものとして扱います。
func (s *Service) owned(ctx context.Context, phone string, itemID int64) (*store.CartItem, error) {
	item, err := s.items.ByID(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	if item.UserPhone != phone {
		return nil, ErrItemNotFound
	}
	return item, nil
}

func sum(items []store.CartItem) money.Amount {
	var total money.Amount
	for _, it := range items {
		if it.IsValid == 1 {
			total += it.TotalPrice
		}
	}
	return total
}
