// Package order は注文の作成・カートからの結算・支払い・参照を提供します。
package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yourusername/eleme-backend/internal/apperr"
	"github.com/yourusername/eleme-backend/internal/cart"
	"github.com/yourusername/eleme-backend/internal/catalog"
	"github.com/yourusername/eleme-backend/internal/metrics"
	"github.com/yourusername/eleme-backend/internal/money"
	"github.com/yourusername/eleme-backend/internal/store"
	"github.com/yourusername/eleme-backend/internal/validate"
)

var (
	ErrOrderNotFound  = apperr.NotFound("ORDER_NOT_FOUND", "订单不存在")
	ErrOrderListEmpty = apperr.BadRequest("ORDER_LIST_EMPTY", "订单商品不能为空")
	ErrOrderIDInvalid = apperr.BadRequest("ORDER_ID_INVALID", "订单ID无效")
)

// CreateInput は注文作成の入力です。OrderList は食品 ID の並びです。
type CreateInput struct {
	BusinessID int          `json:"businessId"`
	OrderList  []int        `json:"orderList"`
	Price      money.Amount `json:"price"`
}

// Detail は注文に商家名と商品情報を付けたものです。
type Detail struct {
	store.Order
	StateText    string       `json:"stateText"`
	BusinessName string       `json:"businessName"`
	Foods        []store.Food `json:"foods"`
}

// Service は注文の業務ロジックです。
type Service struct {
	db      *sqlx.DB
	orders  *store.OrderRepo
	catalog *catalog.Service
	logger  *zap.Logger
}

// NewService は Service を作成します。logger が nil なら何も出力しません。
func NewService(db *sqlx.DB, catalogSvc *catalog.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:      db,
		orders:  store.NewOrderRepo(db),
		catalog: catalogSvc,
		logger:  logger,
	}
}

// Create は未支払いの注文を作成します。金額は1回の注文上限の範囲内である必要があります。
func (s *Service) Create(ctx context.Context, phone string, in CreateInput) (*store.Order, error) {
	if _, err := s.catalog.GetBusiness(ctx, in.BusinessID); err != nil {
		return nil, err
	}
	if len(in.OrderList) == 0 {
		return nil, ErrOrderListEmpty
	}
	for _, id := range in.OrderList {
		if id <= 0 {
			return nil, apperr.InvalidInput("订单商品ID无效")
		}
	}
	if err := validate.OrderAmount(in.Price); err != nil {
		return nil, apperr.BadRequest("AMOUNT_INVALID", err.Error())
	}

	o := &store.Order{
		BusinessID: in.BusinessID,
		UserPhone:  phone,
		OrderList:  joinIDs(in.OrderList),
		Price:      in.Price,
		State:      store.OrderStateUnpaid,
		CreatedAt:  store.Now(),
	}
	if err := s.orders.Insert(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	metrics.RecordOrderCreated()
	s.logger.Info("order created",
		zap.Int64("orderID", o.ID),
		zap.Int("businessID", o.BusinessID),
		zap.Stringer("price", o.Price),
	)
	return o, nil
}

// Checkout は利用者のカートのうち指定商家の項目から注文を作り、その項目をカートから削除します。
// OrderList には食品 ID を数量の分だけ並べます。
func (s *Service) Checkout(ctx context.Context, phone string, businessID int) (*store.Order, error) {
	if _, err := s.catalog.GetBusiness(ctx, businessID); err != nil {
		return nil, err
	}

	var created *store.Order
	err := store.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		items, err := store.NewCartRepo(tx).ListValid(ctx, phone)
		if err != nil {
			return err
		}
		var (
			selected []store.CartItem
			ids      []int64
			foods    []int
		)
		for _, it := range items {
			if it.BusinessID != businessID {
				continue
			}
			selected = append(selected, it)
			ids = append(ids, it.ID)
			for range it.Quantity {
				foods = append(foods, it.FoodID)
			}
		}

		check := cart.Evaluate(selected)
		if !check.CanCheckout {
			return apperr.New(http.StatusConflict, "CART_NOT_READY", check.Reason)
		}

		o := &store.Order{
			BusinessID: businessID,
			UserPhone:  phone,
			OrderList:  joinIDs(foods),
			Price:      check.TotalAmount,
			State:      store.OrderStateUnpaid,
			CreatedAt:  store.Now(),
		}
		if err := store.NewOrderRepo(tx).Insert(ctx, o); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		if err := store.NewCartRepo(tx).DeleteIDs(ctx, ids); err != nil {
			return fmt.Errorf("failed to remove checked out items: %w", err)
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordOrderCreated()
	s.logger.Info("cart checked out",
		zap.Int64("orderID", created.ID),
		zap.Int("businessID", businessID),
		zap.Stringer("price", created.Price),
	)
	return created, nil
}

// Pay は注文を支払い済みにします。既に支払い済みなら何もしません。
func (s *Service) Pay(ctx context.Context, phone string, id int64) (*store.Order, error) {
	o, err := s.Get(ctx, phone, id)
	if err != nil {
		return nil, err
	}
	if o.State == store.OrderStatePaid {
		return o, nil
	}
	if err := s.orders.SetState(ctx, id, store.OrderStatePaid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	o.State = store.OrderStatePaid
	metrics.RecordOrderPaid()
	s.logger.Info("order paid", zap.Int64("orderID", id))
	return o, nil
}

// Get は利用者本人の注文を返します。他人の注文は存在しないものとして扱います。
func (s *Service) Get(ctx context.Context, phone string, id int64) (*store.Order, error) {
	if id <= 0 {
		return nil, ErrOrderIDInvalid
	}
	o, err := s.orders.ByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.UserPhone != phone {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// List はユーザーの注文を新しい順に返します。
func (s *Service) List(ctx context.Context, phone string) ([]store.Order, error) {
	list, err := s.orders.ListByUser(ctx, phone)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []store.Order{}
	}
	return list, nil
}

// Detail は注文と、その商家名・商品を返します。削除済みの商品や商家は省かれます。
func (s *Service) Detail(ctx context.Context, phone string, id int64) (*Detail, error) {
	o, err := s.Get(ctx, phone, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Order: *o, StateText: StateText(o.State)}

	b, err := s.catalog.GetBusiness(ctx, o.BusinessID)
	switch {
	case err == nil:
		d.BusinessName = b.BusinessName
	case !errors.Is(err, catalog.ErrBusinessNotFound):
		return nil, err
	}

	d.Foods, err = s.catalog.GetFoods(ctx, uniqueIDs(splitIDs(o.OrderList)))
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CreatedAt は注文の作成時刻を返します。
func (s *Service) CreatedAt(ctx context.Context, phone string, id int64) (time.Time, error) {
	o, err := s.Get(ctx, phone, id)
	if err != nil {
		return time.Time{}, err
	}
	return o.CreatedAt, nil
}

// StateText は状態の表示名です。
func StateText(state int) string {
	switch state {
	case store.OrderStateUnpaid:
		return "未支付"
	case store.OrderStatePaid:
		return "已支付"
	default:
		return "未知状态"
	}
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, "-")
}

func splitIDs(s string) []int {
	var out []int
	for _, p := range strings.Split(s, "-") {
		if id, err := strconv.Atoi(strings.TrimSpace(p)); err == nil && id > 0 {
			out = append(out, id)
		}
	}
	return out
}

func uniqueIDs(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
