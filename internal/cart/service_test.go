package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/eleme-backend/internal/apperr"
	"github.com/yourusername/eleme-backend/internal/auth"
	"github.com/yourusername/eleme-backend/internal/money"
	"github.com/yourusername/eleme-backend/internal/store"
	"github.com/yourusername/eleme-backend/internal/store/storetest"
)

const (
	alice = "13800138000"
	bob   = "13900139000"
)

func newService(t *testing.T) (*Service, *sqlx.DB) {
	t.Helper()
	db := storetest.NewSeeded(t)
	return NewService(db), db
}

// offCatalog はカタログに無い商品の追加入力を作ります。
func offCatalog(foodID int, price money.Amount, qty int) AddInput {
	return AddInput{
		FoodID:       foodID,
		FoodName:     "自选套餐",
		Quantity:     qty,
		UnitPrice:    price,
		BusinessID:   1,
		BusinessName: "万家饺子",
	}
}

func TestAddUsesCatalogAndMerges(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	item, err := svc.Add(ctx, alice, AddInput{FoodID: 1, Quantity: 2, UnitPrice: 1, FoodName: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(1500), item.UnitPrice)
	assert.Equal(t, money.Amount(3000), item.TotalPrice)
	assert.Equal(t, "纯肉鲜肉（水饺）", item.FoodName)
	assert.Equal(t, 1, item.BusinessID)
	assert.Equal(t, "万家饺子", item.BusinessName)

	merged, err := svc.Add(ctx, alice, AddInput{FoodID: 1, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, item.ID, merged.ID)
	assert.Equal(t, 5, merged.Quantity)
	assert.Equal(t, money.Amount(7500), merged.TotalPrice)

	items, err := svc.Items(ctx, alice)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)

	custom, err := svc.Add(ctx, alice, offCatalog(99, 990, 1))
	require.NoError(t, err)
	assert.Equal(t, "自选套餐", custom.FoodName)
	assert.Equal(t, money.Amount(990), custom.TotalPrice)
}

func TestAddValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		phone string
		in    AddInput
		code  string
	}{
		{"bad phone", "123", AddInput{FoodID: 1, Quantity: 1}, "USER_INVALID"},
		{"missing food", alice, AddInput{Quantity: 1}, "FOOD_INVALID"},
		{"off sale", alice, AddInput{FoodID: 3, Quantity: 1}, "FOOD_OFF_SALE"},
		{"no business", alice, AddInput{FoodID: 99, FoodName: "x", Quantity: 1, UnitPrice: 100}, "FOOD_INVALID"},
		{"zero quantity", alice, AddInput{FoodID: 1, Quantity: 0}, "QUANTITY_OUT_OF_RANGE"},
		{"quantity too large", alice, AddInput{FoodID: 1, Quantity: 1000}, "QUANTITY_OUT_OF_RANGE"},
		{"zero price", alice, offCatalog(99, 0, 1), "PRICE_OUT_OF_RANGE"},
		{"price too high", alice, offCatalog(99, 1000000, 1), "PRICE_OUT_OF_RANGE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Add(ctx, tc.phone, tc.in)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
		})
	}
}

func TestAddCartFull(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := svc.Add(ctx, alice, offCatalog(100+i, 100, 1))
		require.NoError(t, err)
	}
	_, err := svc.Add(ctx, alice, offCatalog(200, 100, 1))
	assert.ErrorIs(t, err, ErrCartFull)

	// 件数の判定は合算より先に行われる
	_, err = svc.Add(ctx, alice, offCatalog(100, 100, 1))
	assert.ErrorIs(t, err, ErrCartFull)

	_, err = svc.Add(ctx, bob, offCatalog(200, 100, 1))
	assert.NoError(t, err, "limit is per user")
}

func TestUpdateQuantity(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	item, err := svc.Add(ctx, alice, AddInput{FoodID: 2, Quantity: 1})
	require.NoError(t, err)

	updated, err := svc.UpdateQuantity(ctx, alice, item.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(6600), updated.TotalPrice)

	same, err := svc.UpdateQuantity(ctx, alice, item.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, same.Quantity)

	_, err = svc.UpdateQuantity(ctx, alice, 0, 1)
	assert.ErrorIs(t, err, ErrItemIDInvalid)
	_, err = svc.UpdateQuantity(ctx, alice, item.ID, 1000)
	assert.ErrorIs(t, err, ErrQuantityInvalid)
	_, err = svc.UpdateQuantity(ctx, alice, 9999, 1)
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = svc.UpdateQuantity(ctx, bob, item.ID, 1)
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = db.Exec(`UPDATE cart_items SET is_valid = 0 WHERE id = ?`, item.ID)
	require.NoError(t, err)
	_, err = svc.UpdateQuantity(ctx, alice, item.ID, 2)
	assert.ErrorIs(t, err, ErrItemExpired)
}

func TestRemoveAndClear(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Add(ctx, alice, AddInput{FoodID: 1, Quantity: 1})
	require.NoError(t, err)
	_, err = svc.Add(ctx, alice, AddInput{FoodID: 2, Quantity: 1})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Remove(ctx, bob, a.ID), ErrItemNotFound)
	require.NoError(t, svc.Remove(ctx, alice, a.ID))
	assert.ErrorIs(t, svc.Remove(ctx, alice, a.ID), ErrItemNotFound)

	removed, err := svc.Clear(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, err = svc.Clear(ctx, "bad")
	assert.Equal(t, "USER_INVALID", apperr.CodeOf(err))
}

func TestListPaging(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	for _, id := range []int{1, 2, 4} {
		_, err := svc.Add(ctx, alice, AddInput{FoodID: id, Quantity: 1})
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, alice, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 4, page.Items[0].FoodID)
	assert.Equal(t, 3, page.ItemCount)
	assert.Equal(t, money.Amount(4950), page.TotalAmount)
	assert.True(t, page.CanCheckout)

	page, err = svc.List(ctx, alice, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.Size)
	assert.Len(t, page.Items, 3)

	page, err = svc.List(ctx, alice, 9, 10)
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
}

func TestEvaluate(t *testing.T) {
	valid := store.CartItem{UserPhone: alice, FoodID: 1, BusinessID: 1, Quantity: 2, UnitPrice: 1500, TotalPrice: 3000, IsValid: 1}
	broken := valid
	broken.TotalPrice = 1
	huge := valid
	huge.Quantity, huge.UnitPrice, huge.TotalPrice = 60, 10000, 600000

	cases := []struct {
		name   string
		items  []store.CartItem
		ok     bool
		reason string
	}{
		{"empty", nil, false, ReasonEmpty},
		{"valid", []store.CartItem{valid}, true, ""},
		{"inconsistent item", []store.CartItem{valid, broken}, false, ReasonInvalidItems},
		{"over limit", []store.CartItem{huge}, false, ReasonOverLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.items)
			assert.Equal(t, tc.ok, got.CanCheckout)
			assert.Equal(t, tc.reason, got.Reason)
		})
	}
}

func TestTotalAndStatistics(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	st, err := svc.Statistics(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "购物车为空", st.Status)

	_, err = svc.Add(ctx, alice, AddInput{FoodID: 1, Quantity: 2})
	require.NoError(t, err)
	st, err = svc.Statistics(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "可以结算", st.Status)
	assert.Equal(t, 2, st.TotalQuantity)

	_, err = svc.Add(ctx, alice, offCatalog(99, 999999, 1))
	require.NoError(t, err)
	summary, err := svc.Total(ctx, alice)
	require.NoError(t, err)
	assert.True(t, summary.OverLimit)
	assert.Equal(t, money.Amount(1002999), summary.TotalAmount)

	st, err = svc.Statistics(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "超出订单限制", st.Status)

	check, err := svc.ValidateForCheckout(ctx, alice)
	require.NoError(t, err)
	assert.False(t, check.CanCheckout)
	assert.Equal(t, ReasonOverLimit, check.Reason)
}

func newRouter(svc *Service, phone string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", func(c *gin.Context) {
		c.Set(auth.ContextUserKey, phone)
		c.Next()
	})
	RegisterRoutes(api, svc)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlers(t *testing.T) {
	svc, _ := newService(t)
	r := newRouter(svc, alice)

	rec := serve(r, http.MethodPost, "/api/cart/items", `{"foodId":1,"quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var added struct {
		Item store.CartItem `json:"item"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.Equal(t, 30.0, added.Item.TotalPrice.Yuan())

	rec = serve(r, http.MethodPut, "/api/cart/items/abc", `{"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ITEM_ID_INVALID")

	rec = serve(r, http.MethodPut, "/api/cart/items/1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodGet, "/api/cart?page=1&size=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.ItemCount)
	assert.True(t, page.CanCheckout)

	rec = serve(r, http.MethodPost, "/api/cart/batch", `{"operation":"VALIDATE"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)

	rec = serve(r, http.MethodPost, "/api/cart/batch", `{"operation":"explode"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNSUPPORTED_OPERATION")

	rec = serve(r, http.MethodPost, "/api/cart/batch", `{"operation":"clear"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, http.MethodGet, "/api/cart/statistics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "购物车为空")

	rec = serve(r, http.MethodDelete, "/api/cart/items/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
