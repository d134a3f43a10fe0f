package store

import (
	"strings"
	"time"

	"github.com/yourusername/eleme-backend/internal/money"
)

// Business は商家（店舗）を表します。評価・販売数・距離などは表示用の文字列のまま保持します。
type Business struct {
	ID           int    `db:"id" json:"id" yaml:"id"`
	Password     string `db:"password" json:"-" yaml:"password"`
	BusinessName string `db:"business_name" json:"businessName" yaml:"businessName"`
	Rating       string `db:"rating" json:"rating" yaml:"rating"`
	Sales        string `db:"sales" json:"sales" yaml:"sales"`
	Distance     string `db:"distance" json:"distance" yaml:"distance"`
	MinOrder     string `db:"min_order" json:"minOrder" yaml:"minOrder"`
	Comment      string `db:"comment" json:"comment" yaml:"comment"`
	Discounts    string `db:"discounts" json:"discounts" yaml:"discounts"`
	Discount     string `db:"discount" json:"discount" yaml:"discount"`
	Notice       string `db:"notice" json:"notice" yaml:"notice"`
	SidebarItems string `db:"sidebar_items" json:"sidebarItems" yaml:"sidebarItems"`
	ImgLogo      string `db:"img_logo" json:"imgLogo" yaml:"imgLogo"`
	Delivery     string `db:"delivery" json:"delivery" yaml:"delivery"`
	Type         string `db:"type" json:"type" yaml:"type"`

	// 以下は DB に保存しない派生値
	DiscountsList    []string `db:"-" json:"discountsList" yaml:"-"`
	SidebarItemsList []string `db:"-" json:"sidebarItemsList" yaml:"-"`
	FoodList         []Food   `db:"-" json:"foodList,omitempty" yaml:"-"`
}

// Normalize は区切り文字列から派生リストを組み立てます。
// discounts は "-"、sidebarItems は "/" 区切りです。
func (b *Business) Normalize() {
	b.DiscountsList = splitList(b.Discounts, "-")
	b.SidebarItemsList = splitList(b.SidebarItems, "/")
}

// Food は商品を表します。
type Food struct {
	ID        int          `db:"id" json:"id" yaml:"id"`
	Name      string       `db:"name" json:"name" yaml:"name"`
	Text      string       `db:"text" json:"text" yaml:"text"`
	Amount    string       `db:"amount" json:"amount" yaml:"amount"`
	Discount  string       `db:"discount" json:"discount" yaml:"discount"`
	RedPrice  money.Amount `db:"red_price" json:"redPrice" yaml:"redPrice"`
	GrayPrice string       `db:"gray_price" json:"grayPrice" yaml:"grayPrice"`
	Business  int          `db:"business_id" json:"business" yaml:"business"`
	Img       string       `db:"img" json:"img" yaml:"img"`
	Selling   int          `db:"selling" json:"selling" yaml:"selling"`

	DiscountList []string `db:"-" json:"discountList" yaml:"-"`
}

// Normalize は discount（"-" 区切り）から DiscountList を組み立てます。
func (f *Food) Normalize() {
	f.DiscountList = splitList(f.Discount, "-")
}

// OnSale は上架中（selling=1）かどうかを返します。
func (f *Food) OnSale() bool {
	return f.Selling == 1
}

// User は利用者アカウントです。主キーは手机号です。
type User struct {
	PhoneNumber   string    `db:"phone_number" json:"phoneNumber"`
	PasswordHash  string    `db:"password_hash" json:"-"`
	Gender        string    `db:"gender" json:"gender"`
	Name          string    `db:"name" json:"name"`
	Email         string    `db:"email" json:"email"`
	LoginAttempts int       `db:"login_attempts" json:"loginAttempts"`
	AccountLocked bool      `db:"account_locked" json:"accountLocked"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// CartItem はカート内の1商品です。
type CartItem struct {
	ID           int64        `db:"id" json:"id"`
	UserPhone    string       `db:"user_phone" json:"userPhone"`
	FoodID       int          `db:"food_id" json:"foodId"`
	FoodName     string       `db:"food_name" json:"foodName"`
	Quantity     int          `db:"quantity" json:"quantity"`
	UnitPrice    money.Amount `db:"unit_price" json:"unitPrice"`
	TotalPrice   money.Amount `db:"total_price" json:"totalPrice"`
	BusinessID   int          `db:"business_id" json:"businessId"`
	BusinessName string       `db:"business_name" json:"businessName"`
	Remarks      string       `db:"remarks" json:"remarks"`
	CreatedAt    time.Time    `db:"created_at" json:"createdTime"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updatedTime"`
	IsValid      int          `db:"is_valid" json:"isValid"`
}

// CalculateTotal は単価×数量で合計を更新します。
func (c *CartItem) CalculateTotal() {
	c.TotalPrice = c.UnitPrice.Mul(c.Quantity)
}

// Valid はカート項目として整合しているか（数量・単価・ID・合計・有効フラグ）を返します。
func (c *CartItem) Valid() bool {
	switch {
	case c.Quantity <= 0,
		c.UnitPrice <= 0,
		c.FoodID <= 0,
		strings.TrimSpace(c.UserPhone) == "",
		c.BusinessID <= 0:
		return false
	}
	if c.TotalPrice != c.UnitPrice.Mul(c.Quantity) {
		return false
	}
	return c.IsValid == 1
}

// StatusDescription は有効フラグの説明文を返します。
func (c *CartItem) StatusDescription() string {
	switch c.IsValid {
	case 0:
		return "已失效"
	case 1:
		return "有效"
	default:
		return "状态异常"
	}
}

// Order の状態
const (
	OrderStateUnpaid = 0
	OrderStatePaid   = 1
)

// Order は利用者の注文です。OrderList は食品IDを "-" で連結したものです。
type Order struct {
	ID         int64        `db:"id" json:"id"`
	BusinessID int          `db:"business_id" json:"businessId"`
	UserPhone  string       `db:"user_phone" json:"userPhone"`
	OrderList  string       `db:"order_list" json:"orderList"`
	Price      money.Amount `db:"price" json:"price"`
	State      int          `db:"state" json:"state"`
	CreatedAt  time.Time    `db:"created_at" json:"createdAt"`
}

func splitList(s, sep string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
