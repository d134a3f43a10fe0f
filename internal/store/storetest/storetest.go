// Package storetest はテスト用に一時ファイルの SQLite DB を用意します。
package storetest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/yourusername/eleme-backend/internal/store"
)

// CatalogYAML はテスト用の小さなカタログです。
// 商家1は商品1,2（上架）と3（下架）、商家2は商品4を持ちます。
const CatalogYAML = `
businesses:
  - {id: 1, businessName: 万家饺子, rating: "4.9", sales: "月售345单", distance: "3.22km", minOrder: "15", discounts: 满30减5-满60减12, sidebarItems: 热销/饺子, type: 美食}
  - {id: 2, businessName: 小锅饭豆腐馆, rating: "4.2", sales: "月售1021单", distance: "1.5km", minOrder: "20", discounts: "", sidebarItems: 豆腐, type: 美食}
  - {id: 3, businessName: 一点点奶茶, rating: "暂无", sales: "新店", distance: "0.8km", minOrder: "12", type: 甜品饮品}
foods:
  - {id: 1, name: 纯肉鲜肉（水饺）, discount: 8折-限购1份, redPrice: 15, business: 1, selling: 1}
  - {id: 2, name: 玉米鲜肉（水饺）, redPrice: 16.5, business: 1, selling: 1}
  - {id: 3, name: 素三鲜（蒸饺）, redPrice: 12, business: 1, selling: 0}
  - {id: 4, name: 小锅豆腐, redPrice: 18, business: 2, selling: 1}
`

// New はマイグレーション済みの空の DB を返します。テスト終了時に閉じられます。
func New(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=foreign_keys(1)"
	db, err := store.Open(context.Background(), "sqlite", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// NewSeeded は CatalogYAML を投入済みの DB を返します。
func NewSeeded(t testing.TB) *sqlx.DB {
	t.Helper()
	db := New(t)
	cat, err := store.DecodeCatalog(strings.NewReader(CatalogYAML))
	if err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if _, err := store.Seed(context.Background(), db, cat); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}
