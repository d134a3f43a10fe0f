package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const cartColumns = `id, user_phone, food_id, food_name, quantity, unit_price, total_price,
	business_id, business_name, remarks, created_at, updated_at, is_valid`

// CartRepo は cart_items テーブルを扱います。*sqlx.DB でも *sqlx.Tx でも動作します。
type CartRepo struct {
	q sqlx.ExtContext
}

func NewCartRepo(q sqlx.ExtContext) *CartRepo {
	return &CartRepo{q: q}
}

// Insert は項目を追加し、採番された ID を item.ID に設定します。
func (r *CartRepo) Insert(ctx context.Context, item *CartItem) error {
	query, args, err := r.q.BindNamed(`INSERT INTO cart_items (user_phone, food_id, food_name, quantity,
			unit_price, total_price, business_id, business_name, remarks, created_at, updated_at, is_valid)
		VALUES (:user_phone, :food_id, :food_name, :quantity, :unit_price, :total_price,
			:business_id, :business_name, :remarks, :created_at, :updated_at, :is_valid)
		RETURNING id`, item)
	if err != nil {
		return err
	}
	return r.q.QueryRowxContext(ctx, query, args...).Scan(&item.ID)
}

func (r *CartRepo) ByID(ctx context.Context, id int64) (*CartItem, error) {
	var item CartItem
	err := sqlx.GetContext(ctx, r.q, &item, r.q.Rebind(`SELECT `+cartColumns+` FROM cart_items WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListValid は利用者の有効な項目を ID 順に返します。
func (r *CartRepo) ListValid(ctx context.Context, phone string) ([]CartItem, error) {
	var items []CartItem
	err := sqlx.SelectContext(ctx, r.q, &items,
		r.q.Rebind(`SELECT `+cartColumns+` FROM cart_items WHERE user_phone = ? AND is_valid = 1 ORDER BY id`), phone)
	return items, err
}

func (r *CartRepo) CountValid(ctx context.Context, phone string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n,
		r.q.Rebind(`SELECT COUNT(*) FROM cart_items WHERE user_phone = ? AND is_valid = 1`), phone)
	return n, err
}

// FindValid は同じ商品の有効な項目を探します。無ければ ErrNotFound です。
func (r *CartRepo) FindValid(ctx context.Context, phone string, foodID int) (*CartItem, error) {
	var item CartItem
	err := sqlx.GetContext(ctx, r.q, &item, r.q.Rebind(`SELECT `+cartColumns+` FROM cart_items
		WHERE user_phone = ? AND food_id = ? AND is_valid = 1 ORDER BY id LIMIT 1`), phone, foodID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *CartRepo) UpdateQuantity(ctx context.Context, item *CartItem) error {
	res, err := r.q.ExecContext(ctx,
		r.q.Rebind(`UPDATE cart_items SET quantity = ?, total_price = ?, updated_at = ? WHERE id = ?`),
		item.Quantity, item.TotalPrice, item.UpdatedAt, item.ID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *CartRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM cart_items WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteByUser は利用者の全項目（失効済みを含む）を削除し、件数を返します。
func (r *CartRepo) DeleteByUser(ctx context.Context, phone string) (int64, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM cart_items WHERE user_phone = ?`), phone)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *CartRepo) DeleteIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM cart_items WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, r.q.Rebind(query), args...)
	return err
}

// InTx は fn をトランザクション内で実行し、エラーが無ければコミットします。
func InTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Now は DB に保存する時刻を返します。秒未満は切り捨てます。
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
