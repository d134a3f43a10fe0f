package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, business_id, user_phone, order_list, price, state, created_at`

// OrderRepo は user_orders テーブルを扱います。
type OrderRepo struct {
	q sqlx.ExtContext
}

func NewOrderRepo(q sqlx.ExtContext) *OrderRepo {
	return &OrderRepo{q: q}
}

// Insert は注文を作成し、採番された ID を o.ID に設定します。
func (r *OrderRepo) Insert(ctx context.Context, o *Order) error {
	query, args, err := r.q.BindNamed(`INSERT INTO user_orders (business_id, user_phone, order_list, price, state, created_at)
		VALUES (:business_id, :user_phone, :order_list, :price, :state, :created_at)
		RETURNING id`, o)
	if err != nil {
		return err
	}
	return r.q.QueryRowxContext(ctx, query, args...).Scan(&o.ID)
}

func (r *OrderRepo) ByID(ctx context.Context, id int64) (*Order, error) {
	var o Order
	err := sqlx.GetContext(ctx, r.q, &o, r.q.Rebind(`SELECT `+orderColumns+` FROM user_orders WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListByUser は利用者の注文を新しい順に返します。
func (r *OrderRepo) ListByUser(ctx context.Context, phone string) ([]Order, error) {
	var list []Order
	err := sqlx.SelectContext(ctx, r.q, &list,
		r.q.Rebind(`SELECT `+orderColumns+` FROM user_orders WHERE user_phone = ? ORDER BY created_at DESC, id DESC`), phone)
	return list, err
}

func (r *OrderRepo) SetState(ctx context.Context, id int64, state int) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`UPDATE user_orders SET state = ? WHERE id = ?`), state, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
