package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

const businessColumns = `id, password, business_name, rating, sales, distance, min_order, comment,
	discounts, discount, notice, sidebar_items, img_logo, delivery, type`

const foodColumns = `id, name, text, amount, discount, red_price, gray_price, business_id, img, selling`

// BusinessRepo は businesses テーブルを扱います。
type BusinessRepo struct {
	db *sqlx.DB
}

func NewBusinessRepo(db *sqlx.DB) *BusinessRepo {
	return &BusinessRepo{db: db}
}

// All は全商家を ID 順に返します。
func (r *BusinessRepo) All(ctx context.Context) ([]Business, error) {
	var list []Business
	err := r.db.SelectContext(ctx, &list, `SELECT `+businessColumns+` FROM businesses ORDER BY id`)
	return normalizeBusinesses(list), err
}

func (r *BusinessRepo) ByID(ctx context.Context, id int) (*Business, error) {
	var b Business
	err := r.db.GetContext(ctx, &b, r.db.Rebind(`SELECT `+businessColumns+` FROM businesses WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Normalize()
	return &b, nil
}

func (r *BusinessRepo) ByType(ctx context.Context, businessType string) ([]Business, error) {
	var list []Business
	err := r.db.SelectContext(ctx, &list,
		r.db.Rebind(`SELECT `+businessColumns+` FROM businesses WHERE type = ? ORDER BY id`), businessType)
	return normalizeBusinesses(list), err
}

// SearchByName は商家名の部分一致で検索します。
func (r *BusinessRepo) SearchByName(ctx context.Context, keyword string) ([]Business, error) {
	var list []Business
	err := r.db.SelectContext(ctx, &list,
		r.db.Rebind(`SELECT `+businessColumns+` FROM businesses WHERE business_name LIKE ? ORDER BY id`),
		"%"+keyword+"%")
	return normalizeBusinesses(list), err
}

// Upsert は ID をキーに商家を作成または更新します。
func (r *BusinessRepo) Upsert(ctx context.Context, b *Business) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO businesses (`+businessColumns+`)
		VALUES (:id, :password, :business_name, :rating, :sales, :distance, :min_order, :comment,
			:discounts, :discount, :notice, :sidebar_items, :img_logo, :delivery, :type)
		ON CONFLICT (id) DO UPDATE SET
			password = excluded.password,
			business_name = excluded.business_name,
			rating = excluded.rating,
			sales = excluded.sales,
			distance = excluded.distance,
			min_order = excluded.min_order,
			comment = excluded.comment,
			discounts = excluded.discounts,
			discount = excluded.discount,
			notice = excluded.notice,
			sidebar_items = excluded.sidebar_items,
			img_logo = excluded.img_logo,
			delivery = excluded.delivery,
			type = excluded.type`, b)
	return err
}

// FoodRepo は foods テーブルを扱います。
type FoodRepo struct {
	db *sqlx.DB
}

func NewFoodRepo(db *sqlx.DB) *FoodRepo {
	return &FoodRepo{db: db}
}

func (r *FoodRepo) ByID(ctx context.Context, id int) (*Food, error) {
	var f Food
	err := r.db.GetContext(ctx, &f, r.db.Rebind(`SELECT `+foodColumns+` FROM foods WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Normalize()
	return &f, nil
}

// ByBusiness は商家の全商品（下架を含む）を ID 順に返します。
func (r *FoodRepo) ByBusiness(ctx context.Context, businessID int) ([]Food, error) {
	var list []Food
	err := r.db.SelectContext(ctx, &list,
		r.db.Rebind(`SELECT `+foodColumns+` FROM foods WHERE business_id = ? ORDER BY id`), businessID)
	for i := range list {
		list[i].Normalize()
	}
	return list, err
}

func (r *FoodRepo) Upsert(ctx context.Context, f *Food) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO foods (`+foodColumns+`)
		VALUES (:id, :name, :text, :amount, :discount, :red_price, :gray_price, :business_id, :img, :selling)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			text = excluded.text,
			amount = excluded.amount,
			discount = excluded.discount,
			red_price = excluded.red_price,
			gray_price = excluded.gray_price,
			business_id = excluded.business_id,
			img = excluded.img,
			selling = excluded.selling`, f)
	return err
}

func normalizeBusinesses(list []Business) []Business {
	for i := range list {
		list[i].Normalize()
	}
	return list
}
