package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ErrDuplicate は主キーが既に存在する場合に返されます。
var ErrDuplicate = errors.New("store: duplicate key")

const userColumns = `phone_number, password_hash, gender, name, email, login_attempts, account_locked, created_at`

// UserRepo は users テーブルを扱います。
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) ByPhone(ctx context.Context, phone string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE phone_number = ?`), phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Exists(ctx context.Context, phone string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM users WHERE phone_number = ?`), phone)
	return n > 0, err
}

// Create は利用者を登録します。手机号が重複していれば ErrDuplicate を返します。
func (r *UserRepo) Create(ctx context.Context, u *User) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES (:phone_number, :password_hash, :gender, :name, :email, :login_attempts, :account_locked, :created_at)`, u)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// SetLoginState は失敗回数とロック状態を保存します。
func (r *UserRepo) SetLoginState(ctx context.Context, phone string, attempts int, locked bool) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE users SET login_attempts = ?, account_locked = ? WHERE phone_number = ?`),
		attempts, locked, phone)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	// SQLite: "UNIQUE constraint failed"、PostgreSQL: "duplicate key value violates unique constraint"
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
