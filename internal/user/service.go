// Package user は利用者の登録・認証・信用度判定を提供します。
package user

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/eleme-backend/internal/apperr"
	"github.com/yourusername/eleme-backend/internal/store"
	"github.com/yourusername/eleme-backend/internal/validate"
)

const defaultGender = "未知"

var (
	ErrVerifyCodeInvalid  = apperr.BadRequest("VERIFY_CODE_INVALID", "验证码错误或已过期")
	ErrPhoneRegistered    = apperr.Conflict("PHONE_REGISTERED", "该手机号已注册")
	ErrPasswordMismatch   = apperr.BadRequest("PASSWORD_MISMATCH", "两次输入的密码不一致")
	ErrInvalidCredentials = apperr.Unauthorized("INVALID_CREDENTIALS", "手机号或密码错误")
	ErrAccountLocked      = apperr.New(http.StatusLocked, "ACCOUNT_LOCKED", "登录失败次数过多，账户已被锁定")
	ErrUserNotFound       = apperr.NotFound("USER_NOT_FOUND", "用户不存在")
)

// CodeVerifier はメール認証コードを照合します。
// Verify は照合のみ、Consume は一致したコードを使用済みにします。
type CodeVerifier interface {
	Verify(ctx context.Context, email, code string) (bool, error)
	Consume(ctx context.Context, email, code string) (bool, error)
}

// RegisterInput は登録フォームの内容です。
type RegisterInput struct {
	PhoneNumber     string `json:"phoneNumber"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	VerifyCode      string `json:"verifyCode"`
}

// Service は利用者アカウントの業務ロジックです。
type Service struct {
	users *store.UserRepo
	codes CodeVerifier
	cost  int
	now   func() time.Time
}

// NewService は Service を作成します。codes は登録時の認証コード確認に使います。
func NewService(db *sqlx.DB, codes CodeVerifier) *Service {
	return &Service{
		users: store.NewUserRepo(db),
		codes: codes,
		cost:  bcrypt.DefaultCost,
		now:   store.Now,
	}
}

// Register は入力を検証して利用者を作成します。
// 検証は 認証コード → 手机号形式 → 重複 → 密码 → 确认密码 → 邮箱 → 用户名 の順です。
// 認証コードはすべての検証を通った後で使用済みにするので、入力ミスの後も同じコードで再試行できます。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.User, error) {
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.VerifyCode = strings.TrimSpace(in.VerifyCode)

	ok, err := s.codes.Verify(ctx, in.Email, in.VerifyCode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVerifyCodeInvalid
	}
	if err := validate.Phone(in.PhoneNumber); err != nil {
		return nil, apperr.BadRequest("PHONE_INVALID", err.Error())
	}
	exists, err := s.users.Exists(ctx, in.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrPhoneRegistered
	}
	if err := validate.Password(in.Password); err != nil {
		return nil, apperr.BadRequest("PASSWORD_INVALID", err.Error())
	}
	if err := validate.PasswordConfirmation(in.Password, in.ConfirmPassword); err != nil {
		return nil, ErrPasswordMismatch
	}
	if err := validate.Email(in.Email); err != nil {
		return nil, apperr.BadRequest("EMAIL_INVALID", err.Error())
	}
	if err := validate.Username(in.Name); err != nil {
		return nil, apperr.BadRequest("NAME_INVALID", err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, err
	}
	consumed, err := s.codes.Consume(ctx, in.Email, in.VerifyCode)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, ErrVerifyCodeInvalid
	}
	u := &store.User{
		PhoneNumber:  in.PhoneNumber,
		PasswordHash: string(hash),
		Gender:       defaultGender,
		Name:         in.Name,
		Email:        in.Email,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrPhoneRegistered
		}
		return nil, err
	}
	return u, nil
}

// Authenticate は手机号とパスワードを照合します。
// 失敗は回数を加算し、5回目でアカウントをロックします。成功すると回数をリセットします。
func (s *Service) Authenticate(ctx context.Context, phone, password string) (*store.User, error) {
	phone = strings.TrimSpace(phone)
	if validate.Phone(phone) != nil || validate.Password(password) != nil {
		return nil, ErrInvalidCredentials
	}

	u, err := s.users.ByPhone(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.AccountLocked {
		return nil, ErrAccountLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		u.LoginAttempts++
		u.AccountLocked = validate.LoginAttempts(u.LoginAttempts) != nil
		if err := s.users.SetLoginState(ctx, phone, u.LoginAttempts, u.AccountLocked); err != nil {
			return nil, err
		}
		if u.AccountLocked {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if u.LoginAttempts != 0 || u.AccountLocked {
		u.LoginAttempts = 0
		u.AccountLocked = false
		if err := s.users.SetLoginState(ctx, phone, 0, false); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// Get は利用者を返します。
func (s *Service) Get(ctx context.Context, phone string) (*store.User, error) {
	u, err := s.users.ByPhone(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// CreditLevel は失敗回数とロック状態から信用度の表示文言を返します。
func (s *Service) CreditLevel(ctx context.Context, phone string) (string, error) {
	u, err := s.users.ByPhone(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return "无信用记录", nil
	}
	if err != nil {
		return "", err
	}
	return CreditLevelOf(u), nil
}

// CreditLevelOf は利用者の信用度を判定します。
func CreditLevelOf(u *store.User) string {
	switch {
	case u.AccountLocked:
		return "信用不良"
	case u.LoginAttempts == 0:
		return "信用优秀"
	case u.LoginAttempts <= 2:
		return "信用良好"
	case u.LoginAttempts <= 4:
		return "信用一般"
	default:
		return "信用较差"
	}
}
