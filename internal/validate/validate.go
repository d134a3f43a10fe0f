// Package validate は利用者入力の検証ルールをまとめたものです。
// 各関数は問題がなければ nil を返し、そうでなければ画面にそのまま出せるメッセージを持つエラーを返します。
package validate

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yourusername/eleme-backend/internal/money"
)

// 境界値
const (
	MinPasswordLength = 6
	MaxPasswordLength = 20
	MinUsernameLength = 2
	MaxUsernameLength = 20
	MinEmailLength    = 5
	MaxEmailLength    = 100
	PhoneLength       = 11
	MinAddressLength  = 5
	MaxAddressLength  = 200
	MinQuantity       = 1
	MaxQuantity       = 999
	MaxCartItems      = 50
	MaxLoginAttempts  = 5

	MinAmount      money.Amount = 1
	MaxAmount      money.Amount = 999999
	MaxOrderAmount money.Amount = 500000
)

var (
	phonePattern    = regexp.MustCompile(`^1[3-9]\d{9}$`)
	emailPattern    = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	passwordCharset = regexp.MustCompile(`^[A-Za-z\d@$!%*#?&]+$`)
	hasLetter       = regexp.MustCompile(`[A-Za-z]`)
	hasDigit        = regexp.MustCompile(`\d`)
	usernamePattern = regexp.MustCompile(`^[\p{Han}A-Za-z0-9_]+$`)
)

// Phone は手机号（中国本土の11桁）を検証します。
func Phone(phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("手机号不能为空")
	}
	if len(phone) < PhoneLength {
		return errors.New("手机号长度不足，应为11位")
	}
	if len(phone) > PhoneLength {
		return errors.New("手机号长度超出，应为11位")
	}
	if !phonePattern.MatchString(phone) {
		return errors.New("手机号格式不正确，应以1开头且第二位为3-9")
	}
	return nil
}

// Email はメールアドレスの長さと形式を検証します。
func Email(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("邮箱不能为空")
	}
	if len(email) < MinEmailLength {
		return errors.New("邮箱长度过短，至少5个字符")
	}
	if len(email) > MaxEmailLength {
		return errors.New("邮箱长度过长，最多100个字符")
	}
	if !emailPattern.MatchString(email) {
		return errors.New("邮箱格式不正确")
	}
	return nil
}

// Password は長さと「英字と数字を両方含む」ことを検証します。
func Password(password string) error {
	if password == "" {
		return errors.New("密码不能为空")
	}
	if len(password) < MinPasswordLength {
		return errors.New("密码长度过短，至少6个字符")
	}
	if len(password) > MaxPasswordLength {
		return errors.New("密码长度过长，最多20个字符")
	}
	if !passwordCharset.MatchString(password) || !hasLetter.MatchString(password) || !hasDigit.MatchString(password) {
		return errors.New("密码必须包含字母和数字，可包含特殊字符@$!%*#?&")
	}
	return nil
}

// Username は漢字・英数字・アンダースコアのみ、2〜20文字であることを検証します。
func Username(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("用户名不能为空")
	}
	n := utf8.RuneCountInString(name)
	if n < MinUsernameLength {
		return errors.New("用户名长度过短，至少2个字符")
	}
	if n > MaxUsernameLength {
		return errors.New("用户名长度过长，最多20个字符")
	}
	if !usernamePattern.MatchString(name) {
		return errors.New("用户名只能包含中文、英文、数字和下划线")
	}
	return nil
}

// Gender は 男 / 女 / 未知 のいずれかであることを検証します。
func Gender(gender string) error {
	switch strings.TrimSpace(gender) {
	case "":
		return errors.New("性别不能为空")
	case "男", "女", "未知":
		return nil
	default:
		return errors.New("性别只能是'男'、'女'或'未知'")
	}
}

func Address(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("地址不能为空")
	}
	n := utf8.RuneCountInString(address)
	if n < MinAddressLength {
		return errors.New("地址长度过短，至少5个字符")
	}
	if n > MaxAddressLength {
		return errors.New("地址长度过长，最多200个字符")
	}
	return nil
}

func Quantity(q int) error {
	if q < MinQuantity {
		return errors.New("商品数量不能小于1")
	}
	if q > MaxQuantity {
		return errors.New("商品数量不能大于999")
	}
	return nil
}

func Amount(a money.Amount) error {
	if a < MinAmount {
		return errors.New("金额不能小于0.01元")
	}
	if a > MaxAmount {
		return errors.New("金额不能大于9999.99元")
	}
	return nil
}

// OrderAmount は Amount に加えて1回の注文上限（5000元）を検証します。
func OrderAmount(a money.Amount) error {
	if err := Amount(a); err != nil {
		return err
	}
	if a > MaxOrderAmount {
		return errors.New("单次订单金额不能超过5000元")
	}
	return nil
}

// CartItemCount はカート内の商品種類数を検証します。
func CartItemCount(n int) error {
	if n < 0 {
		return errors.New("购物车商品数量不能为负数")
	}
	if n > MaxCartItems {
		return errors.New("购物车商品种类不能超过50种")
	}
	return nil
}

func PasswordConfirmation(password, confirm string) error {
	if password == "" || confirm == "" {
		return errors.New("密码确认失败，密码不能为空")
	}
	if password != confirm {
		return errors.New("两次输入的密码不一致")
	}
	return nil
}

// LoginAttempts は失敗回数が上限に達していないかを検証します。
func LoginAttempts(attempts int) error {
	if attempts >= MaxLoginAttempts {
		return errors.New("登录失败次数过多，账户已被锁定")
	}
	return nil
}
