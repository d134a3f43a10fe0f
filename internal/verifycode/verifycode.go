// Package verifycode は注册用のメール認証コードの発行と照合を提供します。
package verifycode

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/eleme-backend/internal/apperr"
	"github.com/yourusername/eleme-backend/internal/captcha"
	"github.com/yourusername/eleme-backend/internal/jobs"
	"github.com/yourusername/eleme-backend/internal/kv"
	"github.com/yourusername/eleme-backend/internal/mail"
	"github.com/yourusername/eleme-backend/internal/validate"
)

const (
	codeLength = 6
	keyPrefix  = "verify:"
)

// Service は認証コードを KV に保存し、送信をディスパッチャーに任せます。
type Service struct {
	store      kv.Store
	dispatcher jobs.Dispatcher
}

// NewService は Service を作成します。
func NewService(store kv.Store, dispatcher jobs.Dispatcher) *Service {
	return &Service{store: store, dispatcher: dispatcher}
}

// Send は6桁のコードを発行して5分間保存し、メール送信ジョブを投入します。
func (s *Service) Send(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if err := validate.Email(email); err != nil {
		return "", apperr.BadRequest("EMAIL_INVALID", err.Error())
	}
	code := captcha.GenerateText(codeLength, true)
	if err := s.store.Set(ctx, keyPrefix+email, []byte(code), mail.VerifyCodeTTL); err != nil {
		return "", err
	}
	jobID, err := s.dispatcher.DispatchVerifyCode(ctx, email, code)
	if err != nil {
		return jobID, apperr.Wrap(err, http.StatusBadGateway, "MAIL_SEND_FAILED", "验证码发送失败，请稍后重试")
	}
	return jobID, nil
}

// Verify はコードを照合します。コードは削除しないので、登録の入力ミスで再送は不要です。
func (s *Service) Verify(ctx context.Context, email, code string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" || code == "" {
		return false, nil
	}
	stored, err := s.store.Get(ctx, keyPrefix+email)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(stored, []byte(code)) == 1, nil
}

// Consume はコードを取り出して照合します。一致すれば使用済みになり、同じコードで二度は通りません。
// 取り出した値が一致しない（再送で置き換わった）場合は元に戻します。
func (s *Service) Consume(ctx context.Context, email, code string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" || code == "" {
		return false, nil
	}
	stored, err := s.store.Take(ctx, keyPrefix+email)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare(stored, []byte(code)) != 1 {
		if err := s.store.Set(ctx, keyPrefix+email, stored, mail.VerifyCodeTTL); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

type sendRequest struct {
	Email string `json:"email" binding:"required"`
}

// SendHandler は POST /api/auth/verify-code のハンドラーを返します。
func SendHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, apperr.InvalidInput("请以 JSON 提交 email"))
			return
		}
		jobID, err := svc.Send(c.Request.Context(), req.Email)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"jobId":   jobID,
			"message": "验证码已发送",
		})
	}
}
