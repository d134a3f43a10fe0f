package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/eleme-backend/internal/apperr"
	"github.com/yourusername/eleme-backend/internal/logging"
	"github.com/yourusername/eleme-backend/internal/metrics"
	"github.com/yourusername/eleme-backend/internal/store"
	"github.com/yourusername/eleme-backend/internal/user"
)

type loginRequest struct {
	PhoneNumber  string `json:"phoneNumber" binding:"required"`
	Password     string `json:"password" binding:"required"`
	CaptchaID    string `json:"captchaId"`
	CaptchaValue string `json:"captchaValue"`
}

// Login は /api/auth/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.InvalidInput("请以 JSON 提交 phoneNumber 和 password"))
		return
	}

	ctx := c.Request.Context()
	attempts, err := m.currentAttempts(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	if attempts >= CaptchaThreshold {
		if strings.TrimSpace(req.CaptchaID) == "" || strings.TrimSpace(req.CaptchaValue) == "" {
			metrics.RecordLogin("captcha")
			respondLoginFailure(c, http.StatusPreconditionRequired, "CAPTCHA_REQUIRED", "请输入图形验证码", attempts)
			return
		}
		ok, err := m.captchas.Validate(ctx, req.CaptchaID, req.CaptchaValue)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		if !ok {
			metrics.RecordLogin("captcha")
			respondLoginFailure(c, http.StatusBadRequest, "CAPTCHA_INVALID", "图形验证码错误或已过期", attempts)
			return
		}
	}

	u, err := m.users.Authenticate(ctx, req.PhoneNumber, req.Password)
	if err != nil {
		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			apperr.Respond(c, err)
			return
		}
		next, saveErr := m.recordFailure(c, attempts)
		if saveErr != nil {
			apperr.Respond(c, saveErr)
			return
		}
		attempts = next
		result := "failure"
		if errors.Is(err, user.ErrAccountLocked) {
			result = "locked"
		}
		metrics.RecordLogin(result)
		logging.FromContext(c).Info("login failed",
			zap.String("code", appErr.Code),
			zap.Int("clientAttempts", attempts),
		)
		respondLoginFailure(c, appErr.Status, appErr.Code, appErr.Message, attempts)
		return
	}

	if err := m.resetAttempts(c); err != nil {
		apperr.Respond(c, err)
		return
	}
	token, err := m.IssueToken(u.PhoneNumber)
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "令牌生成失败"))
		return
	}

	metrics.RecordLogin("success")
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "登录成功",
		"token":   token,
		"user":    userView(u),
	})
}

func respondLoginFailure(c *gin.Context, status int, code, message string, attempts int) {
	c.JSON(status, gin.H{
		"code":          code,
		"message":       message,
		"loginAttempts": attempts,
		"showCaptcha":   attempts >= CaptchaThreshold,
	})
}

// Logout は /api/auth/logout のハンドラーです。トークンを失効させ、試行回数も消去します。
func (m *Manager) Logout(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		apperr.Respond(c, apperr.Unauthorized("UNAUTHORIZED", "请先登录"))
		return
	}
	if err := m.Revoke(c.Request.Context(), claims); err != nil {
		apperr.Respond(c, err)
		return
	}
	if err := m.resetAttempts(c); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已退出登录"})
}

// State は GET /api/auth/state のハンドラーです。
func (m *Manager) State(c *gin.Context) {
	attempts, err := m.currentAttempts(c)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"loginAttempts": attempts,
		"showCaptcha":   attempts >= CaptchaThreshold,
	})
}

// Register は POST /api/auth/register のハンドラーです。
func (m *Manager) Register(c *gin.Context) {
	var req user.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.InvalidInput("请以 JSON 提交注册信息"))
		return
	}
	u, err := m.users.Register(c.Request.Context(), req)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "注册成功",
		"user":    userView(u),
	})
}

// Me は GET /api/me のハンドラーです。
func (m *Manager) Me(c *gin.Context) {
	u, err := m.users.Get(c.Request.Context(), CurrentUser(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	view := userView(u)
	view["creditLevel"] = user.CreditLevelOf(u)
	c.JSON(http.StatusOK, view)
}

func userView(u *store.User) gin.H {
	return gin.H{
		"phoneNumber": u.PhoneNumber,
		"name":        u.Name,
		"email":       u.Email,
		"gender":      u.Gender,
	}
}
