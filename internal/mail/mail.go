// Package mail は認証コードなどのメール送信を提供します。
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Message は送信するメール1通です。
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender はメールを送信します。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// VerifyCodeTTL はメール認証コードの有効期間です。
const VerifyCodeTTL = 5 * time.Minute

// VerifyCodeMessage は注册用の認証コードメールを組み立てます。
func VerifyCodeMessage(to, code string) Message {
	return Message{
		To:      to,
		Subject: "饿了么注册验证码",
		Body: fmt.Sprintf("您的验证码是：%s\n验证码 %d 分钟内有效，请勿泄露给他人。",
			code, int(VerifyCodeTTL.Minutes())),
	}
}

// DefaultSendTimeout は1通の送信（接続から QUIT まで）にかける上限です。
const DefaultSendTimeout = 30 * time.Second

// SMTPSender は SMTP サーバー経由で送信します。
// サーバーが STARTTLS に対応していれば暗号化してから認証します。
type SMTPSender struct {
	addr    string
	host    string
	from    string
	auth    smtp.Auth
	timeout time.Duration
}

// NewSMTPSender は SMTPSender を作成します。username が空なら認証しません。
func NewSMTPSender(addr, from, username, password string) *SMTPSender {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	s := &SMTPSender{addr: addr, host: host, from: from, timeout: DefaultSendTimeout}
	if username != "" {
		s.auth = smtp.PlainAuth("", username, password, host)
	}
	return s
}

// Send は ctx と送信タイムアウトの早い方で打ち切ります。
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.send(ctx, msg)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("failed to send mail to %s: %w", msg.To, ctxErr)
	}
	return fmt.Errorf("failed to send mail to %s: %w", msg.To, err)
}

func (s *SMTPSender) send(ctx context.Context, msg Message) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	// キャンセルか期限切れで接続を閉じ、途中の読み書きを止める
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}
	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(s.from); err != nil {
		return err
	}
	if err := c.Rcpt(msg.To); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(s.render(msg)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (s *SMTPSender) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// LogSender は送信せずにログへ出力します。SMTP 未設定の開発環境向けです。
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info("mail not sent (SMTP disabled)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// New は SMTP アドレスが設定されていれば SMTPSender、そうでなければ LogSender を返します。
func New(addr, from, username, password string, logger *zap.Logger) Sender {
	if addr == "" {
		return NewLogSender(logger)
	}
	return NewSMTPSender(addr, from, username, password)
}
