// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// X-Forwarded-For を信頼するプロキシ（IP または CIDR）。空なら転送ヘッダーは無視する
	TrustedProxies []string

	// 認証設定
	SessionSecret string        // セッションクッキー署名用の秘密鍵
	JWTSecret     string        // アクセストークン署名用の秘密鍵
	TokenTTL      time.Duration // アクセストークンの有効期間

	// ログイン試行の制限
	LoginRatePerSecond int // クライアントIPごとの毎秒ログイン回数
	LoginRateBurst     int // バースト許容数

	// データベース設定
	DBDriver    string // sqlite または postgres
	DatabaseURL string // ドライバーに渡す DSN
	SeedFile    string // seed サブコマンドが読み込むカタログ YAML

	// Redis / キュー設定（空ならインメモリ + 同期送信）
	RedisURL string
	JobTTL   time.Duration // ジョブ状態の保持期間

	// メール設定
	MailFrom     string
	SMTPAddr     string // host:port。空ならメールはログ出力のみ
	SMTPUsername string
	SMTPPassword string

	// ログ設定
	LogLevel string
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		TrustedProxies:     getEnvAsList("TRUSTED_PROXIES"),

		SessionSecret: getEnv("SESSION_SECRET", "dev-session-secret"),
		JWTSecret:     getEnv("JWT_SECRET", "dev-jwt-secret"),
		TokenTTL:      getEnvAsDuration("TOKEN_TTL", 24*time.Hour),

		LoginRatePerSecond: getEnvAsInt("LOGIN_RATE_PER_SECOND", 5),
		LoginRateBurst:     getEnvAsInt("LOGIN_RATE_BURST", 10),

		DBDriver:    getEnv("DB_DRIVER", "sqlite"),
		DatabaseURL: getEnv("DATABASE_URL", "file:eleme.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"),
		SeedFile:    getEnv("SEED_FILE", "seed/catalog.yaml"),

		RedisURL: getEnv("REDIS_URL", ""),
		JobTTL:   getEnvAsDuration("JOB_TTL", 30*time.Minute),

		MailFrom:     getEnv("MAIL_FROM", "noreply@eleme.local"),
		SMTPAddr:     getEnv("SMTP_ADDR", ""),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}

	// ローカル開発ではデフォルトの秘密鍵で起動できる
	if c.GinMode == "release" {
		if c.SessionSecret == "" || c.SessionSecret == "dev-session-secret" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.JWTSecret == "" || c.JWTSecret == "dev-jwt-secret" {
			return fmt.Errorf("JWT_SECRET is required in release mode")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数を空要素を除いて返します。未設定なら nil です。
func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: 24h, 30m）。
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
