// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/eleme-backend/internal/auth"
	"github.com/yourusername/eleme-backend/internal/captcha"
	"github.com/yourusername/eleme-backend/internal/cart"
	"github.com/yourusername/eleme-backend/internal/catalog"
	"github.com/yourusername/eleme-backend/internal/config"
	"github.com/yourusername/eleme-backend/internal/jobs"
	"github.com/yourusername/eleme-backend/internal/logging"
	"github.com/yourusername/eleme-backend/internal/metrics"
	"github.com/yourusername/eleme-backend/internal/order"
	"github.com/yourusername/eleme-backend/internal/store"
	"github.com/yourusername/eleme-backend/internal/user"
	"github.com/yourusername/eleme-backend/internal/verifycode"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "eleme-api",
		Short:        "eleme storefront API server",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API and the mail worker",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations",
			RunE:  runMigrate,
		},
		newSeedCmd(),
	)
	return root
}

// bootstrap は設定・ロガー・DB を用意し、マイグレーションを適用します。
func bootstrap(ctx context.Context) (*config.Config, *zap.Logger, *sqlx.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.GinMode)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	db, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	if err := store.Migrate(db); err != nil {
		db.Close()
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return cfg, logger, db, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, db, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer db.Close()
	logger.Info("migrations applied", zap.String("driver", cfg.DBDriver))
	return nil
}

func newSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load businesses and foods from a YAML catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, db, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer db.Close()

			if file == "" {
				file = cfg.SeedFile
			}
			cat, err := store.LoadCatalogFile(file)
			if err != nil {
				return err
			}
			res, err := store.Seed(cmd.Context(), db, cat)
			if err != nil {
				return err
			}
			logger.Info("catalogue seeded",
				zap.String("file", file),
				zap.Int("businesses", res.Businesses),
				zap.Int("foods", res.Foods),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalogue YAML (default: SEED_FILE)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, db, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer db.Close()

	b, err := setupBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	gin.SetMode(cfg.GinMode)
	router, err := newRouter(cfg, logger)
	if err != nil {
		return err
	}
	setupRoutes(router, cfg, logger, db, b)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting API server",
			zap.String("addr", srv.Addr),
			zap.String("mode", cfg.GinMode),
			zap.Bool("asyncMail", b.worker != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down API server")
		return srv.Shutdown(shutdownCtx)
	})
	if b.worker != nil {
		g.Go(func() error {
			return b.worker.Run(gctx)
		})
	}
	return g.Wait()
}

// newRouter は共通ミドルウェアを設定したルーターを返します。
// c.ClientIP() は TRUSTED_PROXIES からの転送ヘッダーだけを信用します。
func newRouter(cfg *config.Config, logger *zap.Logger) (*gin.Engine, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	router.Use(gin.Recovery(), logging.Middleware(logger), metrics.Middleware())

	// セッションストアの設定（ログイン失敗回数を保持する）
	cookieStore := cookie.NewStore([]byte(cfg.SessionSecret))
	cookieStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, cookieStore))

	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig := cors.DefaultConfig()
	var origins []string
	for _, o := range strings.Split(cfg.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		logging.RequestIDHeader,
	}
	corsConfig.ExposeHeaders = []string{logging.RequestIDHeader, "Retry-After"}
	router.Use(cors.New(corsConfig))
	return router, nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if err := db.PingContext(c.Request.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": "eleme-api",
			"version": "0.1.0",
		})
	}
}

// setupRoutes はサービスを組み立てて API を登録します。
func setupRoutes(router *gin.Engine, cfg *config.Config, logger *zap.Logger, db *sqlx.DB, b *backends) {
	router.GET("/health", handleHealth(db))
	router.GET("/metrics", metrics.Handler())

	catalogSvc := catalog.NewService(db)
	captchaSvc := captcha.NewService(b.kv)
	codes := verifycode.NewService(b.kv, b.dispatcher)
	users := user.NewService(db, codes)
	authManager := auth.NewManager(cfg, users, captchaSvc, b.kv)
	cartSvc := cart.NewService(db)
	orderSvc := order.NewService(db, catalogSvc, logger.Named("order"))

	api := router.Group("/api")
	{
		api.GET("/captcha", captcha.CreateHandler(captchaSvc))
		api.POST("/captcha", captcha.ValidateHandler(captchaSvc))

		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/login", authManager.RateLimitLogin(), authManager.Login)
			authRoutes.POST("/logout", authManager.RequireLogin(), authManager.Logout)
			authRoutes.GET("/state", authManager.State)
			authRoutes.POST("/register", authManager.Register)
			authRoutes.POST("/verify-code", verifycode.SendHandler(codes))
		}

		api.GET("/jobs/:id", jobs.StatusHandler(b.jobStore))
		catalog.RegisterRoutes(api, catalogSvc)

		protected := api.Group("")
		protected.Use(authManager.RequireLogin())
		{
			protected.GET("/me", authManager.Me)
			cart.RegisterRoutes(protected, cartSvc)
			order.RegisterRoutes(protected, orderSvc)
		}
	}
}
