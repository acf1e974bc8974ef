package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/bakeman/internal/authclient"
	"github.com/hitoshi/bakeman/internal/config"
	"github.com/hitoshi/bakeman/internal/database"
	"github.com/hitoshi/bakeman/internal/handler"
	"github.com/hitoshi/bakeman/internal/ledger"
	"github.com/hitoshi/bakeman/internal/logger"
	"github.com/hitoshi/bakeman/internal/metrics"
	"github.com/hitoshi/bakeman/internal/middleware"
	"github.com/hitoshi/bakeman/internal/predict"
	"github.com/hitoshi/bakeman/internal/security"
	"github.com/hitoshi/bakeman/internal/session"
	"github.com/hitoshi/bakeman/internal/store"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 永続ストアの初期化
	durable := store.NewPostgresStore(db)

	// 3. セキュリティサービスの初期化
	// 認証・予測サービスがプライベートアドレスで動く開発環境ではガードを緩める
	var guard security.OutboundGuardService
	if cfg.AllowPrivateEndpoints {
		slog.Warn("outbound SSRF guard disabled (ALLOW_PRIVATE_ENDPOINTS=true)")
		guard = security.NewPermissiveGuard()
	} else {
		guard = security.NewOutboundGuard()
	}

	if err := guard.ValidateURL(cfg.ForecastEndpoint); err != nil {
		return fmt.Errorf("invalid FORECAST_ENDPOINT: %w", err)
	}
	if err := guard.ValidateURL(cfg.AuthBaseURL); err != nil {
		return fmt.Errorf("invalid AUTH_BASE_URL: %w", err)
	}

	sanitizer := security.NewInputSanitizer()

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. 外部コラボレーターとドメインサービスの初期化
	authAPI := authclient.NewClient(
		guard.NewSafeClient(10*time.Second),
		slog.Default(),
		cfg.AuthBaseURL,
	)
	sessions := session.NewRegistry(durable, authAPI, sanitizer, slog.Default())
	history := ledger.New(durable, slog.Default(), collector)

	// 予測クライアントはセッション単位で生成する（鮮度トークンの契約のため）。
	// Cookieの有効期間を超えてアイドルなクライアントは再利用されないので破棄する。
	provider := handler.NewPredictClientProvider(func() *predict.Client {
		return predict.NewClient(
			guard.NewSafeClient(cfg.PredictTimeout),
			slog.Default(),
			collector,
			cfg.ForecastEndpoint,
			cfg.PredictTimeout,
			cfg.PredictMaxSize,
		)
	}, time.Duration(cfg.SessionMaxAge)*time.Second)
	defer provider.Stop()

	// 6. ルーターの構築
	// configのRateLimitGeneral/Predictはreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.PredictRate = rate.Limit(float64(cfg.RateLimitPredict) / 60.0)
	rateLimiterCfg.PredictBurst = cfg.RateLimitPredict

	deps := &handler.RouterDeps{
		SessionResolver:   sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterCfg),
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		Registry: sessions,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		PredictProvider: provider,
		Sanitizer:       sanitizer,

		LedgerService:  history,
		HistoryService: history,

		Store: durable,

		MetricsHandler: metrics.Handler(registry),
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second, // 予測ディスパッチのタイムアウト(30s)より長くする
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
