package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/bakeman/internal/middleware"
	"github.com/hitoshi/bakeman/internal/security"
	"github.com/hitoshi/bakeman/internal/session"
	"github.com/hitoshi/bakeman/internal/store"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	Registry   *session.Registry
	AuthConfig AuthHandlerConfig

	// 予測
	PredictProvider *PredictClientProvider
	Sanitizer       security.InputSanitizerService

	// 履歴
	LedgerService  LedgerService
	HistoryService HistoryService

	// 設定
	Store store.DurableStore

	// 監視
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → SessionMiddleware → CSRFMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// 認証ルート（/auth/*）とヘルスチェック・メトリクスはミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewRecoveryMiddleware())

	authHandler := NewAuthHandler(deps.Registry, deps.AuthConfig)
	predictionHandler := NewPredictionHandler(deps.PredictProvider, deps.LedgerService, deps.Sanitizer)
	historyHandler := NewHistoryHandler(deps.HistoryService)
	preferenceHandler := NewPreferenceHandler(deps.Store)
	productsHandler := NewProductsHandler()

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// CSRFトークン配布（SPA起動時に取得する）
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// 認証ルート
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 予測実行（予測専用レート制限を追加）
		r.Route("/api/predictions", func(r chi.Router) {
			r.With(deps.RateLimiter.PredictMiddleware()).Post("/", predictionHandler.Predict)
		})

		// 予測履歴
		r.Route("/api/history", func(r chi.Router) {
			r.Get("/", historyHandler.List)
			r.Get("/stats", historyHandler.Stats)
			r.Get("/export", historyHandler.Export)
			r.Patch("/{id}/actual", historyHandler.UpdateActual)
		})

		// ダッシュボード
		r.Get("/api/dashboard", historyHandler.Dashboard)

		// 商品カタログ
		r.Get("/api/products", productsHandler.List)

		// ユーザー設定
		r.Route("/api/preferences", func(r chi.Router) {
			r.Get("/language", preferenceHandler.GetLanguage)
			r.Put("/language", preferenceHandler.PutLanguage)
		})
	})

	return r
}
