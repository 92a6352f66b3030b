package handler

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/gamewatch/internal/metrics"
	"github.com/hitoshi/gamewatch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック用DB接続
	DB *sql.DB

	// メトリクス
	Gatherer prometheus.Gatherer

	// ハンドラー
	UserHandler *UserHandler
	SyncHandler *SyncHandler
	GameHandler *GameHandler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用系ルート（レート制限なし）---

	r.Get("/health", healthHandler(deps.DB))
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/users", func(r chi.Router) {
			r.Post("/", deps.UserHandler.Register)

			r.Route("/{steamId}", func(r chi.Router) {
				r.Get("/", deps.UserHandler.GetUser)
				r.Put("/notifications", deps.UserHandler.UpdateNotifications)
				r.Get("/library-size", deps.UserHandler.EstimateLibrary)

				// 同期トリガーはSteam APIを誘発するため専用レート制限を重ねる
				r.With(deps.RateLimiter.SyncTriggerMiddleware()).Post("/sync", deps.SyncHandler.SyncUser)

				r.Get("/pending", deps.UserHandler.GetPending)
				r.Post("/pending/drain", deps.SyncHandler.DrainPending)

				r.Post("/follows", deps.GameHandler.Follow)
				r.Delete("/follows/{appId}", deps.GameHandler.Unfollow)
			})
		})

		r.Route("/api/games/{appId}", func(r chi.Router) {
			r.Post("/notify", deps.GameHandler.Notify)
		})

		// グループ同期もSteam APIを誘発するため専用レート制限を重ねる
		r.With(deps.RateLimiter.SyncTriggerMiddleware()).Post("/api/sync/groups/{index}", deps.SyncHandler.SyncGroup)
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"reason": "database unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
