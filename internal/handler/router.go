package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/taskdeck/internal/metrics"
	"github.com/hitoshi/taskdeck/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DB のPingContextを想定する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// タスク
	TaskService TaskServiceInterface

	// ユーザー
	UserService UserServiceInterface

	// 運用
	Logger        *slog.Logger
	Metrics       metrics.MetricsCollector
	MetricsSource prometheus.Gatherer
	HealthChecker HealthChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics → CSRF
//	→ (認証ルートのみ) Session → RateLimit(General)
//
// 認証フロー（/auth/*, /logout）と運用エンドポイント（/health, /metrics）は
// セッションガードの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.Metrics, deps.AuthConfig)
	taskHandler := NewTaskHandler(deps.TaskService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---

	// 認証フロー（OAuth）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Get("/me", authHandler.Me)
	})
	r.Get("/logout", authHandler.Logout)

	// CSRFトークン取得
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// 運用エンドポイント
	r.Get("/health", newHealthHandler(deps.HealthChecker))
	if deps.MetricsSource != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsSource))
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		// タスク管理
		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.ListTasks)

			// POST /api/tasks - タスク作成（作成専用レート制限を追加）
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.TaskCreateMiddleware()).Post("/", taskHandler.CreateTask)
			} else {
				r.Post("/", taskHandler.CreateTask)
			}

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", taskHandler.GetTask)
				r.Put("/", taskHandler.UpdateTask)
				r.Delete("/", taskHandler.DeleteTask)
			})
		})

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}

// newHealthHandler はヘルスチェックエンドポイントのハンドラーを返す。
// DBに疎通できない場合は503を返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		statusCode := http.StatusOK

		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				status = "unavailable"
				statusCode = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
