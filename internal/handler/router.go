package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maks-bond/hike-coverage/internal/metrics"
	"github.com/maks-bond/hike-coverage/internal/middleware"
	"github.com/maks-bond/hike-coverage/internal/security"
)

// TrackerService はルーターが必要とするサービスの全操作。tracker.Serviceが実装する。
type TrackerService interface {
	HikeServiceInterface
	RecordingServiceInterface
	IdentityServiceInterface
	SyncServiceInterface
	EventSubscriber
}

// HealthChecker はリモートストアの疎通確認インターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// サービス
	Service   TrackerService
	Sanitizer security.NotesSanitizerService

	// ヘルスチェック（リモートストアがない場合はnil）
	HealthChecker HealthChecker

	// /metrics の公開（nilの場合はルートを登録しない）
	MetricsHandler http.Handler

	// POST /api/sync/refresh?wait=true の待機上限
	SyncWaitTimeout time.Duration
}

// healthResponse はヘルスチェックのAPIレスポンス。
type healthResponse struct {
	Status      string `json:"status"`
	RemoteStore string `json:"remote_store"`
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS（設定時のみ）→ RateLimit(General)
//
// サンプル投稿（POST /api/recording/samples）は全般のレート制限の代わりに専用の制限を適用する。
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewNotesSanitizer()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	if deps.CORSAllowedOrigin != "" {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	}

	hikeHandler := NewHikeHandler(deps.Service, sanitizer)
	recordingHandler := NewRecordingHandler(deps.Service)
	identityHandler := NewIdentityHandler(deps.Service)
	syncHandler := NewSyncHandler(deps.Service, deps.SyncWaitTimeout)
	eventsHandler := NewEventsHandler(deps.Service, 0)

	// --- レート制限なしのルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// イベント配信は長時間接続のためレート制限の対象外
	r.Get("/api/events", eventsHandler.Stream)

	// --- レート制限ありのルート ---
	r.Group(func(r chi.Router) {
		// 記録
		r.Route("/api/recording", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if deps.RateLimiter != nil {
					r.Use(deps.RateLimiter.GeneralMiddleware())
				}
				r.Get("/", recordingHandler.Status)
				r.Post("/start", recordingHandler.Start)
				r.Post("/stop", recordingHandler.Stop)
			})

			// POST /api/recording/samples - サンプル投稿（専用レート制限）
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.SamplesMiddleware()).Post("/samples", recordingHandler.Samples)
			} else {
				r.Post("/samples", recordingHandler.Samples)
			}
		})

		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.GeneralMiddleware())
			}

			// 所有者名
			r.Route("/api/identity", func(r chi.Router) {
				r.Get("/", identityHandler.Get)
				r.Put("/", identityHandler.Set)
			})

			// ハイク管理
			r.Route("/api/hikes", func(r chi.Router) {
				r.Get("/", hikeHandler.ListHikes)
				r.Post("/import", hikeHandler.ImportGPX)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", hikeHandler.GetHike)
					r.Delete("/", hikeHandler.DeleteHike)
					r.Put("/notes", hikeHandler.UpdateNotes)
					r.Get("/gpx", hikeHandler.ExportGPX)
				})
			})

			// リモート同期
			r.Post("/api/sync/refresh", syncHandler.Refresh)
		})
	})

	return r
}

// healthHandler はヘルスチェックのハンドラーを返す。
// リモートストアに到達できない場合も記録は続けられるため、ステータスは200のままとする。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", RemoteStore: "disabled"}
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				resp.RemoteStore = "unreachable"
			} else {
				resp.RemoteStore = "ok"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
