package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/maks-bond/hike-coverage/internal/config"
	"github.com/maks-bond/hike-coverage/internal/database"
	"github.com/maks-bond/hike-coverage/internal/dispatch"
	"github.com/maks-bond/hike-coverage/internal/events"
	"github.com/maks-bond/hike-coverage/internal/gpx"
	"github.com/maks-bond/hike-coverage/internal/handler"
	"github.com/maks-bond/hike-coverage/internal/identity"
	"github.com/maks-bond/hike-coverage/internal/logger"
	"github.com/maks-bond/hike-coverage/internal/metrics"
	"github.com/maks-bond/hike-coverage/internal/middleware"
	"github.com/maks-bond/hike-coverage/internal/model"
	"github.com/maks-bond/hike-coverage/internal/remotesync"
	"github.com/maks-bond/hike-coverage/internal/repository"
	"github.com/maks-bond/hike-coverage/internal/security"
	"github.com/maks-bond/hike-coverage/internal/store"
	"github.com/maks-bond/hike-coverage/internal/tracker"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		// 設定エラーもJSONログで出せるようにinfoレベルでセットアップしておく
		logger.SetupDefault(w, slog.LevelInfo)
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.SetupDefault(w, slog.LevelInfo)
		return nil, nil, err
	}

	return cfg, logger.SetupDefault(w, level), nil
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

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("data_dir", cfg.DataDir),
		slog.Bool("remote_sync", cfg.SyncEnabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rest := commandArgs(args)
	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, log)
	case CommandExport:
		if len(rest) < 1 {
			return errors.New("usage: export <dir>")
		}
		return runExport(ctx, cfg, log, rest[0])
	case CommandImport:
		if len(rest) < 1 {
			return errors.New("usage: import <file.gpx> [notes]")
		}
		notes := ""
		if len(rest) > 1 {
			notes = rest[1]
		}
		return runImport(ctx, cfg, log, rest[0], notes)
	default:
		return runServe(ctx, cfg, log)
	}
}

// runtime はサブコマンド間で共有するコンポーネント一式。
type runtime struct {
	loop     *dispatch.Loop
	store    *store.FileStore
	identity *identity.Provider
	broker   *events.Broker
	registry *prometheus.Registry
	metrics  *metrics.Collector
	db       *sql.DB
	adapter  *remotesync.Adapter
	service  *tracker.Service

	cancelLoop context.CancelFunc
}

// newRuntime はローカルストア、実行コンテキスト、（設定されていれば）リモート同期を組み立てる。
// 戻り値のruntimeは使い終わったらcloseすること。
func newRuntime(cfg *config.Config, log *slog.Logger) (*runtime, error) {
	rt := &runtime{
		loop:     dispatch.NewLoop(256),
		identity: identity.Load(cfg.IdentityFile, log),
		broker:   events.NewBroker(),
		registry: prometheus.NewRegistry(),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = metrics.NewCollector(rt.registry)
	metrics.RegisterEventSubscribers(rt.registry, rt.broker.Subscribers)
	rt.store = store.NewFileStore(cfg.HikesFile, log, rt.metrics)

	loopCtx, cancel := context.WithCancel(context.Background())
	rt.cancelLoop = cancel
	go rt.loop.Run(loopCtx)

	deps := tracker.Deps{
		Loop:     rt.loop,
		Store:    rt.store,
		Identity: rt.identity,
		Broker:   rt.broker,
		Metrics:  rt.metrics,
		Logger:   log,
	}

	if cfg.SyncEnabled() {
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		rt.db = db
		rt.adapter = remotesync.NewAdapter(
			repository.NewSQLHikeRepo(db),
			rt.identity,
			rt.store,
			rt.loop,
			remotesync.Config{Timeout: cfg.RemoteTimeout, RateLimit: cfg.RemoteRateLimit},
			rt.metrics,
			rt.broker,
			log,
		)
		// Syncはリモート同期が有効な場合のみ設定する
		deps.Sync = rt.adapter
	}

	rt.service = tracker.New(deps)
	return rt, nil
}

// close は投入済みのリモート操作の完了を待ってから全コンポーネントを停止する。
func (rt *runtime) close() {
	if rt.adapter != nil {
		rt.adapter.Close()
	}
	rt.broker.Close()
	rt.cancelLoop()
	<-rt.loop.Done()
	if rt.db != nil {
		rt.db.Close()
	}
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	rt, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rt.db.PingContext(pingCtx); err != nil {
			// リモートストアに届かなくても記録はできるため起動は続ける
			log.Warn("remote store is unreachable", slog.String("error", err.Error()))
		} else {
			log.Info("remote store connection established")
		}
		cancel()
	}

	if err := rt.service.Load(ctx, cfg.FetchOnStart); err != nil {
		return fmt.Errorf("failed to load hikes: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSamples),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            log,
		Metrics:           rt.metrics,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Service:           rt.service,
		Sanitizer:         security.NewNotesSanitizer(),
		MetricsHandler:    metrics.Handler(rt.registry),
		SyncWaitTimeout:   cfg.SyncWaitTimeout,
	}
	if rt.db != nil {
		deps.HealthChecker = rt.db
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// イベント配信は長時間接続のためWriteTimeoutなし
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down API server...")

	// イベント配信の接続を終わらせてからShutdownする
	rt.broker.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runMigrate はリモートストアのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if !cfg.SyncEnabled() {
		return errors.New("DATABASE_URL is required for migrate")
	}

	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	res, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(res.Before)),
		slog.Uint64("to_version", uint64(res.After)),
		slog.Bool("applied", res.Applied()),
	)
	return nil
}

// runExport は所有者のハイクをリモートから取得し、dirにGPXファイルとして書き出す。
// 距離が0のハイク（ポイントが1つ以下など）は書き出さない。
func runExport(ctx context.Context, cfg *config.Config, log *slog.Logger, dir string) error {
	rt, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.adapter == nil {
		return model.NewSyncDisabledError()
	}

	hikes, err := rt.adapter.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch hikes: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	written, skipped := 0, 0
	for _, h := range hikes {
		if h.DistanceKm() <= 0 {
			skipped++
			continue
		}
		data, err := gpx.Export(h)
		if err != nil {
			return fmt.Errorf("failed to export hike %s: %w", h.ID, err)
		}
		path := filepath.Join(dir, gpx.FileName(h))
		if err := store.WriteFileAtomic(path, data); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		written++
		log.Info("hike exported",
			slog.String("hike_id", h.ID),
			slog.String("path", path),
		)
	}

	log.Info("export completed",
		slog.String("owner", rt.adapter.Owner()),
		slog.Int("written", written),
		slog.Int("skipped", skipped),
	)
	return nil
}

// runImport はGPXファイルを新しいハイクとしてローカルに取り込み、リモート同期が有効ならアップロードする。
func runImport(ctx context.Context, cfg *config.Config, log *slog.Logger, path, notes string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rt, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.service.Load(ctx, false); err != nil {
		return fmt.Errorf("failed to load hikes: %w", err)
	}

	h, err := rt.service.ImportGPX(ctx, f, notes)
	if err != nil {
		return fmt.Errorf("failed to import %s: %w", path, err)
	}

	// アップロードは投げっぱなしのため、プロセス終了前に完了を待つ
	if rt.adapter != nil {
		rt.adapter.Wait()
	}

	log.Info("hike imported",
		slog.String("hike_id", h.ID),
		slog.String("name", h.Name()),
		slog.Int("points", len(h.Points)),
		slog.Float64("distance_km", h.DistanceKm()),
	)
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
