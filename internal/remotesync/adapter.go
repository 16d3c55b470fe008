// Package remotesync はリモートテーブルストアとのベストエフォート同期を提供する。
//
// 作成とメモ更新はローカルが正で、リモートへは投げっぱなしで反映する（失敗はログのみ、再試行なし）。
// 削除のみリモートが正で、リモートの削除が成功した場合に限りローカルからも削除する。
// 全件取得の結果はローカルのコレクションを丸ごと置き換える。
//
// 同じハイクIDに対する操作は投入順に直列実行するため、アップロード直後に発行した削除は
// 必ずアップロードの後に実行される。
package remotesync

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/maks-bond/hike-coverage/internal/dispatch"
	"github.com/maks-bond/hike-coverage/internal/events"
	"github.com/maks-bond/hike-coverage/internal/metrics"
	"github.com/maks-bond/hike-coverage/internal/model"
	"github.com/maks-bond/hike-coverage/internal/repository"
)

// リモート操作名。メトリクスのラベルとログに使う。
const (
	OpPut    = "put"
	OpScan   = "scan"
	OpDelete = "delete"
)

var (
	// ErrSkipped は所有者名が未設定のため操作を行わなかったことを示す。エラーではなく無操作。
	ErrSkipped = errors.New("remotesync: owner identity is not set, operation skipped")
	// ErrFetchInFlight は全件取得がすでに実行中であることを示す。
	ErrFetchInFlight = errors.New("remotesync: fetch already in flight")
)

// OwnerSource は所有者名の取得元。identity.Providerが実装する。
type OwnerSource interface {
	Name() string
}

// LocalStore はリモートの結果を反映するローカルストア。
// 呼び出しは常にPosterの実行コンテキスト上で行う。
type LocalStore interface {
	Replace(c model.Collection) error
	RemoveByID(id string) (bool, error)
}

// Poster は関数を単一の実行コンテキストに投入する。dispatch.Loopが実装する。
type Poster interface {
	Post(fn func()) bool
}

// Config はAdapterの設定。
type Config struct {
	// Timeout は1回のリモート呼び出しの上限時間。
	Timeout time.Duration
	// RateLimit は1秒あたりのリモート呼び出し数の上限。0以下で無制限。
	RateLimit float64
}

// Adapter はリモートストアとの同期アダプタ。
type Adapter struct {
	repo      repository.RemoteHikeRepository
	owner     OwnerSource
	local     LocalStore
	poster    Poster
	limiter   *rate.Limiter
	timeout   time.Duration
	queue     *keyedQueue
	fetching  atomic.Bool
	metrics   metrics.MetricsCollector
	publisher events.Publisher
	logger    *slog.Logger
}

// NewAdapter は新しいAdapterを生成する。
// local への反映はすべて poster 経由で行う。
func NewAdapter(
	repo repository.RemoteHikeRepository,
	owner OwnerSource,
	local LocalStore,
	poster Poster,
	cfg Config,
	mc metrics.MetricsCollector,
	pub events.Publisher,
	logger *slog.Logger,
) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	return &Adapter{
		repo:      repo,
		owner:     owner,
		local:     local,
		poster:    poster,
		limiter:   rate.NewLimiter(limit, burst),
		timeout:   cfg.Timeout,
		queue:     newKeyedQueue(),
		metrics:   metrics.OrNop(mc),
		publisher: events.OrNop(pub),
		logger:    logger,
	}
}

// Owner は現在の所有者名を返す。
func (a *Adapter) Owner() string {
	return a.owner.Name()
}

// Upload はハイクをリモートに送信する。
// 呼び出し元をブロックせず、失敗はログとメトリクスにのみ残る。再試行は行わない。
func (a *Adapter) Upload(h model.Hike) {
	owner := a.owner.Name()
	if owner == "" {
		a.skip(OpPut, h.ID)
		return
	}

	rec := ToRecord(h, owner)
	a.queue.Enqueue(h.ID, func() {
		err := a.call(OpPut, func(ctx context.Context) error {
			return a.repo.Put(ctx, rec)
		})
		if err != nil {
			a.logger.Warn("remote upload failed",
				slog.String("hike_id", rec.HikeID),
				slog.String("error", model.NewRemoteFailureError(OpPut, err).Error()),
			)
			return
		}
		a.logger.Info("hike uploaded",
			slog.String("hike_id", rec.HikeID),
			slog.Int("location_bytes", len(rec.Location)),
		)
	})
}

// Fetch は所有者のハイクをリモートから取得して返す。ローカルには反映しない。
// 所有者名が未設定の場合はIDENTITY_NOT_SET、リモートの失敗はREMOTE_FAILUREを返す。
func (a *Adapter) Fetch(ctx context.Context) (model.Collection, error) {
	owner := a.owner.Name()
	if owner == "" {
		return nil, model.NewIdentityNotSetError()
	}

	var records []model.RemoteRecord
	err := a.callContext(ctx, OpScan, func(ctx context.Context) error {
		var err error
		records, err = a.repo.ScanByOwner(ctx, owner)
		return err
	})
	if err != nil {
		return nil, model.NewRemoteFailureError(OpScan, err)
	}

	hikes := make([]model.Hike, 0, len(records))
	for _, rec := range records {
		h, decoded := FromRecord(rec)
		if decoded.Skipped > 0 {
			a.metrics.RecordDecodeSkipped(decoded.Skipped)
			a.logger.Warn("dropped malformed track segments",
				slog.String("hike_id", h.ID),
				slog.String("error", model.NewDecodeSkippedError(h.ID, decoded.Skipped).Error()),
			)
		}
		if decoded.Mismatch() && len(h.Points) > 0 {
			a.logger.Info("track layout differs from stored version tag",
				slog.String("hike_id", h.ID),
				slog.String("declared", string(decoded.Declared)),
				slog.String("found", string(decoded.Version)),
			)
		}
		hikes = append(hikes, h)
	}

	return model.NormalizeCollection(hikes), nil
}

// FetchAll はバックグラウンドで全件取得し、成功した場合にローカルのコレクションを置き換える。
// 置き換えは実行コンテキスト上で行う。完了するまでは既存のローカルコレクションが見え続ける。
// 戻り値のチャネルには結果が1回だけ送られる（呼び出し元は無視してよい）。
func (a *Adapter) FetchAll(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	if a.owner.Name() == "" {
		a.skip(OpScan, "")
		done <- ErrSkipped
		return done
	}
	if !a.fetching.CompareAndSwap(false, true) {
		done <- ErrFetchInFlight
		return done
	}

	go func() {
		defer a.fetching.Store(false)

		hikes, err := a.Fetch(ctx)
		if err != nil {
			a.logger.Warn("remote fetch failed, keeping local collection",
				slog.String("error", err.Error()),
			)
			done <- err
			return
		}

		posted := a.poster.Post(func() {
			if err := a.local.Replace(hikes); err != nil {
				// メモリ上は置き換え済み
				a.logger.Error("failed to persist fetched hikes", slog.String("error", err.Error()))
			}
			a.publisher.Publish(model.ChangeEvent{Kind: model.ChangeCollectionReplaced, At: time.Now()})
			a.logger.Info("local collection replaced from remote", slog.Int("hikes", len(hikes)))
			done <- nil
		})
		if !posted {
			done <- dispatch.ErrClosed
		}
	}()

	return done
}

// Delete はリモートのレコードを削除し、成功した場合のみローカルからも削除する。
// リモートの削除に失敗した場合、ローカルのハイクは残る。
// 戻り値のチャネルには結果が1回だけ送られる（呼び出し元は無視してよい）。
func (a *Adapter) Delete(hikeID string) <-chan error {
	done := make(chan error, 1)

	if a.owner.Name() == "" {
		a.skip(OpDelete, hikeID)
		done <- ErrSkipped
		return done
	}

	enqueued := a.queue.Enqueue(hikeID, func() {
		err := a.call(OpDelete, func(ctx context.Context) error {
			return a.repo.Delete(ctx, hikeID)
		})
		if err != nil {
			remoteErr := model.NewRemoteFailureError(OpDelete, err)
			a.logger.Warn("remote delete failed, keeping local hike",
				slog.String("hike_id", hikeID),
				slog.String("error", remoteErr.Error()),
			)
			done <- remoteErr
			return
		}

		posted := a.poster.Post(func() {
			removed, err := a.local.RemoveByID(hikeID)
			if removed {
				a.publisher.Publish(model.ChangeEvent{Kind: model.ChangeHikeRemoved, HikeID: hikeID, At: time.Now()})
			}
			// メモリ上では削除済みのため、保存失敗はログのみ
			if err != nil {
				a.logger.Error("failed to persist hike removal",
					slog.String("hike_id", hikeID),
					slog.String("error", err.Error()),
				)
			}
			done <- nil
		})
		if !posted {
			done <- dispatch.ErrClosed
		}
	})
	if !enqueued {
		done <- dispatch.ErrClosed
	}

	return done
}

// Wait は投入済みのアップロードと削除がすべて完了するまで待つ。
func (a *Adapter) Wait() {
	a.queue.Wait()
}

// Close は新しい操作の受け付けを止め、実行中の操作の完了を待つ。
func (a *Adapter) Close() {
	a.queue.Close()
}

// call はタイムアウト付きのコンテキストでリモート操作を実行する。
// 実行中のリモート呼び出しはキャンセルしない。
func (a *Adapter) call(op string, fn func(ctx context.Context) error) error {
	return a.callContext(context.Background(), op, fn)
}

func (a *Adapter) callContext(parent context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, a.timeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		a.metrics.RecordRemoteOperation(op, metrics.ResultFailure)
		return err
	}

	start := time.Now()
	err := fn(ctx)
	a.metrics.RecordRemoteLatency(op, time.Since(start))

	if err != nil {
		a.metrics.RecordRemoteOperation(op, metrics.ResultFailure)
		return err
	}
	a.metrics.RecordRemoteOperation(op, metrics.ResultSuccess)
	return nil
}

func (a *Adapter) skip(op, hikeID string) {
	a.metrics.RecordRemoteOperation(op, metrics.ResultSkipped)
	a.logger.Debug("remote operation skipped: owner identity not set",
		slog.String("op", op),
		slog.String("hike_id", hikeID),
	)
}
