// Package tracker は記録セッション、ローカルストア、リモート同期を1つの実行コンテキスト上で束ねる。
//
// コレクションと記録セッションの読み書きはすべてdispatch.Loop上で行うため、
// HTTPハンドラーなど複数のゴルーチンから安全に呼び出せる。
package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/maks-bond/hike-coverage/internal/dispatch"
	"github.com/maks-bond/hike-coverage/internal/events"
	"github.com/maks-bond/hike-coverage/internal/gpx"
	"github.com/maks-bond/hike-coverage/internal/metrics"
	"github.com/maks-bond/hike-coverage/internal/model"
	"github.com/maks-bond/hike-coverage/internal/recorder"
	"github.com/maks-bond/hike-coverage/internal/store"
)

// Syncer はリモート同期アダプタのインターフェース。remotesync.Adapterが実装する。
type Syncer interface {
	Owner() string
	Upload(h model.Hike)
	FetchAll(ctx context.Context) <-chan error
	Delete(hikeID string) <-chan error
}

// Identity は所有者名の取得と設定のインターフェース。identity.Providerが実装する。
type Identity interface {
	Name() string
	Set(name string) error
}

// Deps はServiceの依存関係。SyncはリモートストアがなければnilでよいBroker以外はすべて必須。
type Deps struct {
	Loop     *dispatch.Loop
	Store    *store.FileStore
	Identity Identity
	Sync     Syncer
	Broker   *events.Broker
	Metrics  metrics.MetricsCollector
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Status は記録セッションの状態。
type Status struct {
	State     recorder.State
	Current   *model.Hike
	LastKnown *model.HikePoint
}

// Service はハイク記録エンジンのファサード。
type Service struct {
	loop     *dispatch.Loop
	store    *store.FileStore
	identity Identity
	sync     Syncer
	broker   *events.Broker
	recorder *recorder.Recorder
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	clock    func() time.Time
}

// New は新しいServiceを生成する。
func New(deps Deps) *Service {
	s := &Service{
		loop:     deps.Loop,
		store:    deps.Store,
		identity: deps.Identity,
		sync:     deps.Sync,
		broker:   deps.Broker,
		metrics:  metrics.OrNop(deps.Metrics),
		logger:   deps.Logger,
		clock:    deps.Clock,
	}
	if s.broker == nil {
		s.broker = events.NewBroker()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	opts := recorder.Options{
		Publisher: s.broker,
		Metrics:   s.metrics,
		Logger:    s.logger,
		Clock:     s.clock,
	}
	if s.sync != nil {
		opts.Uploader = s.sync
	}
	s.recorder = recorder.New(s.store, opts)

	return s
}

// SyncEnabled はリモート同期が設定されているかどうかを返す。
func (s *Service) SyncEnabled() bool {
	return s.sync != nil
}

// Load はローカルストアからコレクションを読み込む。
// fetchRemoteがtrueでリモート同期が使える場合は、続けてバックグラウンドで全件取得を開始する。
func (s *Service) Load(ctx context.Context, fetchRemote bool) error {
	var n int
	err := s.loop.Do(ctx, func() {
		n = len(s.store.Load())
		s.publish(model.ChangeCollectionReplaced, "")
	})
	if err != nil {
		return err
	}
	s.logger.Info("local hikes loaded", slog.Int("hikes", n))

	if fetchRemote && s.sync != nil {
		s.sync.FetchAll(ctx)
	}
	return nil
}

// StartRecording は新しいハイクの記録を開始する。
func (s *Service) StartRecording(ctx context.Context) (model.Hike, error) {
	var (
		h      model.Hike
		recErr error
	)
	if err := s.loop.Do(ctx, func() { h, recErr = s.recorder.Start() }); err != nil {
		return model.Hike{}, err
	}
	return h, recErr
}

// RecordSample は位置サンプルを1件記録セッションに渡す。
func (s *Service) RecordSample(ctx context.Context, p model.HikePoint) (bool, error) {
	n, err := s.RecordSamples(ctx, []model.HikePoint{p})
	return n == 1, err
}

// RecordSamples は位置サンプルを受信順に記録セッションに渡す。
// 戻り値は記録中のハイクに追加したポイント数（Idleの場合は0）。
func (s *Service) RecordSamples(ctx context.Context, samples []model.HikePoint) (int, error) {
	var appended int
	err := s.loop.Do(ctx, func() {
		for _, p := range samples {
			if s.recorder.OnSample(p) {
				appended++
			}
		}
	})
	return appended, err
}

// StopRecording は記録を終了する。Idleの場合はfalseを返す（エラーではない）。
func (s *Service) StopRecording(ctx context.Context) (model.Hike, bool, error) {
	var (
		h       model.Hike
		stopped bool
	)
	if err := s.loop.Do(ctx, func() { h, stopped = s.recorder.Stop() }); err != nil {
		return model.Hike{}, false, err
	}
	return h, stopped, nil
}

// Status は記録セッションの状態を返す。
func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.loop.Do(ctx, func() {
		st.State = s.recorder.State()
		if h, ok := s.recorder.Current(); ok {
			st.Current = &h
		}
		if p, ok := s.recorder.LastKnownLocation(); ok {
			st.LastKnown = &p
		}
	})
	return st, err
}

// Hikes はコレクションのコピーを新しい順に返す。
func (s *Service) Hikes(ctx context.Context) (model.Collection, error) {
	var out model.Collection
	err := s.loop.Do(ctx, func() { out = s.store.Hikes() })
	return out, err
}

// Hike は指定IDのハイクを返す。見つからない場合はHIKE_NOT_FOUNDを返す。
func (s *Service) Hike(ctx context.Context, id string) (model.Hike, error) {
	var (
		h     model.Hike
		found bool
	)
	if err := s.loop.Do(ctx, func() {
		h, found = s.store.Find(id)
		if found {
			h = h.Clone()
		}
	}); err != nil {
		return model.Hike{}, err
	}
	if !found {
		return model.Hike{}, model.NewHikeNotFoundError(id)
	}
	return h, nil
}

// UpdateNotes は指定IDのハイクのメモを更新し、リモートにも反映する（ベストエフォート）。
// 未知のIDの場合はコレクションを変更せずHIKE_NOT_FOUNDを返す。
func (s *Service) UpdateNotes(ctx context.Context, id, notes string) (model.Hike, error) {
	var (
		h     model.Hike
		found bool
	)
	err := s.loop.Do(ctx, func() {
		var saveErr error
		found, saveErr = s.store.UpdateNotes(id, notes)
		if !found {
			return
		}
		if saveErr != nil {
			s.logger.Error("failed to persist notes update",
				slog.String("hike_id", id),
				slog.String("error", saveErr.Error()),
			)
		}
		h, _ = s.store.Find(id)
		h = h.Clone()
		s.publish(model.ChangeNotesUpdated, id)
		if s.sync != nil {
			s.sync.Upload(h.Clone())
		}
	})
	if err != nil {
		return model.Hike{}, err
	}
	if !found {
		return model.Hike{}, model.NewHikeNotFoundError(id)
	}
	return h, nil
}

// DeleteHike はハイクを削除する。
// リモート同期が有効で所有者名が設定されている場合はリモートの削除が成功した後にのみローカルから削除し、
// リモートの失敗はREMOTE_FAILUREとして返す（ローカルのハイクは残る）。
// それ以外の場合はローカルのみから削除する。
func (s *Service) DeleteHike(ctx context.Context, id string) error {
	var found bool
	if err := s.loop.Do(ctx, func() { _, found = s.store.Find(id) }); err != nil {
		return err
	}
	if !found {
		return model.NewHikeNotFoundError(id)
	}

	if s.sync == nil || s.sync.Owner() == "" {
		return s.deleteLocal(ctx, id)
	}

	// 結果はループ外で待つ（ローカルからの削除はループ上で行われる）
	select {
	case err := <-s.sync.Delete(id):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) deleteLocal(ctx context.Context, id string) error {
	var (
		removed bool
		saveErr error
	)
	if err := s.loop.Do(ctx, func() {
		removed, saveErr = s.store.RemoveByID(id)
		if removed {
			s.publish(model.ChangeHikeRemoved, id)
		}
	}); err != nil {
		return err
	}
	if !removed {
		return model.NewHikeNotFoundError(id)
	}
	if saveErr != nil {
		s.logger.Error("failed to persist hike removal",
			slog.String("hike_id", id),
			slog.String("error", saveErr.Error()),
		)
	}
	return nil
}

// Refresh はリモートからの全件取得をバックグラウンドで開始する。
// 戻り値のチャネルで完了を待てる。リモート同期が無効の場合はSYNC_DISABLED、
// 所有者名が未設定の場合はIDENTITY_NOT_SETを返す。
func (s *Service) Refresh(ctx context.Context) (<-chan error, error) {
	if s.sync == nil {
		return nil, model.NewSyncDisabledError()
	}
	if s.sync.Owner() == "" {
		return nil, model.NewIdentityNotSetError()
	}
	// リクエストのコンテキストが終わっても取得は続ける
	return s.sync.FetchAll(context.WithoutCancel(ctx)), nil
}

// Owner は所有者名を返す。未設定の場合は空文字列。
func (s *Service) Owner() string {
	return s.identity.Name()
}

// SetOwner は所有者名を一度だけ設定する。
// リモート同期が有効な場合は、設定後にその所有者のハイクをバックグラウンドで取得する。
func (s *Service) SetOwner(ctx context.Context, name string) error {
	if err := s.identity.Set(name); err != nil {
		return err
	}
	if s.sync != nil {
		s.sync.FetchAll(context.WithoutCancel(ctx))
	}
	return nil
}

// ImportGPX はGPX文書を新しいハイクとして取り込み、開始日時の順序に従って追加する。
func (s *Service) ImportGPX(ctx context.Context, r io.Reader, notes string) (model.Hike, error) {
	h, err := gpx.Import(r, s.clock())
	if err != nil {
		return model.Hike{}, err
	}
	h.Notes = notes

	err = s.loop.Do(ctx, func() {
		if saveErr := s.store.InsertSorted(h); saveErr != nil {
			s.logger.Error("failed to persist imported hike",
				slog.String("hike_id", h.ID),
				slog.String("error", saveErr.Error()),
			)
		}
		s.publish(model.ChangeHikeAdded, h.ID)
		if s.sync != nil {
			s.sync.Upload(h.Clone())
		}
	})
	if err != nil {
		return model.Hike{}, err
	}

	s.logger.Info("gpx imported",
		slog.String("hike_id", h.ID),
		slog.Int("points", len(h.Points)),
	)
	return h, nil
}

// ExportGPX は指定IDのハイクをGPX文書とファイル名に変換する。
func (s *Service) ExportGPX(ctx context.Context, id string) ([]byte, string, error) {
	h, err := s.Hike(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := gpx.Export(h)
	if err != nil {
		return nil, "", err
	}
	return data, gpx.FileName(h), nil
}

// Subscribe は変更イベントの購読チャネルと購読解除関数を返す。
func (s *Service) Subscribe(buffer int) (<-chan model.ChangeEvent, func()) {
	return s.broker.Subscribe(buffer)
}

func (s *Service) publish(kind model.ChangeKind, hikeID string) {
	s.broker.Publish(model.ChangeEvent{Kind: kind, HikeID: hikeID, At: s.clock()})
}

// IsNotFound はerrがHIKE_NOT_FOUNDかどうかを返す。
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrHikeNotFound)
}
