// Package recorder はハイク記録セッションの状態機械を提供する。
//
// 状態はIdleとRecordingの2つで、初期状態はIdle。
// Recorderはロックを持たない。位置サンプルの配信を含むすべての呼び出しは
// 単一の実行コンテキスト（dispatch.Loop）から行うこと。
package recorder

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maks-bond/hike-coverage/internal/events"
	"github.com/maks-bond/hike-coverage/internal/metrics"
	"github.com/maks-bond/hike-coverage/internal/model"
)

// State は記録セッションの状態。
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// HikeSink は完了したハイクの保存先（ローカルストア）。
type HikeSink interface {
	InsertAtFront(h model.Hike) error
}

// Uploader は完了したハイクのリモートへの送信先。
// 送信は投げっぱなしで、結果は呼び出し元に返さない。
type Uploader interface {
	Upload(h model.Hike)
}

// Options はRecorderの任意の依存関係。
type Options struct {
	Uploader  Uploader
	Publisher events.Publisher
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
	Clock     func() time.Time
	NewID     func() string
}

// Recorder は記録セッションの状態機械。
type Recorder struct {
	sink      HikeSink
	uploader  Uploader
	publisher events.Publisher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	clock     func() time.Time
	newID     func() string

	state        State
	current      *model.Hike
	lastKnown    model.HikePoint
	hasLastKnown bool
}

// New は新しいRecorderを生成する。sinkは必須。
func New(sink HikeSink, opts Options) *Recorder {
	r := &Recorder{
		sink:      sink,
		uploader:  opts.Uploader,
		publisher: events.OrNop(opts.Publisher),
		metrics:   metrics.OrNop(opts.Metrics),
		logger:    opts.Logger,
		clock:     opts.Clock,
		newID:     opts.NewID,
		state:     StateIdle,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// State は現在の状態を返す。
func (r *Recorder) State() State {
	return r.state
}

// IsRecording は記録中かどうかを返す。
func (r *Recorder) IsRecording() bool {
	return r.state == StateRecording
}

// Current は記録中のハイクのコピーを返す。Idleの場合はfalse。
func (r *Recorder) Current() (model.Hike, bool) {
	if r.current == nil {
		return model.Hike{}, false
	}
	return r.current.Clone(), true
}

// LastKnownLocation は最後に受信した位置を返す。状態に関わらず更新される。
func (r *Recorder) LastKnownLocation() (model.HikePoint, bool) {
	return r.lastKnown, r.hasLastKnown
}

// Start は新しいハイクの記録を開始する。
// 記録中に呼び出した場合は記録中のポイントを失わないよう、再開始せずINVALID_STATEを返す。
func (r *Recorder) Start() (model.Hike, error) {
	if r.state == StateRecording {
		return model.Hike{}, model.NewAlreadyRecordingError(r.current.ID)
	}

	h := model.NewHike(r.newID(), r.clock())
	r.current = &h
	r.state = StateRecording

	r.logger.Info("recording started", slog.String("hike_id", h.ID))
	r.publish(model.ChangeRecordingStarted, h.ID)
	return h.Clone(), nil
}

// OnSample は位置サンプルを受け取る。
// 最後の既知位置は常に更新し、記録中の場合のみハイクにポイントを追加する。
// 取得時刻のないサンプルには受信時刻を付与する。
// 戻り値はポイントを追加したかどうか。
func (r *Recorder) OnSample(p model.HikePoint) bool {
	if !p.HasTime() {
		p = model.NewHikePoint(p.Latitude, p.Longitude, r.clock())
	}
	r.lastKnown = p
	r.hasLastKnown = true

	if r.state != StateRecording {
		return false
	}

	r.current.Points = append(r.current.Points, p)
	r.metrics.RecordSamples(1)
	r.publish(model.ChangeSampleRecorded, r.current.ID)
	return true
}

// Stop は記録を終了し、完了したハイクをローカルストアに追加する。
// アップロード先が設定されていればリモートにも送信する（失敗は呼び出し元に返らない）。
// Idleで呼び出した場合は何もせずfalseを返す。
func (r *Recorder) Stop() (model.Hike, bool) {
	if r.state != StateRecording {
		return model.Hike{}, false
	}

	h := *r.current
	r.current = nil
	r.state = StateIdle

	r.logger.Info("recording stopped",
		slog.String("hike_id", h.ID),
		slog.Int("points", len(h.Points)),
	)
	r.metrics.RecordHikeRecorded()
	r.publish(model.ChangeRecordingStopped, h.ID)

	if err := r.sink.InsertAtFront(h.Clone()); err != nil {
		// メモリ上のコレクションには追加済み
		r.logger.Error("failed to persist recorded hike",
			slog.String("hike_id", h.ID),
			slog.String("error", err.Error()),
		)
	}
	r.publish(model.ChangeHikeAdded, h.ID)

	if r.uploader != nil {
		r.uploader.Upload(h.Clone())
	}

	return h, true
}

func (r *Recorder) publish(kind model.ChangeKind, hikeID string) {
	r.publisher.Publish(model.ChangeEvent{Kind: kind, HikeID: hikeID, At: r.clock()})
}
