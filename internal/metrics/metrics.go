// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// リモート操作の結果ラベル。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 記録エンジン、ストア、同期アダプタ、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordHikeRecorded()
	RecordSamples(count int)
	RecordDecodeSkipped(count int)
	RecordPersistenceFailure()
	RecordRemoteOperation(op, result string)
	RecordRemoteLatency(op string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	hikesRecorded       prometheus.Counter
	samples             prometheus.Counter
	decodeSkipped       prometheus.Counter
	persistenceFailures prometheus.Counter
	remoteOps           *prometheus.CounterVec
	remoteLatency       *prometheus.HistogramVec
	httpStatus          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		hikesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hikecoverage_hikes_recorded_total",
			Help: "記録を完了したハイクの合計数",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hikecoverage_samples_total",
			Help: "受信した位置サンプルの合計数",
		}),
		decodeSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hikecoverage_decode_skipped_total",
			Help: "デコード時に読み飛ばした不正セグメントの合計数",
		}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hikecoverage_persistence_failures_total",
			Help: "ローカルストアへの保存失敗の合計数",
		}),
		remoteOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hikecoverage_remote_operations_total",
			Help: "リモートストア操作の合計数（操作・結果別）",
		}, []string{"op", "result"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hikecoverage_remote_latency_seconds",
			Help:    "リモートストア操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hikecoverage_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.hikesRecorded,
		c.samples,
		c.decodeSkipped,
		c.persistenceFailures,
		c.remoteOps,
		c.remoteLatency,
		c.httpStatus,
	)

	return c
}

// RecordHikeRecorded は記録完了を記録する。
func (c *Collector) RecordHikeRecorded() {
	c.hikesRecorded.Inc()
}

// RecordSamples は受信したサンプル数を記録する。
func (c *Collector) RecordSamples(count int) {
	c.samples.Add(float64(count))
}

// RecordDecodeSkipped は読み飛ばしたセグメント数を記録する。
func (c *Collector) RecordDecodeSkipped(count int) {
	if count <= 0 {
		return
	}
	c.decodeSkipped.Add(float64(count))
}

// RecordPersistenceFailure はローカル保存の失敗を記録する。
func (c *Collector) RecordPersistenceFailure() {
	c.persistenceFailures.Inc()
}

// RecordRemoteOperation はリモート操作の結果を記録する。
func (c *Collector) RecordRemoteOperation(op, result string) {
	c.remoteOps.WithLabelValues(op, result).Inc()
}

// RecordRemoteLatency はリモート操作のレイテンシを記録する。
func (c *Collector) RecordRemoteLatency(op string, duration time.Duration) {
	c.remoteLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。
// コレクタを渡されなかったコンポーネントとテストで使う。
type Nop struct{}

func (Nop) RecordHikeRecorded() {}
func (Nop) RecordSamples(int) {}
func (Nop) RecordDecodeSkipped(int) {}
func (Nop) RecordPersistenceFailure() {}
func (Nop) RecordRemoteOperation(string, string) {}
func (Nop) RecordRemoteLatency(string, time.Duration) {}
func (Nop) RecordHTTPStatus(int) {}

// OrNop はcがnilの場合にNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop{}
	}
	return c
}

// RegisterEventSubscribers はイベント配信の購読者数をスクレイプ時に読み取るゲージを登録する。
func RegisterEventSubscribers(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hikecoverage_event_subscribers",
		Help: "変更イベントを購読中のクライアント数",
	}, func() float64 {
		return float64(count())
	}))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
