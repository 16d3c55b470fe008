// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/maks-bond/hike-coverage/internal/geo"
)

// SchemaVersion はトラックのエンコード形式を表すタグ。
// 記録処理には影響せず、エンコード/デコードのみを左右する。
type SchemaVersion string

const (
	// SchemaV1 は座標のみの形式（"lat,lon"）。
	SchemaV1 SchemaVersion = "v1"
	// SchemaV2 は座標と取得時刻の形式（"lat,lon|epochSeconds"）。
	SchemaV2 SchemaVersion = "v2"
)

// ParseSchemaVersion は文字列のバージョンタグを解釈する。
// タグがない場合はバージョン導入前のデータとしてSchemaV1を返す。
// 未知のタグの場合はSchemaV1とfalseを返す。
func ParseSchemaVersion(s string) (SchemaVersion, bool) {
	switch SchemaVersion(s) {
	case SchemaV1, "":
		return SchemaV1, true
	case SchemaV2:
		return SchemaV2, true
	default:
		return SchemaV1, false
	}
}

// HikePoint は1件のGPSサンプルを表す。生成後は変更しない。
// CapturedAtはv1のデータでは存在しない（nil）。
type HikePoint struct {
	Latitude   float64
	Longitude  float64
	CapturedAt *time.Time
}

// NewHikePoint は取得時刻付きのHikePointを生成する。
func NewHikePoint(lat, lon float64, capturedAt time.Time) HikePoint {
	t := capturedAt
	return HikePoint{Latitude: lat, Longitude: lon, CapturedAt: &t}
}

// HasTime は取得時刻を持つかどうかを返す。
func (p HikePoint) HasTime() bool {
	return p.CapturedAt != nil
}

// Hike は1回分の記録セッションを表す。
type Hike struct {
	ID            string
	StartedAt     time.Time
	Points        []HikePoint // 挿入順 = 時系列順
	Notes         string
	SchemaVersion SchemaVersion
}

// NewHike は空のv2ハイクを生成する。
func NewHike(id string, startedAt time.Time) Hike {
	return Hike{
		ID:            id,
		StartedAt:     startedAt,
		Points:        []HikePoint{},
		SchemaVersion: SchemaV2,
	}
}

// Clone はポイント列を含めたディープコピーを返す。
// 2つの所有者が同じスライスを共有しないようにするために使う。
func (h Hike) Clone() Hike {
	out := h
	out.Points = make([]HikePoint, len(h.Points))
	for i, p := range h.Points {
		out.Points[i] = p
		if p.CapturedAt != nil {
			t := *p.CapturedAt
			out.Points[i].CapturedAt = &t
		}
	}
	return out
}

// Name はリモートレコードおよびGPXで使う表示名を返す。
func (h Hike) Name() string {
	return "Hike on " + h.StartedAt.Format("2006-01-02 15:04:05 -0700")
}

// DistanceKm は連続するポイント間の大円距離の合計（km）を返す。
func (h Hike) DistanceKm() float64 {
	total := 0.0
	for i := 1; i < len(h.Points); i++ {
		prev, cur := h.Points[i-1], h.Points[i]
		total += geo.HaversineKm(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
	}
	return total
}

// Duration は開始時刻から最後のポイントの取得時刻までの経過時間を返す。
// 取得時刻が不明な場合は0を返す。
func (h Hike) Duration() time.Duration {
	if len(h.Points) == 0 {
		return 0
	}
	last := h.Points[len(h.Points)-1]
	if last.CapturedAt == nil || last.CapturedAt.Before(h.StartedAt) {
		return 0
	}
	return last.CapturedAt.Sub(h.StartedAt)
}
