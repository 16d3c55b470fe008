package remotesync

import (
	"github.com/maks-bond/hike-coverage/internal/model"
	"github.com/maks-bond/hike-coverage/internal/track"
)

// ToRecord はハイクをリモートテーブルの行に変換する。
// ポイント列はトラックコーデックでエンコードした1つの文字列になる。
func ToRecord(h model.Hike, owner string) model.RemoteRecord {
	return model.RemoteRecord{
		HikeID:    h.ID,
		UserUUID:  owner,
		HikeName:  h.Name(),
		StartTime: h.StartedAt.Unix(),
		Distance:  h.DistanceKm(),
		Notes:     h.Notes,
		Location:  track.Encode(h.Points),
		Version:   string(track.VersionFor(h.Points)),
	}
}

// FromRecord はリモートテーブルの行をハイクに変換する。
// 解釈できないセグメントは読み飛ばし、その件数をDecoded.Skippedで返す。
func FromRecord(rec model.RemoteRecord) (model.Hike, track.Decoded) {
	decoded := track.Decode(rec.Location, model.SchemaVersion(rec.Version))

	h := model.Hike{
		ID:            rec.HikeID,
		StartedAt:     rec.StartedAt(),
		Points:        decoded.Points,
		Notes:         rec.Notes,
		SchemaVersion: decoded.Version,
	}
	// ポイントのない文字列からはレイアウトを判定できない
	if len(h.Points) == 0 {
		h.SchemaVersion = decoded.Declared
	}
	return h, decoded
}
