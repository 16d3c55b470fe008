package model

import "time"

// RemoteRecord はリモートテーブルの1行（1ハイク）を表す。
// 属性名はテーブルのカラム名と一致させている。
type RemoteRecord struct {
	HikeID    string  // hike_id: プライマリキー
	UserUUID  string  // user_uuid: 所有者名（デバイスIDではない）
	HikeName  string  // hike_name: 表示名
	StartTime int64   // start_time: エポック秒
	Distance  float64 // distance: km
	Notes     string  // notes
	Location  string  // location: トラックコーデックでエンコードしたポイント列
	Version   string  // version: "v1" または "v2"
}

// StartedAt はStartTimeをUTCのtime.Timeとして返す。
func (r RemoteRecord) StartedAt() time.Time {
	return time.Unix(r.StartTime, 0).UTC()
}

// ChangeKind はコレクションまたはセッションの変更種別。
type ChangeKind string

const (
	ChangeRecordingStarted   ChangeKind = "recording_started"
	ChangeSampleRecorded     ChangeKind = "sample_recorded"
	ChangeRecordingStopped   ChangeKind = "recording_stopped"
	ChangeHikeAdded          ChangeKind = "hike_added"
	ChangeNotesUpdated       ChangeKind = "notes_updated"
	ChangeHikeRemoved        ChangeKind = "hike_removed"
	ChangeCollectionReplaced ChangeKind = "collection_replaced"
)

// ChangeEvent は変更操作ごとに発行されるイベント。
type ChangeEvent struct {
	Kind   ChangeKind `json:"kind"`
	HikeID string     `json:"hike_id,omitempty"`
	At     time.Time  `json:"at"`
}
