package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/maks-bond/hike-coverage/internal/model"
	"github.com/maks-bond/hike-coverage/internal/track"
)

// referenceDate は旧アプリの日付表現（2001-01-01 UTCからの経過秒）の基準時刻。
var referenceDate = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// fileDate はファイル上の日時。
// 読み込みは基準日からの経過秒（数値）とRFC 3339文字列の両方を受け付け、書き込みはRFC 3339で行う。
type fileDate struct {
	time.Time
}

func (d fileDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time.UTC().Format(time.RFC3339Nano))
}

func (d *fileDate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", s, err)
		}
		d.Time = t
		return nil
	}

	sec, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid date %s: %w", data, err)
	}
	whole := math.Floor(sec)
	frac := time.Duration(math.Round((sec - whole) * float64(time.Second)))
	d.Time = referenceDate.Add(time.Duration(whole)*time.Second + frac)
	return nil
}

type fileCoordinate struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp *fileDate `json:"timestamp,omitempty"`
}

type fileHike struct {
	ID          string           `json:"id"`
	Date        fileDate         `json:"date"`
	Notes       string           `json:"notes"`
	Coordinates []fileCoordinate `json:"coordinates"`
	Version     string           `json:"version,omitempty"`
}

// decodeFile はファイル内容をハイク列に変換する。
// migratedはバージョンタグを持たないエントリ（v1時代のデータ）が含まれていたかどうか。
func decodeFile(data []byte) (hikes []model.Hike, migrated bool, err error) {
	var entries []fileHike
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false, err
	}

	hikes = make([]model.Hike, 0, len(entries))
	for _, e := range entries {
		h := model.Hike{
			ID:        e.ID,
			StartedAt: e.Date.Time,
			Notes:     e.Notes,
			Points:    make([]model.HikePoint, 0, len(e.Coordinates)),
		}
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		for _, c := range e.Coordinates {
			p := model.HikePoint{Latitude: c.Latitude, Longitude: c.Longitude}
			if c.Timestamp != nil {
				t := c.Timestamp.Time
				p.CapturedAt = &t
			}
			h.Points = append(h.Points, p)
		}

		version, known := model.ParseSchemaVersion(e.Version)
		if e.Version == "" || !known {
			migrated = true
			version = track.VersionFor(h.Points)
		}
		h.SchemaVersion = version

		hikes = append(hikes, h)
	}

	return hikes, migrated, nil
}

// encodeFile はハイク列をファイル内容に変換する。
func encodeFile(hikes model.Collection) ([]byte, error) {
	entries := make([]fileHike, 0, len(hikes))
	for _, h := range hikes {
		e := fileHike{
			ID:          h.ID,
			Date:        fileDate{h.StartedAt},
			Notes:       h.Notes,
			Coordinates: make([]fileCoordinate, 0, len(h.Points)),
			Version:     string(h.SchemaVersion),
		}
		if e.Version == "" {
			e.Version = string(track.VersionFor(h.Points))
		}
		for _, p := range h.Points {
			c := fileCoordinate{Latitude: p.Latitude, Longitude: p.Longitude}
			if p.CapturedAt != nil {
				c.Timestamp = &fileDate{*p.CapturedAt}
			}
			e.Coordinates = append(e.Coordinates, c)
		}
		entries = append(entries, e)
	}

	return json.MarshalIndent(entries, "", "  ")
}
