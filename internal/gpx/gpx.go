// Package gpx はハイクとGPX 1.1ファイルの相互変換を提供する。
//
// エクスポートでは取得時刻のないv1のポイントに、時速3.5マイルで歩いた場合の時刻を補完する。
// インポートでは全トラック・全セグメントのポイントを1つのハイクにまとめる。
package gpx

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	gpxgo "github.com/tkrajina/gpxgo/gpx"

	"github.com/maks-bond/hike-coverage/internal/geo"
	"github.com/maks-bond/hike-coverage/internal/model"
	"github.com/maks-bond/hike-coverage/internal/track"
)

const (
	// Creator はエクスポートしたGPXのcreator属性。
	Creator = "HikeCoverage Exporter"

	// walkingSpeedMph は時刻補完に使う歩行速度。
	walkingSpeedMph = 3.5
)

// Export はハイクをGPX 1.1文書に変換する。
func Export(h model.Hike) ([]byte, error) {
	start := h.StartedAt.UTC()

	segment := gpxgo.GPXTrackSegment{Points: make([]gpxgo.GPXPoint, 0, len(h.Points))}
	at := start
	for i, p := range h.Points {
		switch {
		case p.HasTime():
			at = p.CapturedAt.UTC()
		case i > 0:
			at = at.Add(walkingDuration(h.Points[i-1], p))
		}
		segment.Points = append(segment.Points, gpxgo.GPXPoint{
			Point:     gpxgo.Point{Latitude: p.Latitude, Longitude: p.Longitude},
			Timestamp: at,
		})
	}

	doc := &gpxgo.GPX{
		Version: "1.1",
		Creator: Creator,
		Name:    "Hike on " + start.Format("2006-01-02"),
		Time:    &start,
		Tracks: []gpxgo.GPXTrack{{
			Name:     h.Name(),
			Segments: []gpxgo.GPXTrackSegment{segment},
		}},
	}
	if h.Notes != "" {
		doc.Description = h.Notes
	}

	out, err := doc.ToXml(gpxgo.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return nil, fmt.Errorf("encode gpx: %w", err)
	}
	return out, nil
}

// walkingDuration は2点間を歩行速度で歩いた場合の所要時間。
func walkingDuration(a, b model.HikePoint) time.Duration {
	miles := geo.KmToMiles(geo.HaversineKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude))
	hours := miles / walkingSpeedMph
	return time.Duration(hours * float64(time.Hour))
}

// FileName はエクスポートするGPXのファイル名を返す（例: "Hike_2024-05-01_3.2mi.gpx"）。
func FileName(h model.Hike) string {
	miles := geo.KmToMiles(h.DistanceKm())
	return fmt.Sprintf("Hike_%s_%.1fmi.gpx", h.StartedAt.UTC().Format("2006-01-02"), miles)
}

// Import はGPX文書を読み込んで新しいハイクを生成する。
// 開始時刻はメタデータの時刻、なければ最初のポイントの時刻、どちらもなければnowを使う。
// 全ポイントが時刻を持つ場合はv2、1つでも欠ける場合は時刻を捨ててv1のハイクになる。
func Import(r io.Reader, now time.Time) (model.Hike, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return model.Hike{}, model.NewInvalidGPXError("read failed", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return model.Hike{}, model.NewInvalidGPXError("empty document", nil)
	}

	doc, err := gpxgo.ParseBytes(data)
	if err != nil {
		return model.Hike{}, model.NewInvalidGPXError("parse failed", err)
	}

	var points []model.HikePoint
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
					continue
				}
				hp := model.HikePoint{Latitude: p.Latitude, Longitude: p.Longitude}
				if !p.Timestamp.IsZero() {
					t := p.Timestamp.UTC()
					hp.CapturedAt = &t
				}
				points = append(points, hp)
			}
		}
	}
	if len(points) == 0 {
		return model.Hike{}, model.NewInvalidGPXError("no track points", nil)
	}

	var start time.Time
	switch {
	case doc.Time != nil && !doc.Time.IsZero():
		start = doc.Time.UTC()
	case points[0].HasTime():
		start = points[0].CapturedAt.UTC()
	default:
		start = now.UTC()
	}

	h := model.NewHike(uuid.NewString(), start)
	h.SchemaVersion = track.VersionFor(points)
	if h.SchemaVersion == model.SchemaV1 {
		for i := range points {
			points[i].CapturedAt = nil
		}
	}
	h.Points = points
	return h, nil
}
