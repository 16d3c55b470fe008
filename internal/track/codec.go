// Package track はハイクのポイント列と区切り文字列の相互変換（トラックコーデック）を提供する。
//
// 形式:
//
//	v1: "lat,lon;lat,lon"
//	v2: "lat,lon|epochSeconds;lat,lon|epochSeconds"
//
// デコードはエラーを返さない。解釈できないセグメントは読み飛ばし、件数のみを報告する。
package track

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/maks-bond/hike-coverage/internal/model"
)

const (
	pointSeparator = ";"
	coordSeparator = ","
	timeSeparator  = "|"
)

// Decoded はデコード結果を表す。
type Decoded struct {
	Points   []model.HikePoint
	Skipped  int                 // 読み飛ばした不正セグメント数
	Version  model.SchemaVersion // 実際に検出したレイアウト
	Declared model.SchemaVersion // 呼び出し元が宣言したバージョン
}

// Mismatch は宣言されたバージョンと検出したレイアウトが異なる場合にtrueを返す。
// バージョンタグ導入前のデータでは宣言がv2でも中身がv1のことがある。
func (d Decoded) Mismatch() bool {
	return d.Version != d.Declared
}

// Encode はポイント列を文字列にエンコードする。
// 全ポイントが取得時刻を持つ場合はv2形式、1つでも欠けている場合は全体をv1形式で出力する。
// 空のポイント列は空文字列になる。
func Encode(points []model.HikePoint) string {
	if len(points) == 0 {
		return ""
	}

	withTime := VersionFor(points) == model.SchemaV2

	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteString(pointSeparator)
		}
		b.WriteString(formatFloat(p.Latitude))
		b.WriteString(coordSeparator)
		b.WriteString(formatFloat(p.Longitude))
		if withTime {
			b.WriteString(timeSeparator)
			b.WriteString(strconv.FormatInt(p.CapturedAt.Unix(), 10))
		}
	}
	return b.String()
}

// VersionFor はEncodeがポイント列に対して出力するレイアウトのバージョンを返す。
func VersionFor(points []model.HikePoint) model.SchemaVersion {
	for _, p := range points {
		if !p.HasTime() {
			return model.SchemaV1
		}
	}
	return model.SchemaV2
}

// Layout は文字列のレイアウトを判定する。
// "|" を1つも含まない場合は宣言に関わらずv1として扱う。
func Layout(raw string) model.SchemaVersion {
	if strings.Contains(raw, timeSeparator) {
		return model.SchemaV2
	}
	return model.SchemaV1
}

// Decode は文字列をポイント列にデコードする。
// versionはリモートレコード等に保存されていたタグで、未知の値はv1として扱う。
func Decode(raw string, version model.SchemaVersion) Decoded {
	declared, _ := model.ParseSchemaVersion(string(version))
	layout := Layout(raw)

	out := Decoded{
		Points:   []model.HikePoint{},
		Version:  layout,
		Declared: declared,
	}

	for _, segment := range strings.Split(raw, pointSeparator) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		p, ok := parseSegment(segment, layout)
		if !ok {
			out.Skipped++
			continue
		}
		out.Points = append(out.Points, p)
	}

	return out
}

// parseSegment は1セグメントを解釈する。
// v2レイアウトの文字列では "|" を含まないセグメントは不正として扱い、
// デコード結果のポイントがすべて時刻を持つようにする。
func parseSegment(segment string, layout model.SchemaVersion) (model.HikePoint, bool) {
	if layout == model.SchemaV2 {
		return parseTimestamped(segment)
	}
	return parseCoordinates(segment)
}

// parseCoordinates は "lat,lon" を解釈する。
func parseCoordinates(segment string) (model.HikePoint, bool) {
	parts := strings.Split(segment, coordSeparator)
	if len(parts) != 2 {
		return model.HikePoint{}, false
	}
	lat, ok := parseFloat(parts[0])
	if !ok {
		return model.HikePoint{}, false
	}
	lon, ok := parseFloat(parts[1])
	if !ok {
		return model.HikePoint{}, false
	}
	return model.HikePoint{Latitude: lat, Longitude: lon}, true
}

// parseTimestamped は "lat,lon|epochSeconds" を解釈する。
func parseTimestamped(segment string) (model.HikePoint, bool) {
	parts := strings.Split(segment, timeSeparator)
	if len(parts) != 2 {
		return model.HikePoint{}, false
	}
	p, ok := parseCoordinates(parts[0])
	if !ok {
		return model.HikePoint{}, false
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return model.HikePoint{}, false
	}
	t := time.Unix(sec, 0).UTC()
	p.CapturedAt = &t
	return p, true
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
