package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maks-bond/hike-coverage/internal/geo"
	"github.com/maks-bond/hike-coverage/internal/model"
	"github.com/maks-bond/hike-coverage/internal/security"
)

// maxGPXBodyBytes はGPXインポートのリクエストボディ上限。
const maxGPXBodyBytes = 32 << 20

// HikeServiceInterface はハイクハンドラーが必要とするサービスインターフェース。
type HikeServiceInterface interface {
	// Hikes はコレクションを新しい順に返す。
	Hikes(ctx context.Context) (model.Collection, error)
	// Hike は指定IDのハイクを返す。
	Hike(ctx context.Context, id string) (model.Hike, error)
	// UpdateNotes はメモを更新する。
	UpdateNotes(ctx context.Context, id, notes string) (model.Hike, error)
	// DeleteHike はハイクを削除する。
	DeleteHike(ctx context.Context, id string) error
	// ImportGPX はGPX文書を新しいハイクとして取り込む。
	ImportGPX(ctx context.Context, r io.Reader, notes string) (model.Hike, error)
	// ExportGPX はハイクをGPX文書に変換する。
	ExportGPX(ctx context.Context, id string) ([]byte, string, error)
}

// HikeHandler はハイク管理のHTTPハンドラー。
type HikeHandler struct {
	service   HikeServiceInterface
	sanitizer security.NotesSanitizerService
}

// NewHikeHandler はHikeHandlerを生成する。
func NewHikeHandler(service HikeServiceInterface, sanitizer security.NotesSanitizerService) *HikeHandler {
	return &HikeHandler{
		service:   service,
		sanitizer: sanitizer,
	}
}

// updateNotesRequest はメモ更新リクエストのボディ。
type updateNotesRequest struct {
	Notes *string `json:"notes"`
}

// pointResponse はトラックポイントのAPIレスポンス。
type pointResponse struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// hikeResponse はハイクのAPIレスポンス。一覧ではPointsを省略する。
type hikeResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	StartedAt       time.Time       `json:"started_at"`
	Notes           string          `json:"notes"`
	Version         string          `json:"version"`
	PointCount      int             `json:"point_count"`
	DistanceKm      float64         `json:"distance_km"`
	DistanceMiles   float64         `json:"distance_miles"`
	DurationSeconds int64           `json:"duration_seconds"`
	Points          []pointResponse `json:"points,omitempty"`
}

// hikeListResponse はハイク一覧のAPIレスポンス。
type hikeListResponse struct {
	Hikes []hikeResponse `json:"hikes"`
}

// ListHikes はハイク一覧を新しい順に返す。
// GET /api/hikes
func (h *HikeHandler) ListHikes(w http.ResponseWriter, r *http.Request) {
	hikes, err := h.service.Hikes(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := hikeListResponse{Hikes: make([]hikeResponse, len(hikes))}
	for i, hike := range hikes {
		resp.Hikes[i] = toHikeResponse(hike, false)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetHike はハイク詳細をポイント列付きで返す。
// GET /api/hikes/{id}
func (h *HikeHandler) GetHike(w http.ResponseWriter, r *http.Request) {
	hike, err := h.service.Hike(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHikeResponse(hike, true))
}

// UpdateNotes はハイクのメモを更新する。メモはサニタイズしてから保存する。
// PUT /api/hikes/{id}/notes
func (h *HikeHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	var req updateNotesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Notes == nil {
		handleServiceError(w, model.NewInvalidRequestError("notesは必須です"))
		return
	}

	hike, err := h.service.UpdateNotes(r.Context(), chi.URLParam(r, "id"), h.sanitizer.Sanitize(*req.Notes))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHikeResponse(hike, false))
}

// DeleteHike はハイクを削除する。
// DELETE /api/hikes/{id}
func (h *HikeHandler) DeleteHike(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteHike(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportGPX はハイクをGPXファイルとしてダウンロードさせる。
// GET /api/hikes/{id}/gpx
func (h *HikeHandler) ExportGPX(w http.ResponseWriter, r *http.Request) {
	data, name, err := h.service.ExportGPX(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/gpx+xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportGPX はリクエストボディのGPX文書を新しいハイクとして取り込む。
// メモはクエリパラメータnotesで指定できる。
// POST /api/hikes/import
func (h *HikeHandler) ImportGPX(w http.ResponseWriter, r *http.Request) {
	notes := h.sanitizer.Sanitize(r.URL.Query().Get("notes"))
	body := http.MaxBytesReader(w, r.Body, maxGPXBodyBytes)

	hike, err := h.service.ImportGPX(r.Context(), body, notes)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHikeResponse(hike, false))
}

// --- ヘルパー関数 ---

// toHikeResponse はmodel.HikeからAPIレスポンスに変換する。
func toHikeResponse(hike model.Hike, withPoints bool) hikeResponse {
	km := hike.DistanceKm()
	resp := hikeResponse{
		ID:              hike.ID,
		Name:            hike.Name(),
		StartedAt:       hike.StartedAt,
		Notes:           hike.Notes,
		Version:         string(hike.SchemaVersion),
		PointCount:      len(hike.Points),
		DistanceKm:      km,
		DistanceMiles:   geo.KmToMiles(km),
		DurationSeconds: int64(hike.Duration().Seconds()),
	}
	if withPoints {
		resp.Points = toPointResponses(hike.Points)
	}
	return resp
}

func toPointResponses(points []model.HikePoint) []pointResponse {
	out := make([]pointResponse, len(points))
	for i, p := range points {
		out[i] = pointResponse{Latitude: p.Latitude, Longitude: p.Longitude, CapturedAt: p.CapturedAt}
	}
	return out
}
