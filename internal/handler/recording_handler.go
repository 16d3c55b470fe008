package handler

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/maks-bond/hike-coverage/internal/model"
	"github.com/maks-bond/hike-coverage/internal/recorder"
	"github.com/maks-bond/hike-coverage/internal/tracker"
)

// maxSamplesPerRequest は1リクエストで受け付けるサンプル数の上限。
const maxSamplesPerRequest = 1000

// RecordingServiceInterface は記録ハンドラーが必要とするサービスインターフェース。
type RecordingServiceInterface interface {
	// StartRecording は記録を開始する。
	StartRecording(ctx context.Context) (model.Hike, error)
	// RecordSamples は位置サンプルを受信順に渡す。
	RecordSamples(ctx context.Context, samples []model.HikePoint) (int, error)
	// StopRecording は記録を終了する。
	StopRecording(ctx context.Context) (model.Hike, bool, error)
	// Status は記録セッションの状態を返す。
	Status(ctx context.Context) (tracker.Status, error)
}

// RecordingHandler は記録セッションのHTTPハンドラー。
type RecordingHandler struct {
	service RecordingServiceInterface
}

// NewRecordingHandler はRecordingHandlerを生成する。
func NewRecordingHandler(service RecordingServiceInterface) *RecordingHandler {
	return &RecordingHandler{service: service}
}

// sampleRequest は1件の位置サンプル。
type sampleRequest struct {
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	CapturedAt *time.Time `json:"captured_at"`
}

// samplesRequest はサンプル投稿リクエストのボディ。
// 1件のサンプルをそのまま送るか、{"samples": [...]} でまとめて送る。
type samplesRequest struct {
	sampleRequest
	Samples []sampleRequest `json:"samples"`
}

// samplesResponse はサンプル投稿のAPIレスポンス。
type samplesResponse struct {
	Received  int  `json:"received"`
	Appended  int  `json:"appended"`
	Recording bool `json:"recording"`
}

// recordingStatusResponse は記録状態のAPIレスポンス。
type recordingStatusResponse struct {
	State             string         `json:"state"`
	Hike              *hikeResponse  `json:"hike,omitempty"`
	LastKnownLocation *pointResponse `json:"last_known_location,omitempty"`
}

// stopResponse は記録終了のAPIレスポンス。
type stopResponse struct {
	Stopped bool          `json:"stopped"`
	Hike    *hikeResponse `json:"hike,omitempty"`
}

// Start は記録を開始する。記録中の場合は409を返す。
// POST /api/recording/start
func (h *RecordingHandler) Start(w http.ResponseWriter, r *http.Request) {
	hike, err := h.service.StartRecording(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHikeResponse(hike, false))
}

// Samples は位置サンプルを受け付ける。Idleの場合も最後の既知位置は更新される。
// POST /api/recording/samples
func (h *RecordingHandler) Samples(w http.ResponseWriter, r *http.Request) {
	var req samplesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	raw := req.Samples
	if len(raw) == 0 {
		raw = []sampleRequest{req.sampleRequest}
	}
	if len(raw) > maxSamplesPerRequest {
		handleServiceError(w, model.NewInvalidRequestError("サンプル数が多すぎます"))
		return
	}

	points := make([]model.HikePoint, 0, len(raw))
	for _, s := range raw {
		p, err := s.toPoint()
		if err != nil {
			handleServiceError(w, err)
			return
		}
		points = append(points, p)
	}

	appended, err := h.service.RecordSamples(r.Context(), points)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, samplesResponse{
		Received:  len(points),
		Appended:  appended,
		Recording: appended > 0,
	})
}

// Stop は記録を終了する。Idleの場合はstopped=falseを返す。
// POST /api/recording/stop
func (h *RecordingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	hike, stopped, err := h.service.StopRecording(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := stopResponse{Stopped: stopped}
	if stopped {
		hr := toHikeResponse(hike, false)
		resp.Hike = &hr
	}
	writeJSON(w, http.StatusOK, resp)
}

// Status は記録状態を返す。
// GET /api/recording
func (h *RecordingHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Status(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := recordingStatusResponse{State: "idle"}
	if st.State == recorder.StateRecording {
		resp.State = "recording"
	}
	if st.Current != nil {
		hr := toHikeResponse(*st.Current, true)
		resp.Hike = &hr
	}
	if st.LastKnown != nil {
		resp.LastKnownLocation = &pointResponse{
			Latitude:   st.LastKnown.Latitude,
			Longitude:  st.LastKnown.Longitude,
			CapturedAt: st.LastKnown.CapturedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// toPoint は座標を検証してHikePointに変換する。取得時刻がない場合は受信時刻が付与される。
func (s sampleRequest) toPoint() (model.HikePoint, error) {
	if s.Latitude == nil || s.Longitude == nil {
		return model.HikePoint{}, model.NewInvalidRequestError("latitudeとlongitudeは必須です")
	}
	lat, lon := *s.Latitude, *s.Longitude
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return model.HikePoint{}, model.NewInvalidRequestError("座標が範囲外です")
	}
	if s.CapturedAt == nil {
		return model.HikePoint{Latitude: lat, Longitude: lon}, nil
	}
	return model.NewHikePoint(lat, lon, *s.CapturedAt), nil
}
