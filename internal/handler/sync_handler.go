package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/maks-bond/hike-coverage/internal/model"
	"github.com/maks-bond/hike-coverage/internal/remotesync"
)

// SyncServiceInterface は同期ハンドラーが必要とするサービスインターフェース。
type SyncServiceInterface interface {
	// Refresh はリモートからの全件取得を開始し、完了を通知するチャネルを返す。
	Refresh(ctx context.Context) (<-chan error, error)
}

// SyncHandler はリモート同期のHTTPハンドラー。
type SyncHandler struct {
	service     SyncServiceInterface
	waitTimeout time.Duration
}

// NewSyncHandler はSyncHandlerを生成する。waitTimeoutはwait=trueの場合に完了を待つ上限。
func NewSyncHandler(service SyncServiceInterface, waitTimeout time.Duration) *SyncHandler {
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	return &SyncHandler{service: service, waitTimeout: waitTimeout}
}

// refreshResponse は全件取得のAPIレスポンス。
type refreshResponse struct {
	Status string `json:"status"`
}

// Refresh はリモートからの全件取得を開始する。
// 既定では開始だけして202を返す。wait=trueの場合は完了まで待ち、結果を返す。
// POST /api/sync/refresh
func (h *SyncHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	done, err := h.service.Refresh(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		writeJSON(w, http.StatusAccepted, refreshResponse{Status: "started"})
		return
	}

	timer := time.NewTimer(h.waitTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, refreshResponse{Status: "completed"})
		case errors.Is(err, remotesync.ErrFetchInFlight):
			writeJSON(w, http.StatusAccepted, refreshResponse{Status: "in_progress"})
		case errors.Is(err, remotesync.ErrSkipped):
			handleServiceError(w, model.NewIdentityNotSetError())
		default:
			handleServiceError(w, err)
		}
	case <-timer.C:
		writeJSON(w, http.StatusAccepted, refreshResponse{Status: "in_progress"})
	case <-r.Context().Done():
	}
}
