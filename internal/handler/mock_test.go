package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/maks-bond/hike-coverage/internal/model"
	"github.com/maks-bond/hike-coverage/internal/tracker"
)

// --- モック定義 ---

// mockTrackerService はTrackerServiceのモック実装。
type mockTrackerService struct {
	hikesFn          func(ctx context.Context) (model.Collection, error)
	hikeFn           func(ctx context.Context, id string) (model.Hike, error)
	updateNotesFn    func(ctx context.Context, id, notes string) (model.Hike, error)
	deleteHikeFn     func(ctx context.Context, id string) error
	importGPXFn      func(ctx context.Context, r io.Reader, notes string) (model.Hike, error)
	exportGPXFn      func(ctx context.Context, id string) ([]byte, string, error)
	startRecordingFn func(ctx context.Context) (model.Hike, error)
	recordSamplesFn  func(ctx context.Context, samples []model.HikePoint) (int, error)
	stopRecordingFn  func(ctx context.Context) (model.Hike, bool, error)
	statusFn         func(ctx context.Context) (tracker.Status, error)
	ownerFn          func() string
	setOwnerFn       func(ctx context.Context, name string) error
	refreshFn        func(ctx context.Context) (<-chan error, error)
	subscribeFn      func(buffer int) (<-chan model.ChangeEvent, func())
}

func (m *mockTrackerService) Hikes(ctx context.Context) (model.Collection, error) {
	if m.hikesFn != nil {
		return m.hikesFn(ctx)
	}
	return model.Collection{}, nil
}

func (m *mockTrackerService) Hike(ctx context.Context, id string) (model.Hike, error) {
	if m.hikeFn != nil {
		return m.hikeFn(ctx, id)
	}
	return model.Hike{}, model.NewHikeNotFoundError(id)
}

func (m *mockTrackerService) UpdateNotes(ctx context.Context, id, notes string) (model.Hike, error) {
	if m.updateNotesFn != nil {
		return m.updateNotesFn(ctx, id, notes)
	}
	return model.Hike{}, nil
}

func (m *mockTrackerService) DeleteHike(ctx context.Context, id string) error {
	if m.deleteHikeFn != nil {
		return m.deleteHikeFn(ctx, id)
	}
	return nil
}

func (m *mockTrackerService) ImportGPX(ctx context.Context, r io.Reader, notes string) (model.Hike, error) {
	if m.importGPXFn != nil {
		return m.importGPXFn(ctx, r, notes)
	}
	return model.Hike{}, nil
}

func (m *mockTrackerService) ExportGPX(ctx context.Context, id string) ([]byte, string, error) {
	if m.exportGPXFn != nil {
		return m.exportGPXFn(ctx, id)
	}
	return nil, "", nil
}

func (m *mockTrackerService) StartRecording(ctx context.Context) (model.Hike, error) {
	if m.startRecordingFn != nil {
		return m.startRecordingFn(ctx)
	}
	return model.Hike{}, nil
}

func (m *mockTrackerService) RecordSamples(ctx context.Context, samples []model.HikePoint) (int, error) {
	if m.recordSamplesFn != nil {
		return m.recordSamplesFn(ctx, samples)
	}
	return 0, nil
}

func (m *mockTrackerService) StopRecording(ctx context.Context) (model.Hike, bool, error) {
	if m.stopRecordingFn != nil {
		return m.stopRecordingFn(ctx)
	}
	return model.Hike{}, false, nil
}

func (m *mockTrackerService) Status(ctx context.Context) (tracker.Status, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx)
	}
	return tracker.Status{}, nil
}

func (m *mockTrackerService) Owner() string {
	if m.ownerFn != nil {
		return m.ownerFn()
	}
	return ""
}

func (m *mockTrackerService) SetOwner(ctx context.Context, name string) error {
	if m.setOwnerFn != nil {
		return m.setOwnerFn(ctx, name)
	}
	return nil
}

func (m *mockTrackerService) Refresh(ctx context.Context) (<-chan error, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	done := make(chan error, 1)
	done <- nil
	return done, nil
}

func (m *mockTrackerService) Subscribe(buffer int) (<-chan model.ChangeEvent, func()) {
	if m.subscribeFn != nil {
		return m.subscribeFn(buffer)
	}
	ch := make(chan model.ChangeEvent)
	return ch, func() {}
}

var (
	_ TrackerService = (*mockTrackerService)(nil)
	_ TrackerService = (*tracker.Service)(nil)
)

// passthroughSanitizer は入力をそのまま返すNotesSanitizerService。
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(raw string) string { return raw }

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディをvにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
}
