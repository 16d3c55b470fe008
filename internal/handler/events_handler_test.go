package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maks-bond/hike-coverage/internal/model"
)

func TestEventsHandler_Stream_DeliversEventsUntilClosed(t *testing.T) {
	ch := make(chan model.ChangeEvent, 2)
	ch <- model.ChangeEvent{Kind: model.ChangeHikeAdded, HikeID: "h1", At: time.Unix(0, 0).UTC()}
	ch <- model.ChangeEvent{Kind: model.ChangeHikeRemoved, HikeID: "h1", At: time.Unix(0, 0).UTC()}
	close(ch)

	unsubscribed := false
	sub := &mockTrackerService{
		subscribeFn: func(buffer int) (<-chan model.ChangeEvent, func()) {
			return ch, func() { unsubscribed = true }
		},
	}
	h := NewEventsHandler(sub, time.Hour)

	w := httptest.NewRecorder()
	h.Stream(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !w.Flushed {
		t.Error("response should be flushed")
	}
	if !unsubscribed {
		t.Error("subscription should be released")
	}

	body := w.Body.String()
	added := strings.Index(body, "event: hike_added\n")
	removed := strings.Index(body, "event: hike_removed\n")
	if added < 0 || removed < 0 || added > removed {
		t.Errorf("events missing or out of order:\n%s", body)
	}
	if !strings.Contains(body, `"hike_id":"h1"`) {
		t.Errorf("data line missing hike_id:\n%s", body)
	}
	if !strings.HasSuffix(body, "event: done\ndata: end\n\n") {
		t.Errorf("stream should end with done event:\n%s", body)
	}
}

func TestEventsHandler_Stream_StopsOnClientDisconnect(t *testing.T) {
	sub := &mockTrackerService{
		subscribeFn: func(buffer int) (<-chan model.ChangeEvent, func()) {
			return make(chan model.ChangeEvent), func() {}
		},
	}
	h := NewEventsHandler(sub, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Stream(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after context cancellation")
	}
	if !strings.Contains(w.Body.String(), ": keep-alive\n\n") {
		t.Errorf("expected keep-alive comment, body:\n%s", w.Body.String())
	}
}
