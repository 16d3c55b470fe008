package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/maks-bond/hike-coverage/internal/model"
)

// eventsBuffer は購読者ごとのイベントバッファ。溢れたイベントは捨てられる。
const eventsBuffer = 64

// EventSubscriber はイベントハンドラーが必要とする購読インターフェース。
type EventSubscriber interface {
	// Subscribe は変更イベントのチャネルと購読解除関数を返す。
	Subscribe(buffer int) (<-chan model.ChangeEvent, func())
}

// EventsHandler は変更イベントをServer-Sent Eventsで配信するHTTPハンドラー。
type EventsHandler struct {
	subscriber EventSubscriber
	keepAlive  time.Duration
}

// NewEventsHandler はEventsHandlerを生成する。keepAliveごとにコメント行を送り接続を維持する。
func NewEventsHandler(subscriber EventSubscriber, keepAlive time.Duration) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &EventsHandler{subscriber: subscriber, keepAlive: keepAlive}
}

// Stream は接続が切れるまで変更イベントを配信する。
// GET /api/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	events, unsubscribe := h.subscriber.Subscribe(eventsBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				fmt.Fprint(w, "event: done\ndata: end\n\n")
				rc.Flush()
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, b)
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
