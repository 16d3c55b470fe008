// Package events はコレクションと記録セッションの変更イベントを購読者に配信する。
package events

import (
	"sync"

	"github.com/maks-bond/hike-coverage/internal/model"
)

// Publisher は変更イベントの発行インターフェース。
type Publisher interface {
	Publish(ev model.ChangeEvent)
}

// Broker は変更イベントを購読者ごとのチャネルに配信する。
// 購読者のバッファが一杯の場合、そのイベントは捨てる（発行側をブロックしない）。
type Broker struct {
	mu     sync.RWMutex
	subs   map[chan model.ChangeEvent]struct{}
	closed bool
}

// NewBroker は新しいBrokerを生成する。
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan model.ChangeEvent]struct{})}
}

// Subscribe は購読チャネルと購読解除関数を返す。
// 購読解除またはClose後にチャネルは閉じられる。
func (b *Broker) Subscribe(buffer int) (<-chan model.ChangeEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan model.ChangeEvent, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish はイベントを全購読者に配信する。
func (b *Broker) Publish(ev model.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers は現在の購読者数を返す。
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close は全購読チャネルを閉じる。以降のSubscribeは閉じたチャネルを返す。
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// Nop はイベントを発行しないPublisher。
type Nop struct{}

func (Nop) Publish(model.ChangeEvent) {}

// OrNop はpがnilの場合にNopを返す。
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}

var (
	_ Publisher = (*Broker)(nil)
	_ Publisher = Nop{}
)
