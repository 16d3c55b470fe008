// Package dispatch はハイクコレクションと記録セッションを操作する単一の実行コンテキストを提供する。
//
// Loopに投入された関数は1つのゴルーチン上で投入順に1つずつ実行される。
// バックグラウンド処理（リモート取得・アップロード）の結果は必ずLoop経由で反映すること。
package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed はLoopが停止済みのため関数を実行できないことを示す。
var ErrClosed = errors.New("dispatch: loop is closed")

// Loop は投入された関数を直列に実行する実行コンテキスト。
type Loop struct {
	tasks chan func()
	done  chan struct{}

	once sync.Once
}

// NewLoop は新しいLoopを生成する。bufferは未実行タスクのキュー長。
// Runを呼び出すまでタスクは実行されない。
func NewLoop(buffer int) *Loop {
	if buffer < 1 {
		buffer = 1
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run はctxがキャンセルされるまでタスクを実行する。
// 終了時点でキューに残っているタスクは実行しない。
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Done はRunが終了したときに閉じられるチャネルを返す。
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Do はfnをLoop上で実行し、完了まで待つ。
// ctxがキャンセルされた場合はctx.Err()、Loopが停止済みの場合はErrClosedを返す。
// ctxのキャンセルで待機を打ち切ってもfnは後で実行されることがある。
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// Run終了と同時に実行済みの場合がある
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post はfnをLoopに投入し、完了を待たずに返る。
// Loopが停止済みの場合はfalseを返す。
func (l *Loop) Post(fn func()) bool {
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}
