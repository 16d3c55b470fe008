package remotesync

import "sync"

// keyedQueue はキー（ハイクID）ごとに投入順で関数を1つずつ実行する。
// 異なるキーの関数は並行に実行される。
type keyedQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
	closed  bool
	wg      sync.WaitGroup
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{pending: make(map[string][]func())}
}

// Enqueue はfnをkeyのキューに追加する。Close後はfalseを返し、fnは実行しない。
func (q *keyedQueue) Enqueue(key string, fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	tasks, running := q.pending[key]
	q.pending[key] = append(tasks, fn)
	if !running {
		q.wg.Add(1)
		go q.drain(key)
	}
	return true
}

// drain はkeyのキューが空になるまで先頭から実行する。
func (q *keyedQueue) drain(key string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		tasks := q.pending[key]
		if len(tasks) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		fn := tasks[0]
		q.pending[key] = tasks[1:]
		q.mu.Unlock()

		fn()
	}
}

// Wait は投入済みの関数がすべて完了するまで待つ。
func (q *keyedQueue) Wait() {
	q.wg.Wait()
}

// Close は以降の投入を拒否し、投入済みの関数の完了を待つ。
func (q *keyedQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
