package queue

import (
	"errors"
	"sync"
)

var (
	// ErrQueueClosed はクローズ後の Enqueue で返される
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull は容量上限に達したときの Enqueue で返される
	ErrQueueFull = errors.New("queue full")
)

// JobQueue はスレッドセーフな FIFO キュー
type JobQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []T
	head     int
	capacity int
	closed   bool
}

// New は新しいキューを作成する
// capacity が 0 以下の場合は無制限
func New[T any](capacity int) *JobQueue[T] {
	if capacity < 0 {
		capacity = 0
	}
	q := &JobQueue[T]{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue は末尾に追加し、待機中のコンシューマを1つ起こす
// ブロックはしない
func (q *JobQueue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		return ErrQueueFull
	}

	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return nil
}

// Dequeue は先頭を取り出す
// 空の間はブロックし、クローズ済みかつ空になったら ok=false を返す
func (q *JobQueue[T]) Dequeue() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.lenLocked() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.lenLocked() == 0 {
		return item, false
	}

	var zero T
	item = q.items[q.head]
	q.items[q.head] = zero
	q.head++
	q.compactLocked()
	return item, true
}

// TryDequeue はブロックせずに先頭を取り出す
func (q *JobQueue[T]) TryDequeue() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lenLocked() == 0 {
		return item, false
	}

	var zero T
	item = q.items[q.head]
	q.items[q.head] = zero
	q.head++
	q.compactLocked()
	return item, true
}

// Close は以降の Enqueue を拒否し、待機中の全コンシューマを起こす
// 既にキューにあるアイテムは引き続き取り出せる
func (q *JobQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
}

// Len は現在のキュー長を返す
func (q *JobQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Cap は容量を返す（0は無制限）
func (q *JobQueue[T]) Cap() int {
	return q.capacity
}

// Closed はクローズ済みかどうかを返す
func (q *JobQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *JobQueue[T]) lenLocked() int {
	return len(q.items) - q.head
}

// compactLocked は消費済みの先頭領域を回収する
func (q *JobQueue[T]) compactLocked() {
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= 64 && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		var zero T
		for i := n; i < len(q.items); i++ {
			q.items[i] = zero
		}
		q.items = q.items[:n]
		q.head = 0
	}
}
