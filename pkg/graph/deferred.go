package graph

import (
	"sync"
)

// DeferredQueue типизированная FIFO очередь отложенных операций.
// Все элементы обрабатываются одной горутиной в порядке поступления.
//
// Post никогда не выполняет обработчик на вызывающей горутине, поэтому
// очередь можно использовать из потока данных и из обработчиков уведомлений.
type DeferredQueue[T any] struct {
	mu      sync.Mutex
	items   []T
	closed  bool
	notify  chan struct{}
	done    chan struct{}
	handler func(T)
}

// NewDeferredQueue создает очередь и запускает горутину обработки
func NewDeferredQueue[T any](handler func(T)) *DeferredQueue[T] {
	q := &DeferredQueue[T]{
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		handler: handler,
	}
	go q.run()
	return q
}

// Post ставит элемент в очередь. Возвращает false, если очередь закрыта.
func (q *DeferredQueue[T]) Post(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Len возвращает количество ожидающих элементов
func (q *DeferredQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close закрывает очередь, дожидается обработки уже поставленных элементов
// и остановки горутины. Нельзя вызывать из обработчика этой же очереди.
func (q *DeferredQueue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	<-q.done
}

// Done закрывается после остановки горутины обработки
func (q *DeferredQueue[T]) Done() <-chan struct{} {
	return q.done
}

func (q *DeferredQueue[T]) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.notify
			continue
		}
		item := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		q.handler(item)
	}
}
