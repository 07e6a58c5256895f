package graph

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// DropPolicy определяет поведение моста при заполненной очереди
type DropPolicy int

const (
	// DropNew отбрасывает новый буфер, если очередь заполнена
	DropNew DropPolicy = iota
	// DropOld вытесняет самый старый буфер из очереди
	DropOld
)

func (p DropPolicy) String() string {
	switch p {
	case DropNew:
		return "drop-new"
	case DropOld:
		return "drop-old"
	default:
		return "unknown"
	}
}

// BridgeConfig параметры очереди моста
type BridgeConfig struct {
	MaxBuffers int        // Максимум буферов в очереди; события не ограничены
	Policy     DropPolicy // Что делать при заполненной очереди
}

// DefaultBridgeConfig возвращает параметры моста по умолчанию
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		MaxBuffers: 200,
		Policy:     DropNew,
	}
}

// Validate проверяет параметры моста
func (c BridgeConfig) Validate() error {
	if c.MaxBuffers <= 0 {
		return fmt.Errorf("MaxBuffers должен быть больше 0")
	}
	if c.Policy != DropNew && c.Policy != DropOld {
		return fmt.Errorf("неизвестная политика %d", c.Policy)
	}
	return nil
}

// BridgeStats статистика моста
type BridgeStats struct {
	Queued    uint64
	Dropped   uint64
	Delivered uint64
	Pending   int
}

type bridgeItem struct {
	buf *Buffer
	ev  *Event
}

// bridgeQueue общая очередь пары BridgeSink/BridgeSource.
// Запись никогда не блокирует производителя.
type bridgeQueue struct {
	config BridgeConfig

	mu      sync.Mutex
	items   []bridgeItem
	buffers int
	closed  bool
	notify  chan struct{}

	queued    atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

func (q *bridgeQueue) pushBuffer(buf *Buffer) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrFlushing
	}

	if q.buffers >= q.config.MaxBuffers {
		if q.config.Policy == DropNew {
			q.mu.Unlock()
			q.dropped.Add(1)
			return nil
		}
		q.dropOldestLocked()
	}

	q.items = append(q.items, bridgeItem{buf: buf})
	q.buffers++
	q.mu.Unlock()

	q.queued.Add(1)
	q.signal()
	return nil
}

func (q *bridgeQueue) pushEvent(ev Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrFlushing
	}
	q.items = append(q.items, bridgeItem{ev: &ev})
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *bridgeQueue) dropOldestLocked() {
	for i, it := range q.items {
		if it.buf != nil {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.buffers--
			q.dropped.Add(1)
			return
		}
	}
}

func (q *bridgeQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop ждет следующий элемент. Возвращает false при отмене ctx или
// закрытии пустой очереди.
func (q *bridgeQueue) pop(ctx context.Context) (bridgeItem, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = bridgeItem{}
			q.items = q.items[1:]
			if it.buf != nil {
				q.buffers--
			}
			q.mu.Unlock()
			return it, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return bridgeItem{}, false
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return bridgeItem{}, false
		}
	}
}

func (q *bridgeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *bridgeQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// BridgeSink производитель моста. Живет во внешнем домене и реализует
// SinkPad, поэтому к нему можно подключить соединение сплиттера.
type BridgeSink struct {
	name string
	kind MediaKind
	q    *bridgeQueue
}

// BridgeSource потребитель моста. Работает как рабочая горутина
// внутреннего домена и передает данные в порт дочернего элемента.
// Источник не владеет очередью и действителен, пока жив владелец моста.
type BridgeSource struct {
	name string
	kind MediaKind
	q    *bridgeQueue
	done chan struct{}
	once sync.Once
}

// NewBridge создает пару производитель/потребитель для одного вида медиа
func NewBridge(name string, kind MediaKind, config BridgeConfig) (*BridgeSink, *BridgeSource) {
	q := &bridgeQueue{
		config: config,
		notify: make(chan struct{}, 1),
	}
	sink := &BridgeSink{name: name, kind: kind, q: q}
	src := &BridgeSource{name: name, kind: kind, q: q, done: make(chan struct{})}
	return sink, src
}

func (s *BridgeSink) Name() string    { return s.name }
func (s *BridgeSink) Kind() MediaKind { return s.kind }

// Chain ставит буфер в очередь моста, никогда не блокируя вызывающего
func (s *BridgeSink) Chain(buf *Buffer) error {
	return s.q.pushBuffer(buf)
}

// SendEvent ставит событие в очередь моста. События не отбрасываются.
func (s *BridgeSink) SendEvent(ev Event) error {
	return s.q.pushEvent(ev)
}

// Close закрывает мост: дальнейшие Chain и SendEvent возвращают ErrFlushing
func (s *BridgeSink) Close() {
	s.q.close()
}

// Stats возвращает статистику моста
func (s *BridgeSink) Stats() BridgeStats {
	return BridgeStats{
		Queued:    s.q.queued.Load(),
		Dropped:   s.q.dropped.Load(),
		Delivered: s.q.delivered.Load(),
		Pending:   s.q.pending(),
	}
}

func (s *BridgeSource) Name() string    { return s.name }
func (s *BridgeSource) Kind() MediaKind { return s.kind }

// Done закрывается, когда Run завершился
func (s *BridgeSource) Done() <-chan struct{} {
	return s.done
}

// Run передает данные из очереди в peer до EOS, отмены ctx или закрытия
// моста. После первой ошибки peer вызывается onError, а последующие буферы
// отбрасываются до EOS; события продолжают передаваться.
func (s *BridgeSource) Run(ctx context.Context, peer SinkPad, onError func(error)) error {
	defer s.once.Do(func() { close(s.done) })

	failed := false
	for {
		it, ok := s.q.pop(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrFlushing
		}

		if it.ev != nil {
			if err := peer.SendEvent(*it.ev); err != nil && !failed {
				failed = true
				if onError != nil {
					onError(fmt.Errorf("%s: событие %s: %w", s.name, it.ev.Type, err))
				}
			}
			if it.ev.IsEOS() {
				return nil
			}
			continue
		}

		if failed {
			continue
		}
		if err := peer.Chain(it.buf); err != nil {
			failed = true
			if onError != nil {
				onError(fmt.Errorf("%s: %w", s.name, err))
			}
			continue
		}
		s.q.delivered.Add(1)
	}
}
