package graph

import (
	"fmt"
	"sync"
	"time"
)

// MessageType тип сообщения шины
type MessageType int

const (
	MessageError   MessageType = iota + 1 // Неустранимая ошибка элемента
	MessageWarning                        // Предупреждение, работа продолжается
	MessageEOS                            // Элемент обработал конец потока
)

func (t MessageType) String() string {
	switch t {
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	case MessageEOS:
		return "eos"
	default:
		return "unknown"
	}
}

// Message асинхронное уведомление элемента своему домену
type Message struct {
	Type   MessageType
	Source string
	Err    error
	Time   time.Time
}

func (m Message) String() string {
	if m.Err != nil {
		return fmt.Sprintf("%s from %s: %v", m.Type, m.Source, m.Err)
	}
	return fmt.Sprintf("%s from %s", m.Type, m.Source)
}

// NewErrorMessage создает сообщение об ошибке
func NewErrorMessage(source string, err error) Message {
	return Message{Type: MessageError, Source: source, Err: err, Time: time.Now()}
}

// NewEOSMessage создает сообщение о конце потока
func NewEOSMessage(source string) Message {
	return Message{Type: MessageEOS, Source: source, Time: time.Now()}
}

// Bus шина сообщений домена.
// Сообщения доставляются наблюдателям по порядку на отдельной горутине,
// поэтому Post безопасно вызывать из потока данных.
type Bus struct {
	name     string
	queue    *DeferredQueue[Message]
	mu       sync.RWMutex
	watchers map[uint64]func(Message)
	nextID   uint64
}

// NewBus создает шину и запускает горутину доставки
func NewBus(name string) *Bus {
	b := &Bus{
		name:     name,
		watchers: make(map[uint64]func(Message)),
	}
	b.queue = NewDeferredQueue(b.dispatch)
	return b
}

// Name возвращает имя шины
func (b *Bus) Name() string {
	return b.name
}

// Post публикует сообщение. Возвращает false, если шина закрыта.
func (b *Bus) Post(msg Message) bool {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	return b.queue.Post(msg)
}

// AddWatch регистрирует наблюдателя и возвращает функцию его удаления
func (b *Bus) AddWatch(fn func(Message)) (remove func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.watchers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}
}

// Close доставляет уже опубликованные сообщения и останавливает шину.
// Нельзя вызывать из наблюдателя этой же шины.
func (b *Bus) Close() {
	b.queue.Close()
}

func (b *Bus) dispatch(msg Message) {
	b.mu.RLock()
	watchers := make([]func(Message), 0, len(b.watchers))
	for _, fn := range b.watchers {
		watchers = append(watchers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range watchers {
		fn(msg)
	}
}
