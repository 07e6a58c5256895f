package graph

import (
	"fmt"
	"time"

	"github.com/pion/rtp"
)

// Buffer единица медиа данных, проходящая через граф.
// Полезная нагрузка хранится в виде RTP пакета.
type Buffer struct {
	Kind     MediaKind
	Packet   *rtp.Packet
	PTS      time.Duration // Время презентации относительно base time домена
	Duration time.Duration
}

// Clone возвращает глубокую копию буфера.
// Сплиттер передает каждому соединению собственную копию.
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	c := *b
	if b.Packet != nil {
		c.Packet = b.Packet.Clone()
	}
	return &c
}

// Size возвращает размер RTP пакета в байтах
func (b *Buffer) Size() int {
	if b == nil || b.Packet == nil {
		return 0
	}
	return b.Packet.MarshalSize()
}

func (b *Buffer) String() string {
	if b.Packet == nil {
		return fmt.Sprintf("%s buffer pts=%s (empty)", b.Kind, b.PTS)
	}
	return fmt.Sprintf("%s buffer pts=%s seq=%d ts=%d size=%d",
		b.Kind, b.PTS, b.Packet.SequenceNumber, b.Packet.Timestamp, b.Size())
}

// EventType тип события потока
type EventType int

const (
	// EventEOS маркер конца потока. Для ветки это запрос завершить работу
	// и освободить ресурсы.
	EventEOS EventType = iota + 1
)

func (t EventType) String() string {
	switch t {
	case EventEOS:
		return "eos"
	default:
		return "unknown"
	}
}

// Event событие, передаваемое по графу в том же порядке, что и буферы
type Event struct {
	Type EventType
}

// NewEOSEvent создает маркер конца потока
func NewEOSEvent() Event {
	return Event{Type: EventEOS}
}

// IsEOS проверяет, является ли событие маркером конца потока
func (e Event) IsEOS() bool {
	return e.Type == EventEOS
}
