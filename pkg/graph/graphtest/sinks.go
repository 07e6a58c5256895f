// Package graphtest содержит элементы графа для тестов веток.
package graphtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arzzra/live_publish/pkg/graph"
)

// Item один элемент потока, полученный портом: буфер или событие
type Item struct {
	Buffer *graph.Buffer
	Event  *graph.Event
}

// IsEOS проверяет, является ли элемент маркером конца потока
func (it Item) IsEOS() bool {
	return it.Event != nil && it.Event.IsEOS()
}

// CollectSink ветка, запоминающая все полученные буферы и события по видам
// медиа. После EOS на обоих портах публикует EOS на шину хоста.
type CollectSink struct {
	name  string
	pads  map[graph.MediaKind]*graph.FuncPad
	chain func(kind graph.MediaKind, buf *graph.Buffer) error

	mu    sync.Mutex
	items map[graph.MediaKind][]Item
	eos   map[graph.MediaKind]bool
	host  graph.Host

	starts atomic.Int32
	stops  atomic.Int32
}

// NewCollectSink создает собирающую ветку
func NewCollectSink(name string) *CollectSink {
	s := &CollectSink{
		name:  name,
		pads:  make(map[graph.MediaKind]*graph.FuncPad, 2),
		items: make(map[graph.MediaKind][]Item, 2),
		eos:   make(map[graph.MediaKind]bool, 2),
	}
	for _, kind := range graph.Kinds() {
		kind := kind
		s.pads[kind] = graph.NewFuncPad(kind.PadName(), kind,
			func(buf *graph.Buffer) error { return s.onBuffer(kind, buf) },
			func(ev graph.Event) error { return s.onEvent(kind, ev) })
	}
	return s
}

func (s *CollectSink) Name() string { return s.name }

func (s *CollectSink) SinkPad(kind graph.MediaKind) graph.SinkPad {
	pad, ok := s.pads[kind]
	if !ok {
		return nil
	}
	return pad
}

func (s *CollectSink) Start(_ context.Context, host graph.Host) error {
	s.mu.Lock()
	s.host = host
	s.mu.Unlock()
	s.starts.Add(1)
	return nil
}

func (s *CollectSink) Stop() error {
	s.stops.Add(1)
	return nil
}

func (s *CollectSink) onBuffer(kind graph.MediaKind, buf *graph.Buffer) error {
	if s.chain != nil {
		if err := s.chain(kind, buf); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.items[kind] = append(s.items[kind], Item{Buffer: buf})
	s.mu.Unlock()
	return nil
}

func (s *CollectSink) onEvent(kind graph.MediaKind, ev graph.Event) error {
	s.mu.Lock()
	s.items[kind] = append(s.items[kind], Item{Event: &ev})
	var host graph.Host
	if ev.IsEOS() && !s.eos[kind] {
		s.eos[kind] = true
		if len(s.eos) == len(graph.Kinds()) {
			host = s.host
		}
	}
	s.mu.Unlock()

	if host != nil {
		host.Post(graph.NewEOSMessage(s.name))
	}
	return nil
}

// Items возвращает копию всего, что получил порт вида kind
func (s *CollectSink) Items(kind graph.MediaKind) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.items[kind]))
	copy(out, s.items[kind])
	return out
}

// Buffers возвращает буферы, полученные портом вида kind
func (s *CollectSink) Buffers(kind graph.MediaKind) []*graph.Buffer {
	var out []*graph.Buffer
	for _, it := range s.Items(kind) {
		if it.Buffer != nil {
			out = append(out, it.Buffer)
		}
	}
	return out
}

// BufferCount возвращает количество буферов, полученных портом
func (s *CollectSink) BufferCount(kind graph.MediaKind) int {
	return len(s.Buffers(kind))
}

// EOSCount возвращает количество маркеров конца потока, полученных портом
func (s *CollectSink) EOSCount(kind graph.MediaKind) int {
	n := 0
	for _, it := range s.Items(kind) {
		if it.IsEOS() {
			n++
		}
	}
	return n
}

// GotEOS проверяет, получили ли оба порта EOS
func (s *CollectSink) GotEOS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.eos) == len(graph.Kinds())
}

// Starts возвращает количество вызовов Start
func (s *CollectSink) Starts() int { return int(s.starts.Load()) }

// Stops возвращает количество вызовов Stop
func (s *CollectSink) Stops() int { return int(s.stops.Load()) }

// ErrWriteFailed ошибка, которую возвращает FailingSink
var ErrWriteFailed = errors.New("simulated write failure")

// FailingSink ветка, которая после FailAfter буферов начинает возвращать
// ошибку записи и публикует ее на шину хоста, как это делает писатель,
// у которого закончилось место на диске.
type FailingSink struct {
	*CollectSink
	failAfter int64
	received  atomic.Int64
	failures  atomic.Int64
}

// NewFailingSink создает ветку, отказывающую после failAfter буферов
func NewFailingSink(name string, failAfter int) *FailingSink {
	s := &FailingSink{
		CollectSink: NewCollectSink(name),
		failAfter:   int64(failAfter),
	}
	s.chain = s.check
	return s
}

func (s *FailingSink) check(kind graph.MediaKind, _ *graph.Buffer) error {
	if s.received.Add(1) <= s.failAfter {
		return nil
	}
	s.failures.Add(1)
	err := fmt.Errorf("%s: %s: %w", s.name, kind, ErrWriteFailed)

	s.mu.Lock()
	host := s.host
	s.mu.Unlock()
	if host != nil {
		host.Post(graph.NewErrorMessage(s.name, err))
	}
	return err
}

// Failures возвращает количество отказов записи
func (s *FailingSink) Failures() int { return int(s.failures.Load()) }

// GatedSink ветка, порты которой блокируются в Chain до открытия шлюза.
// Моделирует зависшего потребителя.
type GatedSink struct {
	*CollectSink
	gate    chan struct{}
	once    sync.Once
	entered atomic.Int64
}

// NewGatedSink создает ветку с закрытым шлюзом
func NewGatedSink(name string) *GatedSink {
	s := &GatedSink{
		CollectSink: NewCollectSink(name),
		gate:        make(chan struct{}),
	}
	s.chain = func(graph.MediaKind, *graph.Buffer) error {
		s.entered.Add(1)
		<-s.gate
		return nil
	}
	return s
}

// Open открывает шлюз
func (s *GatedSink) Open() {
	s.once.Do(func() { close(s.gate) })
}

// Entered возвращает количество вызовов Chain, вошедших в шлюз
func (s *GatedSink) Entered() int { return int(s.entered.Load()) }

// FiniteSink ветка, которая сама завершает поток после limit буферов,
// как запись с ограничением длительности
type FiniteSink struct {
	*CollectSink
	limit    int64
	received atomic.Int64
}

// NewFiniteSink создает ветку, публикующую EOS после limit буферов
func NewFiniteSink(name string, limit int) *FiniteSink {
	s := &FiniteSink{
		CollectSink: NewCollectSink(name),
		limit:       int64(limit),
	}
	s.chain = func(graph.MediaKind, *graph.Buffer) error {
		if s.received.Add(1) != s.limit {
			return nil
		}
		s.mu.Lock()
		host := s.host
		s.mu.Unlock()
		if host != nil {
			host.Post(graph.NewEOSMessage(s.name))
		}
		return nil
	}
	return s
}
