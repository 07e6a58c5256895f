package graphtest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arzzra/live_publish/pkg/graph"
)

// Host реализация graph.Host для тестов элементов вне домена.
// Сообщения запоминаются, рабочие горутины живут до Close.
type Host struct {
	name     string
	baseTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	messages []graph.Message
}

// NewHost создает тестовый хост
func NewHost(name string) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		name:     name,
		baseTime: time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (h *Host) Name() string         { return h.name }
func (h *Host) BaseTime() time.Time  { return h.baseTime }
func (h *Host) Logger() *slog.Logger { return slog.Default() }

func (h *Host) Post(msg graph.Message) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
}

func (h *Host) Go(fn func(ctx context.Context)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn(h.ctx)
	}()
}

// Messages возвращает копию опубликованных сообщений
func (h *Host) Messages() []graph.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]graph.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Count возвращает количество сообщений заданного типа
func (h *Host) Count(t graph.MessageType) int {
	n := 0
	for _, m := range h.Messages() {
		if m.Type == t {
			n++
		}
	}
	return n
}

// Close отменяет контекст рабочих горутин и дожидается их завершения
func (h *Host) Close() {
	h.cancel()
	h.wg.Wait()
}
