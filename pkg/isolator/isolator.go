// Package isolator запускает граф ветки публикации в собственном домене
// исполнения.
//
// Ветка (запись в файл, отправка в сеть) менее надежна, чем общий граф
// захвата и кодирования: диск заполняется, сеть пропадает. Изолятор
// отделяет ее очередями моста, поэтому остановка потребителя ветки не
// создает обратного давления на сплиттеры, питающие соседние ветки, а ошибки
// внутри ветки превращаются в события BranchError и BranchFinished.
//
//	внешний домен             │  домен изолятора
//	audio_sink ─► BridgeSink ═╪═► BridgeSource ─► child.audio_sink
//	video_sink ─► BridgeSink ═╪═► BridgeSource ─► child.video_sink
package isolator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/live_publish/pkg/graph"
)

// Isolator реализует graph.Element и graph.EventSource
type Isolator struct {
	name   string
	config *Config
	logger *slog.Logger

	sinks   map[graph.MediaKind]*graph.BridgeSink
	sources map[graph.MediaKind]*graph.BridgeSource

	mu          sync.Mutex
	child       graph.Element
	domain      *graph.Domain
	removeWatch func()
	started     bool
	stopped     bool

	handlersMu sync.RWMutex
	handlers   map[uint64]func(graph.BranchEvent)
	nextID     uint64

	errorReported  atomic.Bool
	finishReported atomic.Bool
}

// New создает изолятор. Дочерний граф задается через SetChild до запуска.
func New(name string, config *Config) (*Isolator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, graph.WrapGraphError(graph.ErrorCodeElementInvalid, name, err, "невалидная конфигурация изолятора")
	}
	cfg := config.Copy()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	iso := &Isolator{
		name:     name,
		config:   cfg,
		logger:   logger.With(slog.String("component", "isolator"), slog.String("branch", name)),
		sinks:    make(map[graph.MediaKind]*graph.BridgeSink, 2),
		sources:  make(map[graph.MediaKind]*graph.BridgeSource, 2),
		handlers: make(map[uint64]func(graph.BranchEvent)),
	}

	for _, kind := range graph.Kinds() {
		sink, src := graph.NewBridge(kind.PadName(), kind, cfg.Bridge)
		iso.sinks[kind] = sink
		iso.sources[kind] = src
	}

	return iso, nil
}

// Name возвращает имя изолятора, под которым он сообщает о событиях
func (i *Isolator) Name() string {
	return i.name
}

// SetChild задает граф ветки, который будет работать в изолированном домене.
// Должен вызываться до Start.
func (i *Isolator) SetChild(child graph.Element) error {
	if err := graph.ValidateBranch(child); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.started || i.stopped {
		return graph.NewGraphError(graph.ErrorCodeElementAlreadyStarted, i.name,
			"дочерний граф нельзя заменить после запуска")
	}
	i.child = child
	return nil
}

// Child возвращает дочерний граф
func (i *Isolator) Child() graph.Element {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.child
}

// SinkPad возвращает внешний порт моста для вида медиа
func (i *Isolator) SinkPad(kind graph.MediaKind) graph.SinkPad {
	sink, ok := i.sinks[kind]
	if !ok {
		return nil
	}
	return sink
}

// Stats возвращает статистику мостов по видам медиа
func (i *Isolator) Stats() map[graph.MediaKind]graph.BridgeStats {
	stats := make(map[graph.MediaKind]graph.BridgeStats, len(i.sinks))
	for kind, sink := range i.sinks {
		stats[kind] = sink.Stats()
	}
	return stats
}

// Subscribe регистрирует обработчик событий ветки.
// Обработчик вызывается с горутины шины изолированного домена.
func (i *Isolator) Subscribe(handler func(graph.BranchEvent)) (cancel func()) {
	i.handlersMu.Lock()
	id := i.nextID
	i.nextID++
	i.handlers[id] = handler
	i.handlersMu.Unlock()

	return func() {
		i.handlersMu.Lock()
		delete(i.handlers, id)
		i.handlersMu.Unlock()
	}
}

// Start создает изолированный домен, добавляет в него дочерний граф,
// выравнивает base time по родителю, связывает мосты с портами дочернего
// графа и запускает домен.
func (i *Isolator) Start(ctx context.Context, host graph.Host) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.child == nil {
		return graph.NewGraphError(graph.ErrorCodeElementNoChild, i.name, "дочерний граф не задан")
	}
	if i.started || i.stopped {
		return graph.NewGraphError(graph.ErrorCodeElementAlreadyStarted, i.name, "изолятор уже запускался")
	}

	domain := graph.NewDomain(host.Name()+"/"+i.name, i.logger)
	domain.SetBaseTime(host.BaseTime())

	if err := domain.Add(i.child); err != nil {
		_ = domain.Stop()
		return err
	}
	if err := domain.Add(&bridgeRunner{iso: i, child: i.child}); err != nil {
		_ = domain.Stop()
		return err
	}

	removeWatch := domain.Bus().AddWatch(i.handleMessage)

	if err := domain.Start(ctx); err != nil {
		removeWatch()
		_ = domain.Stop()
		return graph.WrapGraphError(graph.ErrorCodeElementStartFailed, i.name, err, "не удалось запустить изолированный домен")
	}

	i.domain = domain
	i.removeWatch = removeWatch
	i.started = true

	i.logger.Info("Изолированный домен запущен",
		slog.String("child", i.child.Name()),
		slog.Time("base_time", domain.BaseTime()))
	return nil
}

// Stop дожидается, пока поставленный в мост EOS дойдет до дочернего графа
// (не дольше DrainTimeout), затем полностью останавливает изолированный
// домен. После возврата дочерний граф освободил свои ресурсы.
func (i *Isolator) Stop() error {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return nil
	}
	i.stopped = true
	started := i.started
	domain := i.domain
	removeWatch := i.removeWatch
	i.mu.Unlock()

	if !started {
		for _, sink := range i.sinks {
			sink.Close()
		}
		return nil
	}

	if !i.drain() {
		i.logger.Warn("Мост не опустел за отведенное время, домен останавливается принудительно",
			slog.Duration("timeout", i.config.DrainTimeout))
	}

	for _, sink := range i.sinks {
		sink.Close()
	}

	err := domain.Stop()
	removeWatch()

	if err != nil {
		i.logger.Error("Ошибка остановки изолированного домена", slog.String("error", err.Error()))
		return graph.WrapGraphError(graph.ErrorCodeElementStopFailed, i.name, err, "не удалось остановить изолированный домен")
	}

	i.logger.Info("Изолированный домен остановлен")
	return nil
}

func (i *Isolator) drain() bool {
	timer := time.NewTimer(i.config.DrainTimeout)
	defer timer.Stop()

	for _, src := range i.sources {
		select {
		case <-src.Done():
		case <-timer.C:
			return false
		}
	}
	return true
}

// handleMessage переводит сообщения шины изолированного домена в события
// ветки. Сообщается только первая ошибка; завершение после ошибки не
// сообщается.
func (i *Isolator) handleMessage(msg graph.Message) {
	switch msg.Type {
	case graph.MessageError:
		if !i.errorReported.CompareAndSwap(false, true) {
			i.logger.Debug("Повторная ошибка ветки подавлена", slog.String("message", msg.String()))
			return
		}
		text := "неизвестная ошибка"
		if msg.Err != nil {
			text = msg.Err.Error()
		}
		i.logger.Warn("Ошибка ветки",
			slog.String("source", msg.Source),
			slog.String("error", text))
		i.emit(graph.BranchError{Branch: i.name, Message: text})

	case graph.MessageEOS:
		if i.errorReported.Load() || !i.finishReported.CompareAndSwap(false, true) {
			return
		}
		i.logger.Info("Ветка завершила поток", slog.String("source", msg.Source))
		i.emit(graph.BranchFinished{Branch: i.name})

	case graph.MessageWarning:
		if msg.Err != nil {
			i.logger.Warn("Предупреждение ветки",
				slog.String("source", msg.Source),
				slog.String("warning", msg.Err.Error()))
		}
	}
}

func (i *Isolator) emit(ev graph.BranchEvent) {
	i.handlersMu.RLock()
	handlers := make([]func(graph.BranchEvent), 0, len(i.handlers))
	for _, h := range i.handlers {
		handlers = append(handlers, h)
	}
	i.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// bridgeRunner запускает потребителей моста рабочими горутинами
// изолированного домена
type bridgeRunner struct {
	iso   *Isolator
	child graph.Element
}

func (r *bridgeRunner) Name() string                         { return "bridge" }
func (r *bridgeRunner) SinkPad(graph.MediaKind) graph.SinkPad { return nil }

func (r *bridgeRunner) Start(_ context.Context, host graph.Host) error {
	for _, kind := range graph.Kinds() {
		src := r.iso.sources[kind]
		peer := r.child.SinkPad(kind)
		childName := r.child.Name()

		host.Go(func(ctx context.Context) {
			err := src.Run(ctx, peer, func(err error) {
				host.Post(graph.NewErrorMessage(childName, err))
			})
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, graph.ErrFlushing) {
				host.Logger().Warn("Мост остановлен с ошибкой",
					slog.String("bridge", src.Name()),
					slog.String("error", err.Error()))
			}
		})
	}
	return nil
}

func (r *bridgeRunner) Stop() error { return nil }
