// Package fanout реализует узел размножения медиа потоков на динамический
// набор веток публикации.
//
// Узел принимает аудио и видео на двух входных портах и дублирует их в
// каждую подключенную ветку. Ветки подключаются и отключаются на работающем
// графе без остановки остальных веток и источника:
//
//	Attach: ветка регистрируется, запускается вместе с узлом, оба сплиттера
//	        получают по новому соединению к портам ветки. Любая ошибка
//	        откатывает все частичные изменения.
//	Detach: на каждом соединении ставится блокирующая точка перехвата, после
//	        остановки передачи в ветку отправляется EOS, соединение
//	        отсоединяется, точка снимается. Когда оба соединения остановлены,
//	        удаление ветки ставится в очередь отложенных операций.
//
// Удаление ветки никогда не выполняется в потоке данных или внутри
// обработчика уведомления самой ветки.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/live_publish/pkg/graph"
)

type opKind int

const (
	opDetach    opKind = iota + 1 // отключение по событию ветки
	opQuiescent                   // оба соединения ветки остановлены
)

type deferredOp struct {
	kind   opKind
	branch *branch
	reason string
}

// Fanout узел размножения. Реализует graph.Element и graph.EventSource.
type Fanout struct {
	name      string
	config    *Config
	logger    *slog.Logger
	metrics   *Metrics
	splitters map[graph.MediaKind]*graph.Splitter

	// mu сериализует структурные изменения набора веток.
	// Поток данных его не захватывает.
	mu       sync.Mutex
	branches map[graph.Element]*branch
	host     graph.Host
	ctx      context.Context
	running  bool
	stopping bool
	closed   bool
	removals sync.WaitGroup

	deferred *graph.DeferredQueue[deferredOp]
	notify   *graph.DeferredQueue[func()]

	handlersMu    sync.RWMutex
	handlers      map[uint64]func(graph.BranchEvent)
	nextHandlerID uint64
	stateHandler  func(StateChange)
}

// New создает узел размножения
func New(name string, config *Config) (*Fanout, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("невалидная конфигурация fanout: %w", err)
	}
	cfg := config.Copy()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "fanout"), slog.String("fanout", name))

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	f := &Fanout{
		name:      name,
		config:    cfg,
		logger:    logger,
		metrics:   newMetrics(reg, cfg.Namespace, cfg.Subsystem),
		splitters: make(map[graph.MediaKind]*graph.Splitter, 2),
		branches:  make(map[graph.Element]*branch),
		handlers:  make(map[uint64]func(graph.BranchEvent)),
	}
	for _, kind := range graph.Kinds() {
		f.splitters[kind] = graph.NewSplitter(name+"/"+kind.String(), kind, logger)
	}
	f.deferred = graph.NewDeferredQueue(f.handleDeferred)
	f.notify = graph.NewDeferredQueue(func(fn func()) { fn() })

	return f, nil
}

func (f *Fanout) Name() string { return f.name }

// SinkPad возвращает входной порт узла: сплиттер данного вида медиа
func (f *Fanout) SinkPad(kind graph.MediaKind) graph.SinkPad {
	s, ok := f.splitters[kind]
	if !ok {
		return nil
	}
	return s
}

// Metrics возвращает метрики узла
func (f *Fanout) Metrics() *Metrics {
	return f.metrics
}

// Subscribe регистрирует обработчик событий веток. События доставляются
// по порядку с отдельной горутины узла.
func (f *Fanout) Subscribe(handler func(graph.BranchEvent)) (cancel func()) {
	f.handlersMu.Lock()
	id := f.nextHandlerID
	f.nextHandlerID++
	f.handlers[id] = handler
	f.handlersMu.Unlock()

	return func() {
		f.handlersMu.Lock()
		delete(f.handlers, id)
		f.handlersMu.Unlock()
	}
}

// SetStateChangeHandler устанавливает обработчик смены состояния веток
func (f *Fanout) SetStateChangeHandler(handler func(StateChange)) {
	f.handlersMu.Lock()
	f.stateHandler = handler
	f.handlersMu.Unlock()
}

// Attach подключает ветку к работающему или остановленному узлу.
//
// Ветка должна иметь порты audio_sink и video_sink и не быть подключенной.
// Если ветку не удалось подключить полностью, все изменения откатываются и
// возвращается false. Данные, прошедшие через узел до подключения, ветка не
// получает.
func (f *Fanout) Attach(el graph.Element) bool {
	if err := graph.ValidateBranch(el); err != nil {
		f.logger.Warn("Ветка не соответствует контракту", slog.String("error", err.Error()))
		f.metrics.AttachFailures.Inc()
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.stopping {
		f.logger.Warn("Подключение к останавливаемому узлу отклонено", slog.String("branch", el.Name()))
		f.metrics.AttachFailures.Inc()
		return false
	}
	if existing, ok := f.branches[el]; ok {
		f.logger.Warn("Ветка уже подключена",
			slog.String("branch", el.Name()),
			slog.String("id", existing.id),
			slog.String("state", existing.state().String()))
		return false
	}

	b := f.newBranch(el)
	if err := b.machine.Event(context.Background(), eventAttach); err != nil {
		f.logger.Error("Ошибка автомата ветки", slog.String("error", err.Error()))
		f.metrics.AttachFailures.Inc()
		return false
	}
	f.branches[el] = b

	if err := f.wireLocked(b); err != nil {
		f.logger.Warn("Не удалось подключить ветку, изменения откатываются",
			slog.String("branch", el.Name()),
			slog.String("id", b.id),
			slog.String("error", err.Error()))
		f.rollbackLocked(b)
		f.metrics.AttachFailures.Inc()
		return false
	}

	if err := b.machine.Event(context.Background(), eventActivate); err != nil {
		f.logger.Error("Ошибка автомата ветки", slog.String("error", err.Error()))
		f.rollbackLocked(b)
		f.metrics.AttachFailures.Inc()
		return false
	}

	b.attachedAt = time.Now()
	f.metrics.BranchesAttached.Inc()
	f.metrics.BranchesActive.Inc()

	f.logger.Info("Ветка подключена",
		slog.String("branch", el.Name()),
		slog.String("id", b.id),
		slog.Bool("running", f.running))
	return true
}

func (f *Fanout) newBranch(el graph.Element) *branch {
	b := newBranch(el)
	b.machine = newBranchFSM(func(from, to BranchState) {
		f.onStateChange(b, from, to)
	})
	return b
}

// wireLocked подписывается на события ветки, запускает ее, если узел
// работает, и создает пару соединений
func (f *Fanout) wireLocked(b *branch) error {
	if src, ok := b.element.(graph.EventSource); ok {
		b.unsubscribe = src.Subscribe(func(ev graph.BranchEvent) {
			f.onBranchEvent(b, ev)
		})
	}

	if f.running {
		if err := f.startBranchLocked(b); err != nil {
			return err
		}
	}

	for _, kind := range graph.Kinds() {
		c, err := f.splitters[kind].Link(b.element.SinkPad(kind))
		if err != nil {
			return graph.WrapGraphError(graph.ErrorCodeLinkFailed, b.element.Name(), err,
				"не удалось связать порт %s", kind.PadName())
		}
		b.conns[kind] = c
	}
	return nil
}

func (f *Fanout) startBranchLocked(b *branch) error {
	b.host = newBranchHost(f.ctx, f.host, b.element.Name(), func(msg graph.Message) {
		f.onBranchMessage(b, msg)
	})
	if err := b.element.Start(b.host.ctx, b.host); err != nil {
		b.host.close()
		b.host = nil
		return graph.WrapGraphError(graph.ErrorCodeElementStartFailed, b.element.Name(), err,
			"не удалось запустить ветку")
	}
	b.started = true
	return nil
}

// rollbackLocked возвращает узел в состояние до Attach
func (f *Fanout) rollbackLocked(b *branch) {
	// Откаченная ветка не сообщает о своем завершении
	b.errorReported.Store(true)
	b.finishReported.Store(true)

	for kind, c := range b.conns {
		if err := f.splitters[kind].Unlink(c); err != nil {
			f.logger.Debug("Откат соединения", slog.String("error", err.Error()))
		}
		delete(b.conns, kind)
	}
	if b.started {
		for _, kind := range graph.Kinds() {
			_ = b.element.SinkPad(kind).SendEvent(graph.NewEOSEvent())
		}
	}
	f.releaseBranch(b, false)
	delete(f.branches, b.element)

	if err := b.machine.Event(context.Background(), eventRollback); err != nil {
		f.logger.Error("Ошибка автомата ветки", slog.String("error", err.Error()))
	}
}

// releaseBranch полностью останавливает ветку и освобождает ее хост.
// При удалении источник событий (изолятор) останавливается, даже если не
// был запущен, чтобы закрыть свои мосты. Откат Attach его не трогает.
func (f *Fanout) releaseBranch(b *branch, removing bool) {
	_, isSource := b.element.(graph.EventSource)
	if b.started || (removing && isSource) {
		if err := b.element.Stop(); err != nil {
			f.logger.Warn("Ошибка остановки ветки",
				slog.String("branch", b.element.Name()),
				slog.String("error", err.Error()))
		}
		b.started = false
	}
	if b.host != nil {
		b.host.close()
	}
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
}

// Detach запускает безопасное отключение ветки и возвращает true, как только
// отключение начато. Завершение асинхронное. Для неизвестной или уже
// отключаемой ветки возвращает false и ничего не делает.
func (f *Fanout) Detach(el graph.Element) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.branches[el]
	if !ok {
		return false
	}
	return f.beginTeardownLocked(b, ReasonOperator)
}

func (f *Fanout) beginTeardownLocked(b *branch, reason string) bool {
	if b.state() != StateActive {
		return false
	}
	if err := b.machine.Event(context.Background(), eventDetach); err != nil {
		f.logger.Error("Ошибка автомата ветки", slog.String("error", err.Error()))
		return false
	}

	b.reason = reason
	b.detachStarted = time.Now()
	f.removals.Add(1)
	f.metrics.Detaches.WithLabelValues(reason).Inc()
	f.metrics.BranchesActive.Dec()

	f.logger.Info("Отключение ветки",
		slog.String("branch", b.element.Name()),
		slog.String("id", b.id),
		slog.String("reason", reason))

	b.pending.Store(int32(len(b.conns)))
	if len(b.conns) == 0 {
		b.pending.Store(1)
		f.connectionDone(b)
		return true
	}
	for kind, c := range b.conns {
		kind := kind
		err := c.Block(func(c *graph.Connection) {
			f.quiesceConnection(b, kind, c)
		})
		if err != nil {
			f.logger.Warn("Не удалось установить точку перехвата",
				slog.String("branch", b.element.Name()),
				slog.String("kind", kind.String()),
				slog.String("error", err.Error()))
			f.connectionDone(b)
		}
	}
	return true
}

// quiesceConnection выполняется, когда передача по соединению остановлена:
// в ветку отправляется EOS, соединение отсоединяется, точка перехвата
// снимается
func (f *Fanout) quiesceConnection(b *branch, kind graph.MediaKind, c *graph.Connection) {
	if err := c.PushEvent(graph.NewEOSEvent()); err != nil {
		f.logger.Debug("EOS не доставлен в ветку",
			slog.String("branch", b.element.Name()),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()))
	}
	if err := c.Splitter().Unlink(c); err != nil && !errors.Is(err, graph.ErrNotLinked) {
		f.logger.Warn("Ошибка отсоединения",
			slog.String("branch", b.element.Name()),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()))
	}
	c.Release()

	f.logger.Debug("Соединение остановлено",
		slog.String("branch", b.element.Name()),
		slog.String("kind", kind.String()))
	f.connectionDone(b)
}

func (f *Fanout) connectionDone(b *branch) {
	if b.pending.Add(-1) != 0 {
		return
	}
	if !f.deferred.Post(deferredOp{kind: opQuiescent, branch: b}) {
		f.logger.Error("Очередь отложенных операций закрыта, ветка не будет удалена",
			slog.String("branch", b.element.Name()))
	}
}

func (f *Fanout) handleDeferred(op deferredOp) {
	switch op.kind {
	case opDetach:
		f.mu.Lock()
		if f.branches[op.branch.element] == op.branch {
			f.beginTeardownLocked(op.branch, op.reason)
		}
		f.mu.Unlock()

	case opQuiescent:
		f.removeBranch(op.branch)
	}
}

// removeBranch удаляет ветку, оба соединения которой остановлены.
// Выполняется только горутиной отложенных операций.
func (f *Fanout) removeBranch(b *branch) {
	f.mu.Lock()
	if err := b.machine.Event(context.Background(), eventQuiesce); err != nil {
		f.logger.Error("Ошибка автомата ветки", slog.String("error", err.Error()))
	}
	f.mu.Unlock()

	// Остановка ветки может ждать, пока EOS пройдет через ее очереди,
	// поэтому выполняется без блокировки узла
	f.releaseBranch(b, true)

	f.mu.Lock()
	if f.branches[b.element] == b {
		delete(f.branches, b.element)
	}
	if err := b.machine.Event(context.Background(), eventRemove); err != nil {
		f.logger.Error("Ошибка автомата ветки", slog.String("error", err.Error()))
	}
	f.mu.Unlock()

	elapsed := time.Since(b.detachStarted)
	f.metrics.TeardownDuration.Observe(elapsed.Seconds())
	f.logger.Info("Ветка удалена",
		slog.String("branch", b.element.Name()),
		slog.String("id", b.id),
		slog.String("reason", b.reason),
		slog.Duration("teardown", elapsed))

	f.removals.Done()
}

// onBranchMessage обрабатывает сообщения ветки без собственного источника
// событий
func (f *Fanout) onBranchMessage(b *branch, msg graph.Message) {
	switch msg.Type {
	case graph.MessageError:
		text := "неизвестная ошибка"
		if msg.Err != nil {
			text = msg.Err.Error()
		}
		f.onBranchEvent(b, graph.BranchError{Branch: b.element.Name(), Message: text})
	case graph.MessageEOS:
		f.onBranchEvent(b, graph.BranchFinished{Branch: b.element.Name()})
	}
}

// onBranchEvent может вызываться из потока данных или с шины ветки,
// поэтому только ставит отключение в очередь
func (f *Fanout) onBranchEvent(b *branch, ev graph.BranchEvent) {
	if !b.latch(ev) {
		return
	}

	reason := ReasonFinished
	if e, ok := ev.(graph.BranchError); ok {
		reason = ReasonError
		f.metrics.BranchErrors.Inc()
		f.logger.Warn("Ошибка ветки",
			slog.String("branch", b.element.Name()),
			slog.String("id", b.id),
			slog.String("error", e.Message))
	} else {
		f.logger.Info("Ветка завершила поток",
			slog.String("branch", b.element.Name()),
			slog.String("id", b.id))
	}

	f.emit(ev)
	f.deferred.Post(deferredOp{kind: opDetach, branch: b, reason: reason})
}

func (f *Fanout) emit(ev graph.BranchEvent) {
	f.notify.Post(func() {
		f.handlersMu.RLock()
		handlers := make([]func(graph.BranchEvent), 0, len(f.handlers))
		for _, h := range f.handlers {
			handlers = append(handlers, h)
		}
		f.handlersMu.RUnlock()

		for _, h := range handlers {
			h(ev)
		}
	})
}

func (f *Fanout) onStateChange(b *branch, from, to BranchState) {
	change := StateChange{
		BranchID: b.id,
		Branch:   b.element.Name(),
		From:     from,
		To:       to,
	}
	f.logger.Debug("Смена состояния ветки",
		slog.String("branch", change.Branch),
		slog.String("id", change.BranchID),
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	f.notify.Post(func() {
		f.handlersMu.RLock()
		handler := f.stateHandler
		f.handlersMu.RUnlock()
		if handler != nil {
			handler(change)
		}
	})
}

// Start запускает узел и все подключенные ветки.
// Ветка, которую не удалось запустить, сообщает об ошибке и отключается.
func (f *Fanout) Start(ctx context.Context, host graph.Host) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return graph.NewGraphError(graph.ErrorCodeElementInvalid, f.name, "узел закрыт")
	}
	if f.running {
		return graph.NewGraphError(graph.ErrorCodeElementAlreadyStarted, f.name, "узел уже запущен")
	}

	f.host = host
	f.ctx = ctx
	f.running = true

	for _, b := range f.branches {
		if b.started || b.state() != StateActive {
			continue
		}
		if err := f.startBranchLocked(b); err != nil {
			f.logger.Warn("Не удалось запустить ветку",
				slog.String("branch", b.element.Name()),
				slog.String("error", err.Error()))
			if b.latch(graph.BranchError{}) {
				f.metrics.BranchErrors.Inc()
				f.emit(graph.BranchError{Branch: b.element.Name(), Message: err.Error()})
			}
			f.beginTeardownLocked(b, ReasonError)
		}
	}

	f.logger.Info("Узел запущен", slog.Int("branches", len(f.branches)))
	return nil
}

// Stop отключает все ветки через EOS и дожидается их удаления,
// но не дольше ShutdownTimeout
func (f *Fanout) Stop() error {
	f.mu.Lock()
	f.running = false
	f.stopping = true
	for _, b := range f.branches {
		f.beginTeardownLocked(b, ReasonShutdown)
	}
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.removals.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(f.config.ShutdownTimeout):
		err = fmt.Errorf("fanout %s: ветки не удалены за %s: %d осталось",
			f.name, f.config.ShutdownTimeout, f.BranchCount())
		f.logger.Error("Остановка узла прервана по таймауту", slog.String("error", err.Error()))
	}

	f.mu.Lock()
	f.stopping = false
	f.mu.Unlock()

	f.logger.Info("Узел остановлен")
	return err
}

// Close останавливает узел и его очереди. После Close узел нельзя
// использовать. Нельзя вызывать из обработчиков событий узла.
func (f *Fanout) Close() error {
	err := f.Stop()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return err
	}
	f.closed = true
	f.mu.Unlock()

	f.deferred.Close()
	f.notify.Close()
	return err
}

// BranchState возвращает состояние ветки. false, если ветка не подключена
// или уже удалена.
func (f *Fanout) BranchState(el graph.Element) (BranchState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.branches[el]
	if !ok {
		return StateRemoved, false
	}
	return b.state(), true
}

// Branches возвращает снимок всех веток узла
func (f *Fanout) Branches() []BranchInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]BranchInfo, 0, len(f.branches))
	for _, b := range f.branches {
		out = append(out, b.info())
	}
	return out
}

// BranchCount возвращает количество веток, включая отключаемые
func (f *Fanout) BranchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.branches)
}

// IsRunning проверяет, запущен ли узел
func (f *Fanout) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
