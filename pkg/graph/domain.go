package graph

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Domain независимый контекст исполнения: свой base time, своя шина
// сообщений и своя группа рабочих горутин.
//
// Домен однократного использования: после Stop его нельзя запустить снова.
type Domain struct {
	name   string
	logger *slog.Logger
	bus    *Bus

	mu       sync.Mutex
	elements []Element
	started  []Element
	running  bool
	stopped  bool

	// timeMu отдельно от mu: элементы читают BaseTime из Start,
	// который вызывается под mu
	timeMu   sync.RWMutex
	baseTime time.Time

	run atomic.Pointer[domainRun]
	wg  sync.WaitGroup
}

type domainRun struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDomain создает домен исполнения
func NewDomain(name string, logger *slog.Logger) *Domain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Domain{
		name:   name,
		logger: logger.With(slog.String("domain", name)),
		bus:    NewBus(name),
	}
}

// Name возвращает имя домена
func (d *Domain) Name() string {
	return d.name
}

// Bus возвращает шину сообщений домена
func (d *Domain) Bus() *Bus {
	return d.bus
}

// Logger возвращает логгер домена
func (d *Domain) Logger() *slog.Logger {
	return d.logger
}

// BaseTime возвращает опорное время домена
func (d *Domain) BaseTime() time.Time {
	d.timeMu.RLock()
	defer d.timeMu.RUnlock()
	return d.baseTime
}

// SetBaseTime задает опорное время домена. Используется для выравнивания
// времени вложенного домена по родительскому.
func (d *Domain) SetBaseTime(t time.Time) {
	d.timeMu.Lock()
	d.baseTime = t
	d.timeMu.Unlock()
}

// IsRunning проверяет, запущен ли домен
func (d *Domain) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Add добавляет элемент в домен. Если домен уже запущен, элемент сразу
// запускается вместе с ним.
func (d *Domain) Add(el Element) error {
	if el == nil {
		return NewGraphError(ErrorCodeElementInvalid, "", "элемент не может быть nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, cur := range d.elements {
		if cur == el {
			return NewGraphError(ErrorCodeElementInvalid, el.Name(), "элемент уже добавлен в домен %s", d.name)
		}
	}

	if d.running {
		rs := d.run.Load()
		if err := el.Start(rs.ctx, d); err != nil {
			return WrapGraphError(ErrorCodeElementStartFailed, el.Name(), err, "не удалось запустить элемент")
		}
		d.started = append(d.started, el)
	}

	d.elements = append(d.elements, el)
	return nil
}

// Remove останавливает элемент, если он запущен, и удаляет его из домена
func (d *Domain) Remove(el Element) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := -1
	for i, cur := range d.elements {
		if cur == el {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NewGraphError(ErrorCodeElementInvalid, el.Name(), "элемент не принадлежит домену %s", d.name)
	}
	d.elements = append(d.elements[:idx], d.elements[idx+1:]...)

	for i, cur := range d.started {
		if cur == el {
			d.started = append(d.started[:i], d.started[i+1:]...)
			if err := el.Stop(); err != nil {
				return WrapGraphError(ErrorCodeElementStopFailed, el.Name(), err, "не удалось остановить элемент")
			}
			break
		}
	}
	return nil
}

// Start запускает домен и все его элементы в порядке добавления.
// При ошибке уже запущенные элементы останавливаются.
func (d *Domain) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running || d.stopped {
		return NewGraphError(ErrorCodeDomainAlreadyRunning, d.name, "домен уже запускался")
	}

	d.timeMu.Lock()
	if d.baseTime.IsZero() {
		d.baseTime = time.Now()
	}
	d.timeMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	d.run.Store(&domainRun{ctx: runCtx, cancel: cancel})

	for _, el := range d.elements {
		if err := el.Start(runCtx, d); err != nil {
			d.logger.Error("Ошибка запуска элемента",
				slog.String("element", el.Name()),
				slog.String("error", err.Error()))
			_ = d.stopLocked()
			return WrapGraphError(ErrorCodeElementStartFailed, el.Name(), err, "не удалось запустить домен %s", d.name)
		}
		d.started = append(d.started, el)
	}

	d.running = true
	d.logger.Debug("Домен запущен", slog.Int("elements", len(d.elements)))
	return nil
}

// Stop полностью останавливает домен: отменяет рабочие горутины, дожидается
// их завершения, останавливает элементы в обратном порядке и доставляет
// оставшиеся сообщения шины.
//
// Нельзя вызывать из рабочей горутины или наблюдателя шины этого домена.
func (d *Domain) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.bus.Close()
		return nil
	}
	err := d.stopLocked()
	d.mu.Unlock()

	d.bus.Close()
	return err
}

func (d *Domain) stopLocked() error {
	d.stopped = true
	d.running = false

	if rs := d.run.Load(); rs != nil {
		rs.cancel()
	}
	d.wg.Wait()

	var errs []error
	for i := len(d.started) - 1; i >= 0; i-- {
		el := d.started[i]
		if err := el.Stop(); err != nil {
			d.logger.Error("Ошибка остановки элемента",
				slog.String("element", el.Name()),
				slog.String("error", err.Error()))
			errs = append(errs, WrapGraphError(ErrorCodeElementStopFailed, el.Name(), err, "не удалось остановить элемент"))
		}
	}
	d.started = nil

	d.logger.Debug("Домен остановлен")
	return errors.Join(errs...)
}

// Post публикует сообщение на шину домена
func (d *Domain) Post(msg Message) {
	if !d.bus.Post(msg) {
		d.logger.Debug("Сообщение после остановки домена отброшено", slog.String("message", msg.String()))
	}
}

// Go запускает рабочую горутину домена. Горутина получает контекст,
// отменяемый при Stop. Вне запущенного домена вызов игнорируется.
func (d *Domain) Go(fn func(ctx context.Context)) {
	rs := d.run.Load()
	if rs == nil || rs.ctx.Err() != nil {
		d.logger.Warn("Рабочая горутина вне запущенного домена не запущена")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(rs.ctx)
	}()
}
